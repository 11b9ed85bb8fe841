// Package pipeline provides the typed, bounded-channel producer/consumer
// stage framework used to wire the sequencer's command-to-block-output
// flow. A pipeline is a linear chain of Stage[In, Out] values connected
// through Connect on a shared Builder, each running in its own goroutine under a
// shared errgroup so that any stage's failure cancels the whole chain.
package pipeline
