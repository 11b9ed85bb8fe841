package commitbatch

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrDuplicatedSignature is returned by BatchSignatureSet.Push when the
// signer has already contributed a validated signature to the set.
var ErrDuplicatedSignature = errors.New("duplicated signature")

// BatchSignature is a 65-byte secp256k1 signature over the ABI-encoded
// CommitBatchInfo ([R || S || V], V in {0,1}).
type BatchSignature [65]byte

// Recover recovers the signer address for sig over the ABI encoding of info.
// Signature recovery goes through decred's secp256k1 implementation rather
// than go-ethereum's cgo-gated crypto.Ecrecover, so the verifier works the
// same way on every build (no libsecp256k1 C dependency required).
func (sig BatchSignature) Recover(info CommitBatchInfo) (common.Address, error) {
	data, err := info.Encode()
	if err != nil {
		return common.Address{}, fmt.Errorf("encode commit batch info: %w", err)
	}
	hash := crypto.Keccak256(data)

	// secp256k1.RecoverCompact expects [recovery_id(+27) || R || S].
	compact := make([]byte, 65)
	compact[0] = sig[64] + 27
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return pubkeyToAddress(pub), nil
}

// Sign produces a BatchSignature over the ABI encoding of info using key.
func Sign(info CommitBatchInfo, key *secp256k1.PrivateKey) (BatchSignature, error) {
	data, err := info.Encode()
	if err != nil {
		return BatchSignature{}, fmt.Errorf("encode commit batch info: %w", err)
	}
	hash := crypto.Keccak256(data)

	compact := ecdsa.SignCompact(key, hash, false)
	if len(compact) != 65 {
		return BatchSignature{}, fmt.Errorf("sign commit batch info: unexpected signature length %d", len(compact))
	}
	var sig BatchSignature
	copy(sig[:64], compact[1:])
	sig[64] = compact[0] - 27
	return sig, nil
}

// pubkeyToAddress derives the 20-byte Ethereum-style address for pub the
// same way crypto.PubkeyToAddress does: Keccak256 of the uncompressed
// public key (minus the leading 0x04 prefix byte), low 20 bytes.
func pubkeyToAddress(pub *secp256k1.PublicKey) common.Address {
	raw := pub.SerializeUncompressed()
	return common.BytesToAddress(crypto.Keccak256(raw[1:])[12:])
}

// ValidatedBatchSignature pairs a signature with the signer address it was
// already recovered and allow-list-checked against. Equality and set
// membership are by Signer alone.
type ValidatedBatchSignature struct {
	Signature BatchSignature
	Signer    common.Address
}

// BatchSignatureSet is an ordered collection of ValidatedBatchSignature that
// rejects duplicate signers. The zero value is a valid empty set.
type BatchSignatureSet struct {
	entries []ValidatedBatchSignature
	signers map[common.Address]struct{}
}

// NewBatchSignatureSet returns an empty set.
func NewBatchSignatureSet() *BatchSignatureSet {
	return &BatchSignatureSet{signers: make(map[common.Address]struct{})}
}

// Push appends sig, returning ErrDuplicatedSignature if Signer is already present.
func (s *BatchSignatureSet) Push(sig ValidatedBatchSignature) error {
	if s.signers == nil {
		s.signers = make(map[common.Address]struct{})
	}
	if _, ok := s.signers[sig.Signer]; ok {
		return fmt.Errorf("%w: signer %s", ErrDuplicatedSignature, sig.Signer)
	}
	s.signers[sig.Signer] = struct{}{}
	s.entries = append(s.entries, sig)
	return nil
}

// Len returns the number of unique validated signatures collected so far.
func (s *BatchSignatureSet) Len() int {
	return len(s.entries)
}

// Entries returns the collected signatures in push order. The returned
// slice is owned by the caller; the set is not mutated.
func (s *BatchSignatureSet) Entries() []ValidatedBatchSignature {
	out := make([]ValidatedBatchSignature, len(s.entries))
	copy(out, s.entries)
	return out
}

// Contains reports whether signer already contributed a signature.
func (s *BatchSignatureSet) Contains(signer common.Address) bool {
	_, ok := s.signers[signer]
	return ok
}
