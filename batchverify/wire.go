// Package batchverify implements the batch-verification signature
// protocol: a main sequencer broadcasts verification requests to
// connected external-node signers over a length-prefixed TCP frame
// protocol and collects threshold-many validated signatures before a
// batch may proceed to L1. Frame payloads are RLP-encoded, with
// CommitBatchInfo kept in its canonical ABI encoding inside the
// envelope.
package batchverify

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/rollupnode/sequencer/commitbatch"
)

// WireFormatVersion is written once by the server, u32_be, before any
// frames.
const WireFormatVersion uint32 = 1

// ResponseTag discriminates a verification response's payload: success
// carries a 65-byte signature, refused a UTF-8 reason.
type ResponseTag uint8

const (
	TagSuccess ResponseTag = 0
	TagRefused ResponseTag = 1
)

// Request is broadcast from the main sequencer to connected signers
// asking them to validate and sign a batch.
type Request struct {
	BatchNumber      uint64
	FirstBlockNumber uint64
	LastBlockNumber  uint64
	RequestID        uint64
	CommitData       commitbatch.CommitBatchInfo
}

// wireRequest is Request's RLP-encodable shape: CommitData is flattened
// to its own ABI encoding rather than nested RLP, since
// CommitBatchInfo's canonical encoding is ABI, not RLP.
type wireRequest struct {
	BatchNumber      uint64
	FirstBlockNumber uint64
	LastBlockNumber  uint64
	RequestID        uint64
	CommitDataABI    []byte
}

func encodeRequest(req Request) ([]byte, error) {
	abiData, err := req.CommitData.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode commit data: %w", err)
	}
	return rlp.EncodeToBytes(wireRequest{
		BatchNumber:      req.BatchNumber,
		FirstBlockNumber: req.FirstBlockNumber,
		LastBlockNumber:  req.LastBlockNumber,
		RequestID:        req.RequestID,
		CommitDataABI:    abiData,
	})
}

func decodeRequest(data []byte) (Request, error) {
	var w wireRequest
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	commitData, err := commitbatch.DecodeCommitBatchInfo(w.CommitDataABI)
	if err != nil {
		return Request{}, fmt.Errorf("decode commit data: %w", err)
	}
	return Request{
		BatchNumber:      w.BatchNumber,
		FirstBlockNumber: w.FirstBlockNumber,
		LastBlockNumber:  w.LastBlockNumber,
		RequestID:        w.RequestID,
		CommitData:       commitData,
	}, nil
}

// Response is a signer's reply to a Request.
type Response struct {
	RequestID uint64
	Tag       ResponseTag
	Signature commitbatch.BatchSignature // set when Tag == TagSuccess
	Reason    string                     // set when Tag == TagRefused
}

type wireResponse struct {
	RequestID uint64
	Tag       uint8
	Data      []byte
}

func encodeResponse(resp Response) ([]byte, error) {
	w := wireResponse{RequestID: resp.RequestID, Tag: uint8(resp.Tag)}
	switch resp.Tag {
	case TagSuccess:
		w.Data = resp.Signature[:]
	case TagRefused:
		w.Data = []byte(resp.Reason)
	default:
		return nil, fmt.Errorf("encode response: unknown tag %d", resp.Tag)
	}
	return rlp.EncodeToBytes(w)
}

func decodeResponse(data []byte) (Response, error) {
	var w wireResponse
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	resp := Response{RequestID: w.RequestID, Tag: ResponseTag(w.Tag)}
	switch resp.Tag {
	case TagSuccess:
		if len(w.Data) != len(commitbatch.BatchSignature{}) {
			return Response{}, fmt.Errorf("decode response: signature has %d bytes, want %d", len(w.Data), len(commitbatch.BatchSignature{}))
		}
		copy(resp.Signature[:], w.Data)
	case TagRefused:
		resp.Reason = string(w.Data)
	default:
		return Response{}, fmt.Errorf("decode response: unknown tag %d", w.Tag)
	}
	return resp, nil
}

// writeFrame writes a u32_be length prefix followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeVersion(w io.Writer, version uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], version)
	_, err := w.Write(buf[:])
	return err
}

func readVersion(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
