// Package varint implements a base-128 varint-length-prefixed protocol
// using the standard protobuf varint wire encoding
// (google.golang.org/protobuf/encoding/protowire) rather than a
// hand-rolled length codec.
package varint

import (
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// maxHeaderBytes bounds the peek window: a varint needs at most 5
	// bytes to express any length up to MaxPayload below.
	maxHeaderBytes = 5

	// MaxPayload is the largest payload this protocol will frame.
	MaxPayload = 2 * 1024 * 1024
)

// Protocol is the reference [varint length][payload] wire format.
type Protocol struct{}

func New() *Protocol { return &Protocol{} }

func (p *Protocol) MaxHeaderSize() int { return maxHeaderBytes }

func (p *Protocol) BuildPackageHeader(payloadLen int) []byte {
	return protowire.AppendVarint(nil, uint64(payloadLen))
}

// CheckPackageLength decodes the leading varint out of a bounded header
// window. Unlike protowire.ConsumeVarint (which only distinguishes
// "valid" from "malformed" over a complete buffer), this must also
// recognize "the window is simply too short so far" — the peek window
// given here may be shorter than MaxHeaderSize while more bytes are
// still arriving on the wire.
func (p *Protocol) CheckPackageLength(header []byte) int {
	var payloadLen uint64
	for i, b := range header {
		payloadLen |= uint64(b&0x7F) << (7 * i)
		if payloadLen > MaxPayload {
			return -1
		}
		if b&0x80 == 0 {
			headerLen := i + 1
			return headerLen + int(payloadLen)
		}
	}
	if len(header) >= maxHeaderBytes {
		// varint continuation bit still set at the edge of the peek
		// window: no legal encoding of a length <= MaxPayload is this
		// long, so this is a framing error, not "need more bytes".
		return -1
	}
	return 0
}
