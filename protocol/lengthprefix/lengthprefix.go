// Package lengthprefix implements the identity length-prefixed
// protocol used by the framing conformance tests and examples: a
// 4-byte big-endian payload length followed by the payload, with no
// further envelope.
package lengthprefix

import "encoding/binary"

const headerSize = 4

// Protocol is the reference [4-byte BE length][payload] wire format.
type Protocol struct {
	// MaxPayload bounds CheckPackageLength's fatal-error threshold; 0
	// means unbounded.
	MaxPayload int
}

// New returns a Protocol with no payload size cap.
func New() *Protocol { return &Protocol{} }

func (p *Protocol) MaxHeaderSize() int { return headerSize }

func (p *Protocol) BuildPackageHeader(payloadLen int) []byte {
	hdr := make([]byte, headerSize)
	binary.BigEndian.PutUint32(hdr, uint32(payloadLen))
	return hdr
}

func (p *Protocol) CheckPackageLength(header []byte) int {
	if len(header) < headerSize {
		return 0
	}
	payloadLen := binary.BigEndian.Uint32(header[:headerSize])
	if p.MaxPayload > 0 && int(payloadLen) > p.MaxPayload {
		return -1
	}
	return headerSize + int(payloadLen)
}
