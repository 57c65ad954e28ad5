package dns

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed wire size of a DNS message header in bytes.
const HeaderSize = 12

// Header is the 12-byte fixed header present at the start of every DNS message.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Marshal encodes the header to its 12-byte wire form.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.ID)
	binary.BigEndian.PutUint16(buf[2:4], h.Flags)
	binary.BigEndian.PutUint16(buf[4:6], h.QDCount)
	binary.BigEndian.PutUint16(buf[6:8], h.ANCount)
	binary.BigEndian.PutUint16(buf[8:10], h.NSCount)
	binary.BigEndian.PutUint16(buf[10:12], h.ARCount)
	return buf
}

// ParseHeader decodes the fixed 12-byte header from msg.
func ParseHeader(msg []byte) (Header, error) {
	if len(msg) < HeaderSize {
		return Header{}, fmt.Errorf("header: short message (%d bytes): %w", len(msg), ErrDNSError)
	}
	return Header{
		ID:      binary.BigEndian.Uint16(msg[0:2]),
		Flags:   binary.BigEndian.Uint16(msg[2:4]),
		QDCount: binary.BigEndian.Uint16(msg[4:6]),
		ANCount: binary.BigEndian.Uint16(msg[6:8]),
		NSCount: binary.BigEndian.Uint16(msg[8:10]),
		ARCount: binary.BigEndian.Uint16(msg[10:12]),
	}, nil
}

// IsResponse reports whether the QR bit is set.
func (h Header) IsResponse() bool {
	return h.Flags&QRFlag != 0
}

// buildResponseFlags derives response flags from a request, setting QR and RA,
// preserving RD, and stamping the given rcode.
func buildResponseFlags(requestFlags uint16, rcode RCode, authoritative bool) uint16 {
	flags := QRFlag | RAFlag
	flags |= requestFlags & RDFlag
	if authoritative {
		flags |= AAFlag
	}
	return SetRCode(flags, rcode)
}
