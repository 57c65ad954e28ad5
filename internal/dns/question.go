package dns

import (
	"encoding/binary"
	"fmt"
)

// Question represents a single entry in the DNS question section.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Marshal encodes the question in wire form. Names are not compressed on the
// way out, matching the rest of this package's encoder.
func (q Question) Marshal() ([]byte, error) {
	nameBytes, err := EncodeName(q.Name)
	if err != nil {
		return nil, fmt.Errorf("question: encode name %q: %w", q.Name, err)
	}
	buf := make([]byte, 0, len(nameBytes)+4)
	buf = append(buf, nameBytes...)
	tail := make([]byte, 4)
	binary.BigEndian.PutUint16(tail[0:2], q.Type)
	binary.BigEndian.PutUint16(tail[2:4], q.Class)
	return append(buf, tail...), nil
}

// ParseQuestion decodes a question entry starting at off, returning the new offset.
func ParseQuestion(msg []byte, off int) (Question, int, error) {
	name, next, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, 0, fmt.Errorf("question: %w", err)
	}
	if next+4 > len(msg) {
		return Question{}, 0, fmt.Errorf("question: truncated qtype/qclass: %w", ErrDNSError)
	}
	q := Question{
		Name:  NormalizeName(name),
		Type:  binary.BigEndian.Uint16(msg[next : next+2]),
		Class: binary.BigEndian.Uint16(msg[next+2 : next+4]),
	}
	return q, next + 4, nil
}
