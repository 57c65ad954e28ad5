package dns

import "fmt"

// Bounds enforced while parsing untrusted incoming messages, to keep a single
// malformed or hostile datagram from causing unbounded allocation.
const (
	MaxIncomingDNSMessageSize = 4096
	MaxQuestions              = 4
	MaxRRPerSection           = 100
	MaxTotalRR                = 200
)

// ParseRequestBounded parses an incoming client request, applying the bounds
// above. It is the entry point the server I/O loop uses for untrusted input.
func ParseRequestBounded(msg []byte) (*Packet, error) {
	if len(msg) > MaxIncomingDNSMessageSize {
		return nil, fmt.Errorf("request exceeds %d bytes: %w", MaxIncomingDNSMessageSize, ErrDNSError)
	}
	p, err := ParsePacket(msg)
	if err != nil {
		return nil, err
	}
	if err := validateSectionCounts(p); err != nil {
		return nil, err
	}
	return p, nil
}

func validateSectionCounts(p *Packet) error {
	if len(p.Questions) > MaxQuestions {
		return fmt.Errorf("too many questions (%d): %w", len(p.Questions), ErrDNSError)
	}
	if len(p.Answers) > MaxRRPerSection || len(p.Authorities) > MaxRRPerSection || len(p.Additionals) > MaxRRPerSection {
		return fmt.Errorf("too many records in a section: %w", ErrDNSError)
	}
	total := len(p.Answers) + len(p.Authorities) + len(p.Additionals)
	if total > MaxTotalRR {
		return fmt.Errorf("too many total records (%d): %w", total, ErrDNSError)
	}
	return nil
}

// BuildErrorResponse builds a minimal error response echoing the request's
// ID, question (if any) and RD bit, with the given RCODE.
func BuildErrorResponse(requestID uint16, question *Question, requestFlags uint16, rcode RCode) []byte {
	p := Packet{
		Header: Header{
			ID:    requestID,
			Flags: buildResponseFlags(requestFlags, rcode, false),
		},
	}
	if question != nil {
		p.Questions = []Question{*question}
	}
	b, err := p.Marshal()
	if err != nil {
		// Fixed-shape error response; marshal cannot fail in practice, but
		// degrade to a bare header rather than panic.
		h := Header{ID: requestID, Flags: buildResponseFlags(requestFlags, RCodeServerFailure, false)}
		return h.Marshal()
	}
	return b
}

// tryBuildErrorFromRaw attempts to extract enough of a malformed request to
// build a well-formed error response: at minimum the transaction ID.
func tryBuildErrorFromRaw(raw []byte, rcode RCode) []byte {
	if len(raw) < 2 {
		h := Header{Flags: buildResponseFlags(0, rcode, false)}
		return h.Marshal()
	}
	id := uint16(raw[0])<<8 | uint16(raw[1])
	var reqFlags uint16
	if len(raw) >= 4 {
		reqFlags = uint16(raw[2])<<8 | uint16(raw[3])
	}
	return BuildErrorResponse(id, nil, reqFlags, rcode)
}
