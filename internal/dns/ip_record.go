package dns

import (
	"fmt"
	"net"
)

// IPRecord is an A or AAAA record. Its concrete Type() is derived from Addr
// rather than stored separately: TypeA whenever Addr has an IPv4 form
// (Addr.To4() != nil), otherwise TypeAAAA.
type IPRecord struct {
	H    RRHeader
	Addr net.IP
}

func (r *IPRecord) Header() RRHeader     { return r.H }
func (r *IPRecord) SetHeader(h RRHeader) { r.H = h }

func (r *IPRecord) Type() RecordType {
	if r.Addr.To4() != nil {
		return TypeA
	}
	return TypeAAAA
}

func (r *IPRecord) MarshalRData() ([]byte, error) {
	if v4 := r.Addr.To4(); v4 != nil {
		return []byte(v4), nil
	}
	v6 := r.Addr.To16()
	if v6 == nil {
		return nil, fmt.Errorf("ip record: invalid address %v: %w", r.Addr, ErrDNSError)
	}
	return []byte(v6), nil
}

// ParseIPRData decodes an A/AAAA RDATA payload.
func ParseIPRData(h RRHeader, rdata []byte) (*IPRecord, error) {
	switch len(rdata) {
	case 4:
		return &IPRecord{H: h, Addr: net.IP(append([]byte(nil), rdata...))}, nil
	case 16:
		return &IPRecord{H: h, Addr: net.IP(append([]byte(nil), rdata...))}, nil
	default:
		return nil, fmt.Errorf("ip record: unexpected rdata length %d: %w", len(rdata), ErrDNSError)
	}
}

// NewIPRecord constructs an A/AAAA record from a header and address.
func NewIPRecord(h RRHeader, addr net.IP) *IPRecord {
	return &IPRecord{H: h, Addr: addr}
}
