package dns

import (
	"encoding/binary"
	"fmt"
)

// SOARecord is a start-of-authority record. Minimum is the field negative
// caching derives its TTL from (RFC 2308).
type SOARecord struct {
	H       RRHeader
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

func (r *SOARecord) Header() RRHeader     { return r.H }
func (r *SOARecord) SetHeader(h RRHeader) { r.H = h }
func (r *SOARecord) Type() RecordType     { return TypeSOA }

func (r *SOARecord) MarshalRData() ([]byte, error) {
	mname, err := EncodeName(r.MName)
	if err != nil {
		return nil, err
	}
	rname, err := EncodeName(r.RName)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(mname)+len(rname)+20)
	buf = append(buf, mname...)
	buf = append(buf, rname...)
	tail := make([]byte, 20)
	binary.BigEndian.PutUint32(tail[0:4], r.Serial)
	binary.BigEndian.PutUint32(tail[4:8], r.Refresh)
	binary.BigEndian.PutUint32(tail[8:12], r.Retry)
	binary.BigEndian.PutUint32(tail[12:16], r.Expire)
	binary.BigEndian.PutUint32(tail[16:20], r.Minimum)
	return append(buf, tail...), nil
}

// ParseSOARData decodes SOA RDATA: two domain names followed by five 32-bit fields.
func ParseSOARData(h RRHeader, msg []byte, rdataOff, rdlen int) (*SOARecord, error) {
	mname, next, err := DecodeName(msg, rdataOff)
	if err != nil {
		return nil, fmt.Errorf("soa record: mname: %w", err)
	}
	rname, next2, err := DecodeName(msg, next)
	if err != nil {
		return nil, fmt.Errorf("soa record: rname: %w", err)
	}
	if next2+20 > len(msg) {
		return nil, fmt.Errorf("soa record: truncated fixed fields: %w", ErrDNSError)
	}
	return &SOARecord{
		H:       h,
		MName:   NormalizeName(mname),
		RName:   NormalizeName(rname),
		Serial:  binary.BigEndian.Uint32(msg[next2 : next2+4]),
		Refresh: binary.BigEndian.Uint32(msg[next2+4 : next2+8]),
		Retry:   binary.BigEndian.Uint32(msg[next2+8 : next2+12]),
		Expire:  binary.BigEndian.Uint32(msg[next2+12 : next2+16]),
		Minimum: binary.BigEndian.Uint32(msg[next2+16 : next2+20]),
	}, nil
}
