package dns

import (
	"encoding/binary"
	"fmt"
)

// RRHeader carries the fields common to every resource record, plus the byte
// offset of the record's RDATA within the original packet so that RDATA
// referencing compressed names (NS/CNAME/MX/SOA targets) can be re-decoded
// against the full packet without a second full parse.
type RRHeader struct {
	Name        string
	Type        RecordType
	Class       RecordClass
	TTL         uint32
	RDataOffset int
	RDataLength int
}

// Record is implemented by every concrete resource record type this package
// supports. MarshalRData encodes only the RDATA payload; the caller is
// responsible for the owner name, type, class, TTL and RDLENGTH framing.
type Record interface {
	Header() RRHeader
	SetHeader(RRHeader)
	Type() RecordType
	MarshalRData() ([]byte, error)
}

// ParseRecord decodes a single resource record starting at off, returning the
// record and the offset immediately following it.
func ParseRecord(msg []byte, off int) (Record, int, error) {
	name, next, err := DecodeName(msg, off)
	if err != nil {
		return nil, 0, fmt.Errorf("record: name: %w", err)
	}
	if next+10 > len(msg) {
		return nil, 0, fmt.Errorf("record: truncated fixed fields: %w", ErrDNSError)
	}
	rtype := RecordType(binary.BigEndian.Uint16(msg[next : next+2]))
	rclass := RecordClass(binary.BigEndian.Uint16(msg[next+2 : next+4]))
	ttl := binary.BigEndian.Uint32(msg[next+4 : next+8])
	rdlen := int(binary.BigEndian.Uint16(msg[next+8 : next+10]))
	rdataOff := next + 10
	if rdataOff+rdlen > len(msg) {
		return nil, 0, fmt.Errorf("record: rdata exceeds message: %w", ErrDNSError)
	}
	header := RRHeader{
		Name:        NormalizeName(name),
		Type:        rtype,
		Class:       rclass,
		TTL:         ttl,
		RDataOffset: rdataOff,
		RDataLength: rdlen,
	}

	rdata := msg[rdataOff : rdataOff+rdlen]
	var rec Record
	switch rtype {
	case TypeA, TypeAAAA:
		rec, err = ParseIPRData(header, rdata)
	case TypeCNAME, TypeNS, TypePTR:
		rec, err = ParseNameRData(header, msg, rdataOff)
	case TypeMX:
		rec, err = ParseMXRData(header, msg, rdataOff, rdlen)
	case TypeSOA:
		rec, err = ParseSOARData(header, msg, rdataOff, rdlen)
	default:
		rec, err = ParseOpaqueRData(header, rdata)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("record: rdata: %w", err)
	}
	return rec, rdataOff + rdlen, nil
}

// MarshalRecord encodes a full resource record: owner name, type, class, TTL,
// RDLENGTH and RDATA.
func MarshalRecord(r Record) ([]byte, error) {
	h := r.Header()
	nameBytes, err := EncodeName(h.Name)
	if err != nil {
		return nil, fmt.Errorf("record: encode name: %w", err)
	}
	rdata, err := r.MarshalRData()
	if err != nil {
		return nil, fmt.Errorf("record: marshal rdata: %w", err)
	}
	if len(rdata) > 0xFFFF {
		return nil, fmt.Errorf("record: rdata too large (%d bytes): %w", len(rdata), ErrDNSError)
	}
	buf := make([]byte, 0, len(nameBytes)+10+len(rdata))
	buf = append(buf, nameBytes...)
	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], uint16(h.Type))
	binary.BigEndian.PutUint16(fixed[2:4], uint16(h.Class))
	binary.BigEndian.PutUint32(fixed[4:8], h.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rdata)))
	buf = append(buf, fixed...)
	buf = append(buf, rdata...)
	return buf, nil
}

// RawRData returns the exact RDATA bytes that h's RDataOffset/RDataLength
// describe within msg, the original packet the record was parsed from,
// without re-marshaling. It returns nil when that range lies outside msg.
func RawRData(msg []byte, h RRHeader) []byte {
	if h.RDataOffset < 0 || h.RDataOffset+h.RDataLength > len(msg) {
		return nil
	}
	return msg[h.RDataOffset : h.RDataOffset+h.RDataLength]
}
