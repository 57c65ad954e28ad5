package dns

import (
	"encoding/binary"
	"fmt"

	"github.com/jroosing/hydradns/internal/helpers"
)

// EDNS (RFC 6891) constants.
const (
	DefaultUDPPayloadSize = 1232
	MinUDPPayloadSize     = 512
	DNSSECOKBit           = 1 << 15
)

// EDNSOption is a single OPT pseudo-RR option (OPTION-CODE/LENGTH/DATA).
type EDNSOption struct {
	Code uint16
	Data []byte
}

// ParseEDNSOptions decodes the option list from an OPT record's RDATA.
func ParseEDNSOptions(rdata []byte) ([]EDNSOption, error) {
	var opts []EDNSOption
	off := 0
	for off < len(rdata) {
		if off+4 > len(rdata) {
			return nil, fmt.Errorf("edns: truncated option header: %w", ErrDNSError)
		}
		code := binary.BigEndian.Uint16(rdata[off : off+2])
		length := int(binary.BigEndian.Uint16(rdata[off+2 : off+4]))
		off += 4
		if off+length > len(rdata) {
			return nil, fmt.Errorf("edns: truncated option data: %w", ErrDNSError)
		}
		opts = append(opts, EDNSOption{Code: code, Data: append([]byte(nil), rdata[off:off+length]...)})
		off += length
	}
	return opts, nil
}

// MarshalEDNSOptions encodes a list of options back to RDATA form.
func MarshalEDNSOptions(opts []EDNSOption) []byte {
	var buf []byte
	for _, o := range opts {
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint16(hdr[0:2], o.Code)
		binary.BigEndian.PutUint16(hdr[2:4], helpers.ClampIntToUint16(len(o.Data)))
		buf = append(buf, hdr...)
		buf = append(buf, o.Data...)
	}
	return buf
}

// packOPTTTL packs the extended RCODE, version and flags of an OPT pseudo-RR
// into the 32-bit TTL field.
func packOPTTTL(extendedRCode, version uint8, dnssecOK bool) uint32 {
	ttl := uint32(extendedRCode)<<24 | uint32(version)<<16
	if dnssecOK {
		ttl |= DNSSECOKBit
	}
	return ttl
}

// CreateOPT builds an OPT pseudo-RR advertising udpPayloadSize and the given options.
func CreateOPT(udpPayloadSize uint16, dnssecOK bool, opts []EDNSOption) *OpaqueRecord {
	h := RRHeader{
		Name:  "",
		Type:  TypeOPT,
		Class: RecordClass(udpPayloadSize),
		TTL:   packOPTTTL(0, 0, dnssecOK),
	}
	return &OpaqueRecord{H: h, T: TypeOPT, Data: MarshalEDNSOptions(opts)}
}

// ExtractOPT finds the OPT pseudo-RR in a packet's additional section, if present.
func ExtractOPT(p *Packet) *OpaqueRecord {
	for _, rr := range p.Additionals {
		if rr.Type() == TypeOPT {
			if opt, ok := rr.(*OpaqueRecord); ok {
				return opt
			}
		}
	}
	return nil
}

// ClientMaxUDPSize returns the UDP payload size the client advertised via
// EDNS, or the protocol default of 512 bytes if no OPT record is present.
func ClientMaxUDPSize(p *Packet) uint16 {
	opt := ExtractOPT(p)
	if opt == nil {
		return MinUDPPayloadSize
	}
	size := uint16(opt.H.Class)
	if size < MinUDPPayloadSize {
		return MinUDPPayloadSize
	}
	return size
}

// IsTruncated reports whether the TC bit is set.
func IsTruncated(p *Packet) bool {
	return p.Header.Flags&TCFlag != 0
}

// AddEDNSToRequestBytes appends an OPT record advertising udpPayloadSize to a
// raw, already-marshaled request, incrementing ARCOUNT. Used by forwarders
// that need to ensure an upstream-bound query advertises EDNS even if the
// original client request didn't carry one.
func AddEDNSToRequestBytes(msg []byte, udpPayloadSize uint16) ([]byte, error) {
	p, err := ParsePacket(msg)
	if err != nil {
		return nil, fmt.Errorf("edns: parse request: %w", err)
	}
	if ExtractOPT(p) != nil {
		return msg, nil
	}
	p.Additionals = append(p.Additionals, CreateOPT(udpPayloadSize, false, nil))
	return p.Marshal()
}
