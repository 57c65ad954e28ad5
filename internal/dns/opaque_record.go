package dns

// OpaqueRecord holds RDATA this package does not give structured treatment
// to: TXT, OPT (handled at a higher level by edns.go) and any unrecognized
// type. Data is the raw RDATA bytes, copied out of the original packet.
type OpaqueRecord struct {
	H    RRHeader
	T    RecordType
	Data []byte
}

func (r *OpaqueRecord) Header() RRHeader     { return r.H }
func (r *OpaqueRecord) SetHeader(h RRHeader) { r.H = h }
func (r *OpaqueRecord) Type() RecordType     { return r.T }

func (r *OpaqueRecord) MarshalRData() ([]byte, error) {
	return append([]byte(nil), r.Data...), nil
}

// ParseOpaqueRData copies rdata verbatim into an OpaqueRecord.
func ParseOpaqueRData(h RRHeader, rdata []byte) (*OpaqueRecord, error) {
	return &OpaqueRecord{H: h, T: h.Type, Data: append([]byte(nil), rdata...)}, nil
}

// marshalTXTString encodes a single TXT character-string, chunking at 255
// bytes per RFC 1035 §3.3.14.
func marshalTXTString(s string) []byte {
	var buf []byte
	b := []byte(s)
	for len(b) > 255 {
		buf = append(buf, 255)
		buf = append(buf, b[:255]...)
		b = b[255:]
	}
	buf = append(buf, byte(len(b)))
	buf = append(buf, b...)
	return buf
}

// NewTXTRecord builds an OpaqueRecord carrying a single TXT character-string.
func NewTXTRecord(h RRHeader, text string) *OpaqueRecord {
	h.Type = TypeTXT
	return &OpaqueRecord{H: h, T: TypeTXT, Data: marshalTXTString(text)}
}
