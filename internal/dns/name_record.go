package dns

// NameRecord covers the RR types whose RDATA is a single domain name:
// CNAME, NS and PTR.
type NameRecord struct {
	H      RRHeader
	T      RecordType
	Target string
}

func (r *NameRecord) Header() RRHeader     { return r.H }
func (r *NameRecord) SetHeader(h RRHeader) { r.H = h }
func (r *NameRecord) Type() RecordType     { return r.T }

func (r *NameRecord) MarshalRData() ([]byte, error) {
	return EncodeName(r.Target)
}

// NewCNAMERecord constructs a CNAME record.
func NewCNAMERecord(h RRHeader, target string) *NameRecord {
	h.Type = TypeCNAME
	return &NameRecord{H: h, T: TypeCNAME, Target: target}
}

// NewNSRecord constructs an NS record.
func NewNSRecord(h RRHeader, target string) *NameRecord {
	h.Type = TypeNS
	return &NameRecord{H: h, T: TypeNS, Target: target}
}

// NewPTRRecord constructs a PTR record.
func NewPTRRecord(h RRHeader, target string) *NameRecord {
	h.Type = TypePTR
	return &NameRecord{H: h, T: TypePTR, Target: target}
}

// ParseNameRData decodes RDATA consisting of a single (possibly compressed)
// domain name, used by CNAME/NS/PTR. rdataOff is the offset of the RDATA
// within msg, which DecodeName needs to resolve any compression pointer.
func ParseNameRData(h RRHeader, msg []byte, rdataOff int) (*NameRecord, error) {
	target, _, err := DecodeName(msg, rdataOff)
	if err != nil {
		return nil, err
	}
	return &NameRecord{H: h, T: h.Type, Target: NormalizeName(target)}, nil
}
