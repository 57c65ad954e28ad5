package dns

import (
	"encoding/binary"
	"fmt"
)

// MXRecord is a mail-exchange record: a preference value and a target host.
type MXRecord struct {
	H          RRHeader
	Preference uint16
	Exchange   string
}

func (r *MXRecord) Header() RRHeader     { return r.H }
func (r *MXRecord) SetHeader(h RRHeader) { r.H = h }
func (r *MXRecord) Type() RecordType     { return TypeMX }

func (r *MXRecord) MarshalRData() ([]byte, error) {
	name, err := EncodeName(r.Exchange)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2, 2+len(name))
	binary.BigEndian.PutUint16(buf, r.Preference)
	return append(buf, name...), nil
}

// ParseMXRData decodes MX RDATA: a 2-byte preference followed by a domain name.
func ParseMXRData(h RRHeader, msg []byte, rdataOff, rdlen int) (*MXRecord, error) {
	if rdlen < 3 {
		return nil, fmt.Errorf("mx record: rdata too short (%d bytes): %w", rdlen, ErrDNSError)
	}
	pref := binary.BigEndian.Uint16(msg[rdataOff : rdataOff+2])
	exchange, _, err := DecodeName(msg, rdataOff+2)
	if err != nil {
		return nil, err
	}
	return &MXRecord{H: h, Preference: pref, Exchange: NormalizeName(exchange)}, nil
}
