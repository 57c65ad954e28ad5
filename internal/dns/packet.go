package dns

import "fmt"

// Packet is a fully parsed (or to-be-marshaled) DNS message.
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// Marshal encodes the packet to wire format, recomputing the header's section
// counts from the slice lengths.
func (p *Packet) Marshal() ([]byte, error) {
	p.Header.QDCount = uint16(len(p.Questions))
	p.Header.ANCount = uint16(len(p.Answers))
	p.Header.NSCount = uint16(len(p.Authorities))
	p.Header.ARCount = uint16(len(p.Additionals))

	estimate := HeaderSize
	for _, q := range p.Questions {
		estimate += len(q.Name) + 6
	}
	estimate += 16 * (len(p.Answers) + len(p.Authorities) + len(p.Additionals))

	buf := make([]byte, 0, estimate)
	buf = append(buf, p.Header.Marshal()...)

	for _, q := range p.Questions {
		qb, err := q.Marshal()
		if err != nil {
			return nil, fmt.Errorf("packet: question: %w", err)
		}
		buf = append(buf, qb...)
	}
	for _, rr := range p.Answers {
		rb, err := MarshalRecord(rr)
		if err != nil {
			return nil, fmt.Errorf("packet: answer: %w", err)
		}
		buf = append(buf, rb...)
	}
	for _, rr := range p.Authorities {
		rb, err := MarshalRecord(rr)
		if err != nil {
			return nil, fmt.Errorf("packet: authority: %w", err)
		}
		buf = append(buf, rb...)
	}
	for _, rr := range p.Additionals {
		rb, err := MarshalRecord(rr)
		if err != nil {
			return nil, fmt.Errorf("packet: additional: %w", err)
		}
		buf = append(buf, rb...)
	}
	return buf, nil
}

// ParsePacket decodes a full DNS message.
func ParsePacket(msg []byte) (*Packet, error) {
	h, err := ParseHeader(msg)
	if err != nil {
		return nil, err
	}
	p := &Packet{Header: h}
	off := HeaderSize

	for i := 0; i < int(h.QDCount); i++ {
		q, next, err := ParseQuestion(msg, off)
		if err != nil {
			return nil, fmt.Errorf("packet: question %d: %w", i, err)
		}
		p.Questions = append(p.Questions, q)
		off = next
	}

	parseSection := func(count int, label string) ([]Record, error) {
		recs := make([]Record, 0, count)
		for i := 0; i < count; i++ {
			rr, next, err := ParseRecord(msg, off)
			if err != nil {
				return nil, fmt.Errorf("packet: %s %d: %w", label, i, err)
			}
			recs = append(recs, rr)
			off = next
		}
		return recs, nil
	}

	if p.Answers, err = parseSection(int(h.ANCount), "answer"); err != nil {
		return nil, err
	}
	if p.Authorities, err = parseSection(int(h.NSCount), "authority"); err != nil {
		return nil, err
	}
	if p.Additionals, err = parseSection(int(h.ARCount), "additional"); err != nil {
		return nil, err
	}
	return p, nil
}

// RewriteTTLs sets every record in the message to ttl, except OPT
// pseudo-records (whose TTL field carries EDNS flags), used when serving a
// cached answer whose remaining freshness must be reflected on the wire
// (including the remaining_ttl=1 serve-stale case).
func (p *Packet) RewriteTTLs(ttl uint32) {
	for _, sec := range [][]Record{p.Answers, p.Authorities, p.Additionals} {
		for _, rr := range sec {
			if rr.Type() == TypeOPT {
				continue
			}
			h := rr.Header()
			h.TTL = ttl
			rr.SetHeader(h)
		}
	}
}

// InjectTXT appends a TXT record carrying text to the additional section,
// used for informational resolver metadata.
func (p *Packet) InjectTXT(name, text string, ttl uint32) {
	h := RRHeader{Name: NormalizeName(name), Type: TypeTXT, Class: ClassIN, TTL: ttl}
	p.Additionals = append(p.Additionals, NewTXTRecord(h, text))
}
