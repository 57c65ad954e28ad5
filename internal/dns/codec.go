package dns

import (
	"fmt"
	"strings"
)

// maxCompressionJumps bounds the number of compression-pointer redirections
// followed while decoding a single name, guarding against pointer loops.
const maxCompressionJumps = 10

const (
	compressionPointerMask = 0xC0
	compressionOffsetMask  = 0x3FFF
	maxLabelLength         = 63
	maxNameLength          = 255
)

// NormalizeName lowercases and strips a single trailing dot from name.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	return strings.TrimSuffix(name, ".")
}

// EncodeName encodes name as a sequence of length-prefixed labels terminated
// by a zero length octet. No compression is applied on the way out.
func EncodeName(name string) ([]byte, error) {
	name = trimDot(name)
	if len(name) > maxNameLength {
		return nil, fmt.Errorf("name %q exceeds %d bytes: %w", name, maxNameLength, ErrDNSError)
	}
	if name == "" {
		return []byte{0}, nil
	}
	labels := strings.Split(name, ".")
	var buf []byte
	for _, label := range labels {
		if len(label) == 0 {
			return nil, fmt.Errorf("name %q has empty label: %w", name, ErrDNSError)
		}
		if len(label) > maxLabelLength {
			return nil, fmt.Errorf("label %q exceeds %d bytes: %w", label, maxLabelLength, ErrDNSError)
		}
		for i := 0; i < len(label); i++ {
			if label[i] > 127 {
				return nil, fmt.Errorf("label %q has non-ASCII byte: %w", label, ErrDNSError)
			}
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	buf = append(buf, 0)
	return buf, nil
}

func trimDot(name string) string {
	return strings.TrimSuffix(name, ".")
}

func joinLabels(labels []string) string {
	return strings.Join(labels, ".")
}

func isCompressionPointer(b byte) bool {
	return b&compressionPointerMask == compressionPointerMask
}

func hasReservedBits(b byte) bool {
	// 0x40/0x80 alone (not both) are reserved label-length prefixes.
	return b&compressionPointerMask != 0 && b&compressionPointerMask != compressionPointerMask
}

func followCompressionPointer(msg []byte, off int) (int, error) {
	if off+2 > len(msg) {
		return 0, fmt.Errorf("name: truncated compression pointer: %w", ErrDNSError)
	}
	target := int(msg[off]&^compressionPointerMask)<<8 | int(msg[off+1])
	if target >= len(msg) {
		return 0, fmt.Errorf("name: compression pointer out of range: %w", ErrDNSError)
	}
	return target, nil
}

func readLabel(msg []byte, off int) (string, int, error) {
	if off >= len(msg) {
		return "", 0, fmt.Errorf("name: label offset out of range: %w", ErrDNSError)
	}
	length := int(msg[off])
	if off+1+length > len(msg) {
		return "", 0, fmt.Errorf("name: truncated label: %w", ErrDNSError)
	}
	return string(msg[off+1 : off+1+length]), off + 1 + length, nil
}

// DecodeName decodes a possibly-compressed domain name starting at off within
// msg. It returns the decoded name and the offset immediately following the
// name as seen by the caller (i.e. past the first pointer, if any jump
// occurred, never past a followed pointer's target).
func DecodeName(msg []byte, off int) (string, int, error) {
	var labels []string
	cursor := off
	jumps := 0
	endOffset := -1
	totalLen := 0

	for {
		if cursor >= len(msg) {
			return "", 0, fmt.Errorf("name: offset out of range: %w", ErrDNSError)
		}
		b := msg[cursor]
		switch {
		case b == 0:
			if endOffset == -1 {
				endOffset = cursor + 1
			}
			return joinLabels(labels), endOffset, nil
		case isCompressionPointer(b):
			if jumps >= maxCompressionJumps {
				return "", 0, fmt.Errorf("name: too many compression jumps (max %d): %w", maxCompressionJumps, ErrDNSError)
			}
			if endOffset == -1 {
				endOffset = cursor + 2
			}
			target, err := followCompressionPointer(msg, cursor)
			if err != nil {
				return "", 0, err
			}
			jumps++
			cursor = target
		case hasReservedBits(b):
			return "", 0, fmt.Errorf("name: reserved label length bits set: %w", ErrDNSError)
		default:
			label, next, err := readLabel(msg, cursor)
			if err != nil {
				return "", 0, err
			}
			totalLen += len(label) + 1
			if totalLen > maxNameLength {
				return "", 0, fmt.Errorf("name: exceeds %d bytes: %w", maxNameLength, ErrDNSError)
			}
			labels = append(labels, label)
			cursor = next
		}
	}
}
