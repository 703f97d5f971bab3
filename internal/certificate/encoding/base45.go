// Package encoding reverses the transport layers of a health certificate QR payload:
// the HC1 prefix, the base45 text alphabet and zlib compression.
package encoding

import (
	"fmt"
	"strings"

	"hcert/internal/certificate/certerr"
)

// Prefix marks a health certificate payload in scanned QR text.
const Prefix = "HC1:"

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

var decodeTable [256]int8

func init() {
	for i := range decodeTable {
		decodeTable[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		decodeTable[alphabet[i]] = int8(i)
	}
}

// TrimPrefix strips surrounding whitespace and the HC1 prefix from scanned text.
func TrimPrefix(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return "", certerr.New(certerr.KindDecode, "missing "+Prefix+" prefix", nil)
	}
	return rest, nil
}

// DecodeText decodes base45 text into the original byte sequence.
func DecodeText(s string) ([]byte, error) {
	if len(s)%3 == 1 {
		return nil, certerr.New(certerr.KindDecode, fmt.Sprintf("invalid length %d", len(s)), nil)
	}
	out := make([]byte, 0, len(s)/3*2+1)
	for i := 0; i < len(s); i += 3 {
		end := min(i+3, len(s))
		n := 0
		mul := 1
		for j := i; j < end; j++ {
			v := decodeTable[s[j]]
			if v < 0 {
				return nil, certerr.New(certerr.KindDecode, fmt.Sprintf("invalid character %q at offset %d", s[j], j), nil)
			}
			n += int(v) * mul
			mul *= 45
		}
		if end-i == 3 {
			if n > 0xFFFF {
				return nil, certerr.New(certerr.KindDecode, fmt.Sprintf("group at offset %d overflows", i), nil)
			}
			out = append(out, byte(n>>8), byte(n))
			continue
		}
		if n > 0xFF {
			return nil, certerr.New(certerr.KindDecode, fmt.Sprintf("trailing group at offset %d overflows", i), nil)
		}
		out = append(out, byte(n))
	}
	return out, nil
}

// EncodeText encodes bytes with the base45 alphabet.
func EncodeText(b []byte) string {
	var sb strings.Builder
	sb.Grow((len(b)/2)*3 + 2)
	for i := 0; i+1 < len(b); i += 2 {
		n := int(b[i])<<8 | int(b[i+1])
		sb.WriteByte(alphabet[n%45])
		n /= 45
		sb.WriteByte(alphabet[n%45])
		sb.WriteByte(alphabet[n/45])
	}
	if len(b)%2 == 1 {
		n := int(b[len(b)-1])
		sb.WriteByte(alphabet[n%45])
		sb.WriteByte(alphabet[n/45])
	}
	return sb.String()
}
