// Package codec holds the stateless payload conversions used by the write
// path, the read pipeline and the text helpers exposed to callers.
package codec

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"
)

var (
	// ErrOddLength is returned when hex text does not split into whole bytes
	ErrOddLength = errors.New("hex text has odd length")
	// ErrInvalidHex is returned when hex text contains a non-hex character
	ErrInvalidHex = errors.New("hex text contains invalid character")
	// ErrByteRange is returned when an integer does not fit in one byte
	ErrByteRange = errors.New("value out of byte range")
)

// BytesToInts reinterprets every byte as an unsigned 0-255 integer
func BytesToInts(data []byte) []int {
	out := make([]int, len(data))
	for i, b := range data {
		out[i] = int(b)
	}
	return out
}

// BytesToHex renders bytes as uppercase hex, two digits per byte
func BytesToHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// IntsToBytes packs integers into bytes, rejecting anything outside 0-255
func IntsToBytes(values []int) ([]byte, error) {
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("index %d: %d: %w", i, v, ErrByteRange)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// DecodeHex decodes two characters per byte, case-insensitive. Unlike
// hex.DecodeString it reports the two failure classes separately so the
// write path can tell them apart.
func DecodeHex(text string) ([]byte, error) {
	if len(text)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]byte, len(text)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := fromHexChar(text[2*i])
		lo, ok2 := fromHexChar(text[2*i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("offset %d: %w", 2*i, ErrInvalidHex)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// DecodeBase64 decodes standard base64. Embedded whitespace and line breaks
// are ignored and missing padding is tolerated.
func DecodeBase64(text string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)

	if strings.HasSuffix(cleaned, "=") || len(cleaned)%4 == 0 {
		return base64.StdEncoding.DecodeString(cleaned)
	}
	return base64.RawStdEncoding.DecodeString(cleaned)
}

// IntArrayToUtf16 treats every value as one UTF-16 code unit
func IntArrayToUtf16(values []int) string {
	units := make([]uint16, len(values))
	for i, v := range values {
		units[i] = uint16(v)
	}
	return string(utf16.Decode(units))
}

// HexToUtf16 decodes hex text two characters at a time, one code unit per
// byte, and stops at the first "00" pair. A trailing odd character is ignored.
func HexToUtf16(text string) (string, error) {
	units := make([]uint16, 0, len(text)/2)
	for i := 0; i+1 < len(text); i += 2 {
		pair := text[i : i+2]
		if pair == "00" {
			break
		}
		hi, ok1 := fromHexChar(pair[0])
		lo, ok2 := fromHexChar(pair[1])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("offset %d: %w", i, ErrInvalidHex)
		}
		units = append(units, uint16(hi<<4|lo))
	}
	return string(utf16.Decode(units)), nil
}
