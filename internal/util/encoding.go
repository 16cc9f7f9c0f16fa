package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentifier folds an account identifier so that visually equal
// inputs ("A@x.com", " a@x.com", full-width forms) key the same record.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// MaskIdentifier keeps the first two runes of an identifier for log lines.
func MaskIdentifier(s string) string {
	r := []rune(s)
	if len(r) <= 2 {
		return "***"
	}
	return string(r[:2]) + "***"
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
