package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTask returns task text in NFC form with surrounding whitespace
// removed. Two clients typing the same text in different normal forms end
// up with byte-identical rows.
func NormalizeTask(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
