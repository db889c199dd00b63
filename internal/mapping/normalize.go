package mapping

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalize trims and NFC-normalises an optional string. Blank values become nil.
func normalize(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(norm.NFC.String(*s))
	if v == "" {
		return nil
	}
	return &v
}
