package algorithm

import (
	"fmt"
	"strconv"
)

// VersionToLexi encodes n in base 36 prefixed by (number of digits - 1), also
// in base 36. The prefix makes lexicographic order match numeric order:
//
//	0  -> "00"
//	35 -> "0z"
//	36 -> "110"
func VersionToLexi(n uint64) string {
	digits := strconv.FormatUint(n, 36)
	return strconv.FormatInt(int64(len(digits)-1), 36) + digits
}

// LexiToVersion decodes a value produced by VersionToLexi
func LexiToVersion(s string) (uint64, error) {
	if err := validateLexi(s); err != nil {
		return 0, fmt.Errorf("invalid lexi version %q: %w", s, err)
	}
	n, err := strconv.ParseUint(s[1:], 36, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lexi version %q: %w", s, err)
	}
	return n, nil
}

func isBase36(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z')
}
