package util

import "math"

const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	DefaultTokenLength = 8
	MinTokenLength     = 6
	MaxTokenLength     = 12
)

// EncodeToken maps a sequence value to a base62 token, most significant digit
// first, left-padded with '0' to length characters. Values at or above
// 62^length produce a longer token rather than wrapping, so the mapping stays
// injective over the whole uint64 range.
func EncodeToken(seq uint64, length int) string {
	if length <= 0 {
		length = DefaultTokenLength
	}
	buf := make([]byte, 0, 11)
	for seq > 0 {
		buf = append(buf, base62Chars[seq%62])
		seq /= 62
	}
	for len(buf) < length {
		buf = append(buf, base62Chars[0])
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// TokenCapacity is the number of distinct tokens of exactly length
// characters, saturating at math.MaxUint64 from length 11 on.
func TokenCapacity(length int) uint64 {
	c := uint64(1)
	for i := 0; i < length; i++ {
		if c > math.MaxUint64/62 {
			return math.MaxUint64
		}
		c *= 62
	}
	return c
}

// ValidToken reports whether s could have been produced by EncodeToken.
func ValidToken(s string) bool {
	if len(s) < MinTokenLength || len(s) > MaxTokenLength+1 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}
