package core

import (
	"unicode"
	"unicode/utf8"

	ncerr "chatrelay/internal/errors"
	"chatrelay/util"
)

const (
	// MinAliasLen and MaxAliasLen bound the trimmed alias in bytes; the
	// upper bound is exclusive.
	MinAliasLen = 2
	MaxAliasLen = 31
)

// ValidateAlias turns the first chunk a client sends into an alias.  The
// chunk is cut at its first line terminator; what remains must be
// MinAliasLen ≤ n < MaxAliasLen bytes of printable UTF-8.
func ValidateAlias(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", &ncerr.AliasError{Length: 0, Reason: "no data"}
	}
	alias := util.TrimLine(raw)
	n := len(alias)
	switch {
	case n < MinAliasLen:
		return "", &ncerr.AliasError{Length: n, Reason: "too short"}
	case n >= MaxAliasLen:
		return "", &ncerr.AliasError{Length: n, Reason: "too long"}
	case !utf8.Valid(alias):
		return "", &ncerr.AliasError{Length: n, Reason: "not valid UTF-8"}
	}
	for _, r := range string(alias) {
		if !unicode.IsPrint(r) {
			return "", &ncerr.AliasError{Length: n, Reason: "contains control characters"}
		}
	}
	return string(alias), nil
}
