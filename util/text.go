package util

import "bytes"

// TrimLine returns b up to its first '\n', with a '\r' right before it
// also dropped.  Data after the first terminator is discarded, matching
// how a client's line is shown in logs and accepted as an alias.
func TrimLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}
