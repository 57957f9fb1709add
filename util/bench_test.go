package util

import (
	"io"
	"testing"
)

func BenchmarkGetPutBuf(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuf(DefaultLineSize)
		PutBuf(buf)
	}
}

func BenchmarkTrimLine(b *testing.B) {
	line := []byte("a reasonably sized chat message from somebody\r\n")
	for i := 0; i < b.N; i++ {
		_ = TrimLine(line)
	}
}

func BenchmarkLogger_Quiet(b *testing.B) {
	l := NewLogger(0)
	l.SetOutput(io.Discard)
	for i := 0; i < b.N; i++ {
		l.Verbose("%s -> %s", "Al", "hello")
	}
}
