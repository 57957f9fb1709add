package retry

import (
	"context"
	"testing"
	"time"
)

func BenchmarkBackoff_ImmediateSuccess(b *testing.B) {
	bo := DefaultBackoff()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bo.Do(ctx, func(_ int) error { return nil }) //nolint:errcheck
	}
}

func BenchmarkBackoff_Delay(b *testing.B) {
	bo := AcceptBackoff()
	for i := 0; i < b.N; i++ {
		_ = bo.Delay(i%12 + 1)
	}
}

func BenchmarkJitter(b *testing.B) {
	d := 100 * time.Millisecond
	for i := 0; i < b.N; i++ {
		_ = addJitter(d)
	}
}
