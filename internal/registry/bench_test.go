package registry

import "testing"

func BenchmarkRegistry_Snapshot100(b *testing.B) {
	r := New(100)
	for i := uint64(0); i < 100; i++ {
		r.Add(newSession(b, i)) //nolint:errcheck
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Snapshot()
	}
}

func BenchmarkRegistry_AddRemove(b *testing.B) {
	r := New(100)
	s := newSession(b, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Add(s) //nolint:errcheck
		r.Remove(1)
	}
}
