package go_cdp

import (
	"testing"
)

func TestStreamPoolDisabledByDefault(t *testing.T) {
	DisableStreamPooling()
	if stats := GetStreamPoolStats(); stats != nil {
		t.Errorf("GetStreamPoolStats() with pooling disabled = %+v, want nil", stats)
	}
	s := NewStreamPooled(256)
	if s == nil {
		t.Fatal("NewStreamPooled() = nil with pooling disabled")
	}
	ReleaseStream(s)
}

func TestStreamPoolRoundTrip(t *testing.T) {
	EnableStreamPooling()
	defer DisableStreamPooling()

	s := NewStreamPooled(100)
	if err := s.WriteUint32(0xCAFE); err != nil {
		t.Fatalf("WriteUint32() error = %v", err)
	}
	ReleaseStream(s)

	s2 := NewStreamPooled(100)
	if got := s2.Len(); got != 0 {
		t.Errorf("recycled stream Len() = %d, want 0", got)
	}
	ReleaseStream(s2)

	stats := GetStreamPoolStats()
	if stats == nil {
		t.Fatal("GetStreamPoolStats() = nil with pooling enabled")
	}
	if stats.Hits[0] < 2 {
		t.Errorf("512-class hits = %d, want >= 2", stats.Hits[0])
	}
}

func TestStreamPoolOversizedFallsThrough(t *testing.T) {
	EnableStreamPooling()
	defer DisableStreamPooling()

	before := GetStreamPoolStats().Oversized
	s := NewStreamPooled(1 << 20)
	ReleaseStream(s)
	after := GetStreamPoolStats().Oversized
	if after != before+1 {
		t.Errorf("oversized count = %d, want %d", after, before+1)
	}
}

func TestClassIndex(t *testing.T) {
	cases := []struct {
		size int
		want int
	}{
		{1, 0},
		{512, 0},
		{513, 1},
		{1024, 1},
		{4096, 2},
		{16384, 3},
		{16385, -1},
	}
	for _, tc := range cases {
		if got := classIndex(tc.size); got != tc.want {
			t.Errorf("classIndex(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestReleaseStreamNilSafe(t *testing.T) {
	ReleaseStream(nil)
	ReleaseStream(&Stream{})
}
