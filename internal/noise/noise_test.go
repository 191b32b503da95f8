package noise

import "testing"

func TestHash_IsPure(t *testing.T) {
	for _, args := range [][4]int{{0, 0, 0, 0}, {17, 3, 9, 1}, {-5, 1024, 768, 2}} {
		a := Hash(uint32(args[0]), args[1], args[2], args[3])
		b := Hash(uint32(args[0]), args[1], args[2], args[3])
		if a != b {
			t.Fatalf("Hash%v not stable: %v vs %v", args, a, b)
		}
	}
}

func TestHash_Range(t *testing.T) {
	seed := uint32(0xdeadbeef)
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			v := Hash(seed, x, y, x%3)
			if v < -0.5 || v >= 0.5 {
				t.Fatalf("Hash(%d,%d) = %v out of [-0.5, 0.5)", x, y, v)
			}
		}
	}
}

func TestHash_SensitiveToEveryArgument(t *testing.T) {
	base := Hash(12345, 10, 20, 1)
	variants := map[string]float64{
		"seed":    Hash(12346, 10, 20, 1),
		"x":       Hash(12345, 11, 20, 1),
		"y":       Hash(12345, 10, 21, 1),
		"channel": Hash(12345, 10, 20, 2),
	}
	for name, v := range variants {
		if v == base {
			t.Fatalf("changing %s did not change the hash", name)
		}
	}
}

func TestHash_RoughlyCentred(t *testing.T) {
	seed := uint32(987654321)
	var sum float64
	n := 0
	for x := 0; x < 200; x++ {
		for y := 0; y < 50; y++ {
			sum += Hash(seed, x, y, 0)
			n++
		}
	}
	if mean := sum / float64(n); mean < -0.05 || mean > 0.05 {
		t.Fatalf("mean = %v, expected near zero", mean)
	}
}

func TestNewSessionSeed_NonZeroAndVaries(t *testing.T) {
	seen := make(map[uint32]struct{})
	for i := 0; i < 8; i++ {
		s := NewSessionSeed()
		if s == 0 {
			t.Fatal("NewSessionSeed returned zero")
		}
		seen[s] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatal("NewSessionSeed returned the same value repeatedly")
	}
}

func TestScopedSeeds(t *testing.T) {
	if CanvasSeed(1, 300, 150) == CanvasSeed(1, 300, 151) {
		t.Fatal("canvas seed ignores height")
	}
	if CanvasSeed(1, 300, 150) != CanvasSeed(1, 300, 150) {
		t.Fatal("canvas seed not stable")
	}
	if AudioSeed(1, 0) == AudioSeed(1, 1) {
		t.Fatal("audio seed ignores channel")
	}
}

func TestDelta_ScalesWithMagnitude(t *testing.T) {
	if Delta(5, 1, 2, 0, 0) != 0 {
		t.Fatal("zero magnitude must produce zero delta")
	}
	small := Delta(5, 1, 2, 0, 0.1)
	large := Delta(5, 1, 2, 0, 0.4)
	if small == 0 {
		t.Skip("hash happened to be exactly zero")
	}
	if ratio := large / small; ratio < 3.99 || ratio > 4.01 {
		t.Fatalf("delta ratio = %v, want 4", ratio)
	}
}
