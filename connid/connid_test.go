package connid

import "testing"

func TestBuildRoundTrip(t *testing.T) {
	cases := []struct {
		magic uint16
		port  uint16
		index uint32
	}{
		{0, 0, 0},
		{1, 1, 1},
		{0xFFFF, 0xFFFF, 0xFFFFFFFF},
		{0x1234, 9000, 42},
	}
	for _, c := range cases {
		id := Build(c.magic, c.port, c.index)
		if id.Magic() != c.magic {
			t.Fatalf("magic: got %v want %v", id.Magic(), c.magic)
		}
		if id.Port() != c.port {
			t.Fatalf("port: got %v want %v", id.Port(), c.port)
		}
		if id.Index() != c.index {
			t.Fatalf("index: got %v want %v", id.Index(), c.index)
		}
	}
}

func TestInvalidSentinel(t *testing.T) {
	if Invalid.Valid() {
		t.Fatalf("Invalid must not be Valid")
	}
	if Build(0, 0, 0) != Invalid {
		t.Fatalf("magic=0,port=0,index=0 must equal Invalid")
	}
	id := Build(1, 0, 0)
	if !id.Valid() {
		t.Fatalf("non-zero magic must be Valid")
	}
}

func TestBitLayoutStable(t *testing.T) {
	id := Build(0x0001, 0x0002, 0x00000003)
	want := ID(0x0001_0002_00000003)
	if id != want {
		t.Fatalf("layout mismatch: got %#x want %#x", uint64(id), uint64(want))
	}
}
