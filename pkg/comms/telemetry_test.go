package comms

import (
	"fmt"
	"testing"
)

func TestCountersAccumulate(t *testing.T) {
	tel := NewTelemetry(10)
	tel.UpOK()
	tel.UpOK()
	tel.UpFail("checksum mismatch")
	tel.DownOK()
	tel.DownFail("radio write: broken pipe")

	upOK, upFail, downOK, downFail := tel.Counts()
	if upOK != 2 || upFail != 1 || downOK != 1 || downFail != 1 {
		t.Fatalf("counters: %d %d %d %d", upOK, upFail, downOK, downFail)
	}
}

func TestErrorRingIsBoundedAndOrdered(t *testing.T) {
	tel := NewTelemetry(3)
	for i := 0; i < 5; i++ {
		tel.UpFail(fmt.Sprintf("error %d", i))
	}
	got := tel.Errors()
	if len(got) != 3 {
		t.Fatalf("ring should hold 3 entries, got %d", len(got))
	}
	want := []string{"error 2", "error 3", "error 4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ring order: got %v, want %v", got, want)
		}
	}
}

func TestErrorRingPartiallyFilled(t *testing.T) {
	tel := NewTelemetry(100)
	tel.DownFail("only one")
	got := tel.Errors()
	if len(got) != 1 || got[0] != "only one" {
		t.Fatalf("partial ring: %v", got)
	}
}
