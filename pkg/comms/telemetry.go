package comms

import (
	"sync"

	"github.com/opensat/satcore/pkg/constants"
)

// DefaultErrorRingSize bounds the recent-error ring (§3, Comms Telemetry).
const DefaultErrorRingSize = constants.DefaultErrorRingSize

// Telemetry is the process-wide comms counter set plus a bounded ring of
// recent error strings, all behind a single mutex (§5, shared resources).
type Telemetry struct {
	mu       sync.Mutex
	upOK     uint64
	upFail   uint64
	downOK   uint64
	downFail uint64

	ring     []string
	ringNext int
	ringLen  int
}

// NewTelemetry builds a Telemetry with an error ring of ringSize entries;
// ringSize <= 0 uses the default.
func NewTelemetry(ringSize int) *Telemetry {
	if ringSize <= 0 {
		ringSize = DefaultErrorRingSize
	}
	return &Telemetry{ring: make([]string, ringSize)}
}

func (t *Telemetry) record(err string) {
	t.ring[t.ringNext] = err
	t.ringNext = (t.ringNext + 1) % len(t.ring)
	if t.ringLen < len(t.ring) {
		t.ringLen++
	}
}

// UpOK counts one successfully decoded and verified uplink frame.
func (t *Telemetry) UpOK() {
	t.mu.Lock()
	t.upOK++
	t.mu.Unlock()
}

// UpFail counts one dropped uplink frame and records why.
func (t *Telemetry) UpFail(reason string) {
	t.mu.Lock()
	t.upFail++
	t.record(reason)
	t.mu.Unlock()
}

// DownOK counts one frame handed to a radio writer.
func (t *Telemetry) DownOK() {
	t.mu.Lock()
	t.downOK++
	t.mu.Unlock()
}

// DownFail counts one frame that never reached the radio and records why.
func (t *Telemetry) DownFail(reason string) {
	t.mu.Lock()
	t.downFail++
	t.record(reason)
	t.mu.Unlock()
}

// Counts returns the four counters in (up_ok, up_fail, down_ok, down_fail)
// order.
func (t *Telemetry) Counts() (upOK, upFail, downOK, downFail uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.upOK, t.upFail, t.downOK, t.downFail
}

// Errors returns the ring's contents, oldest first.
func (t *Telemetry) Errors() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, t.ringLen)
	start := t.ringNext - t.ringLen
	if start < 0 {
		start += len(t.ring)
	}
	for i := 0; i < t.ringLen; i++ {
		out = append(out, t.ring[(start+i)%len(t.ring)])
	}
	return out
}
