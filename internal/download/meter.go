package download

import "time"

// rateMeter derives speed and ETA for one fetch attempt. Each retry gets
// a fresh meter so a failed attempt's history never skews the next one.
// Received byte counts are clamped to be non-decreasing within the
// attempt.
type rateMeter struct {
	start time.Time
	now   func() time.Time
	last  int64
}

func newRateMeter() *rateMeter {
	return &rateMeter{now: time.Now}
}

// sample folds one progress callback into the meter and returns the
// clamped byte count, the average speed in bytes per second, and the
// remaining time in seconds (0 when unknown).
func (m *rateMeter) sample(received, total int64) (int64, float64, int64) {
	t := m.now()
	if m.start.IsZero() {
		m.start = t
	}
	if received < m.last {
		received = m.last
	}
	// A mid-attempt fallback handoff restarts the byte stream with its own
	// total; the clamped count must never exceed what the current stream
	// claims to hold.
	if total > 0 && received > total {
		received = total
	}
	m.last = received

	elapsed := t.Sub(m.start).Seconds()
	if elapsed <= 0 {
		return received, 0, 0
	}
	speed := float64(received) / elapsed
	var eta int64
	if speed > 0 && total > received {
		eta = int64(float64(total-received) / speed)
	}
	return received, speed, eta
}
