// ABOUTME: Clock offset tracking with drift compensation
// ABOUTME: Filters timing exchanges into a smoothed offset against a remote clock
package ntp

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

const (
	// maxRTT discards samples taken during network congestion (µs)
	maxRTT = 100000
	// degradedRTT marks a usable but slow exchange (µs)
	degradedRTT = 50000
	// maxResidual rejects clock jumps (µs)
	maxResidual = 50000
	// staleAfter is how long a sync stays good without new samples
	staleAfter = 5 * time.Second
)

// Clock tracks the offset and drift of a remote clock. Offsets are in
// microseconds, positive when the remote clock is ahead.
type Clock struct {
	mu             sync.RWMutex
	offset         int64
	drift          float64
	rtt            int64
	quality        Quality
	lastSync       time.Time
	lastSyncMicros int64
	samples        int
	smoothing      float64
	log            *logrus.Entry
}

// NewClock creates an unsynchronised clock
func NewClock() *Clock {
	return &Clock{
		smoothing: 0.1,
		quality:   QualityLost,
		log:       logrus.WithField("component", "ntp"),
	}
}

// CalculateOffset computes round trip and offset from one exchange: t1 local
// send, t2 remote receive, t3 remote send, t4 local receive
func CalculateOffset(t1, t2, t3, t4 int64) (rtt, offset int64) {
	rtt = (t4 - t1) - (t3 - t2)
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return
}

// Update feeds one exchange into the filter. It reports whether the sample
// was accepted.
func (c *Clock) Update(t1, t2, t3, t4 int64) bool {
	rtt, measured := CalculateOffset(t1, t2, t3, t4)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rtt = rtt
	if rtt > maxRTT {
		c.log.WithField("rtt_us", rtt).Debug("Discarding timing sample")
		return false
	}
	c.lastSync = time.Now()

	switch c.samples {
	case 0:
		c.offset = measured
	case 1:
		if dt := float64(t4 - c.lastSyncMicros); dt > 0 {
			c.drift = float64(measured-c.offset) / dt
		}
		c.offset = measured
	default:
		dt := float64(t4 - c.lastSyncMicros)
		if dt <= 0 {
			return false
		}
		predicted := c.offset + int64(c.drift*dt)
		residual := measured - predicted
		if residual > maxResidual || residual < -maxResidual {
			c.log.WithField("residual_us", residual).Debug("Discarding timing sample")
			return false
		}
		c.offset = predicted + int64(c.smoothing*float64(residual))
		c.drift += c.smoothing * float64(residual) / dt
	}

	c.lastSyncMicros = t4
	c.samples++
	if rtt < degradedRTT {
		c.quality = QualityGood
	} else {
		c.quality = QualityDegraded
	}
	return true
}

// Offset returns the current offset in microseconds
func (c *Clock) Offset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Stats returns offset, last round trip and quality
func (c *Clock) Stats() (offset, rtt int64, quality Quality) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q := c.quality
	if c.samples > 0 && time.Since(c.lastSync) > staleAfter {
		q = QualityLost
	}
	return c.offset, c.rtt, q
}

// RemoteMicros converts a local Unix microsecond time to the remote clock
func (c *Clock) RemoteMicros(local int64) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.samples == 0 {
		return local
	}
	dt := local - c.lastSyncMicros
	return local + c.offset + int64(c.drift*float64(dt))
}

// LocalTime converts a remote Unix microsecond time to local wall-clock time
func (c *Clock) LocalTime(remote int64) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.samples == 0 {
		return time.UnixMicro(remote)
	}
	num := float64(remote) - float64(c.offset) + c.drift*float64(c.lastSyncMicros)
	return time.UnixMicro(int64(num / (1 + c.drift)))
}
