// Package congestion implements the NewReno controller that gates the send
// path: a congestion window in bytes, grown on acknowledgments and halved
// on loss, with an implicit recovery period keyed on send times.
package congestion

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ewancrowle/quill/internal/logging"
)

const (
	// MaxDatagramSize is the datagram size the window arithmetic assumes.
	MaxDatagramSize = 1200
	// MinimumWindow is the floor the window never drops below.
	MinimumWindow = 2 * MaxDatagramSize
	// InitialWindowPackets sizes the starting window.
	InitialWindowPackets = 10

	lossReductionFactor = 2
)

// PacketInfo describes a packet the sender has put on the wire. Produced
// when the packet leaves, consumed on acknowledgment or loss.
type PacketInfo struct {
	PacketNumber uint64
	TimeSent     time.Time
	Size         int
	InFlight     bool
}

// Mode is derived, never stored: slow start while cwnd is below ssthresh.
type Mode int

const (
	SlowStart Mode = iota
	CongestionAvoidance
)

func (m Mode) String() string {
	if m == SlowStart {
		return "slow-start"
	}
	return "congestion-avoidance"
}

// Snapshot is a consistent read of the controller state.
type Snapshot struct {
	BytesInFlight      int64  `json:"bytes_in_flight"`
	CongestionWindow   int64  `json:"congestion_window"`
	SlowStartThreshold int64  `json:"slow_start_threshold"`
	Mode               string `json:"mode"`
}

// Controller is the NewReno congestion controller. All state is guarded by
// one mutex; operations are short and never block, so calls from the sender
// and the loss-detection side serialize cleanly.
type Controller struct {
	mu    sync.Mutex
	clock Clock
	log   logging.Logger

	bytesInFlight int64
	cwnd          int64
	ssthresh      int64
	recoveryStart time.Time
}

// NewController builds a controller with the given initial window. A zero
// initialWindow selects InitialWindowPackets * MaxDatagramSize.
func NewController(initialWindow int64, clock Clock, log logging.Logger) *Controller {
	if initialWindow <= 0 {
		initialWindow = InitialWindowPackets * MaxDatagramSize
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Controller{
		clock:    clock,
		log:      log,
		cwnd:     initialWindow,
		ssthresh: math.MaxInt64,
	}
}

// CanSend reports whether a packet of the given size fits the window.
func (c *Controller) CanSend(nextPacketSize int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesInFlight+int64(nextPacketSize) <= c.cwnd
}

// OnPacketSent counts the packet against the window if it is in flight.
func (c *Controller) OnPacketSent(p PacketInfo) {
	if !p.InFlight {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesInFlight += int64(p.Size)
}

// OnPacketsAcked removes the acked packets from flight and grows the
// window for those sent after recovery began. Acks of pre-recovery packets
// must not grow the window.
func (c *Controller) OnPacketsAcked(packets []PacketInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range packets {
		if p.InFlight {
			c.bytesInFlight -= int64(p.Size)
		}
		if !p.TimeSent.After(c.recoveryStart) {
			continue
		}
		if c.cwnd < c.ssthresh {
			c.cwnd += int64(p.Size)
			c.log.CC(fmt.Sprintf("slow start: cwnd %d (+%d)", c.cwnd, p.Size))
		} else {
			// Bytes-mode NewReno; the truncation is deliberate.
			c.cwnd += MaxDatagramSize * int64(p.Size) / c.cwnd
			c.log.CC(fmt.Sprintf("congestion avoidance: cwnd %d", c.cwnd))
		}
	}
}

// OnPacketsLost removes the lost packets from flight and registers one
// congestion event, keyed on the send time of the largest-numbered loss.
func (c *Controller) OnPacketsLost(packets []PacketInfo) {
	if len(packets) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	largest := packets[0]
	for _, p := range packets {
		if p.InFlight {
			c.bytesInFlight -= int64(p.Size)
		}
		if p.PacketNumber > largest.PacketNumber {
			largest = p
		}
	}
	c.congestionEvent(largest.TimeSent)
}

// congestionEvent halves the window once per recovery period: a loss sent
// before the current recovery started is part of the same event.
func (c *Controller) congestionEvent(timeSent time.Time) {
	if !timeSent.After(c.recoveryStart) {
		return
	}
	c.recoveryStart = c.clock.Now()
	c.cwnd /= lossReductionFactor
	if c.cwnd < MinimumWindow {
		c.cwnd = MinimumWindow
	}
	c.ssthresh = c.cwnd
	c.log.CC(fmt.Sprintf("congestion event: cwnd %d ssthresh %d", c.cwnd, c.ssthresh))
}

// BytesInFlight returns the current in-flight byte count.
func (c *Controller) BytesInFlight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesInFlight
}

// Snapshot reads the controller state in one critical section.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	mode := SlowStart
	if c.cwnd >= c.ssthresh {
		mode = CongestionAvoidance
	}
	return Snapshot{
		BytesInFlight:      c.bytesInFlight,
		CongestionWindow:   c.cwnd,
		SlowStartThreshold: c.ssthresh,
		Mode:               mode.String(),
	}
}
