// Package transport owns the UDP endpoint of a client connection: it builds
// outbound long-header packets when the congestion controller admits them,
// walks inbound coalesced datagrams through the codec, and feeds ack and
// loss events back into the controller.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ewancrowle/quill/internal/config"
	"github.com/ewancrowle/quill/internal/congestion"
	"github.com/ewancrowle/quill/internal/logging"
	"github.com/ewancrowle/quill/internal/secrets"
	"github.com/ewancrowle/quill/internal/telemetry"
	"github.com/ewancrowle/quill/internal/tlsstate"
	"github.com/ewancrowle/quill/internal/wire"
)

// ErrCongestionLimited is returned by Send when the window has no room for
// the packet.
var ErrCongestionLimited = errors.New("congestion window full")

// Counters are monotonic endpoint statistics, exposed on the debug API.
type Counters struct {
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	AuthFailures    uint64 `json:"auth_failures"`
	ParseFailures   uint64 `json:"parse_failures"`
}

// Endpoint is one client connection's transport: codec plus controller
// around a UDP socket.
type Endpoint struct {
	conn       *net.UDPConn
	remote     *net.UDPAddr
	version    wire.Version
	keys       *secrets.Secrets
	cc         *congestion.Controller
	clock      congestion.Clock
	crypto     *tlsstate.Stream
	log        logging.Logger
	pub        *telemetry.Publisher
	logPackets bool

	mu              sync.Mutex
	dcid            wire.ConnectionID
	scid            wire.ConnectionID
	nextPacket      uint64
	largestReceived uint64
	outstanding     map[uint64]congestion.PacketInfo
	counters        Counters
}

func NewEndpoint(cfg *config.Config, cc *congestion.Controller, clock congestion.Clock, log logging.Logger, pub *telemetry.Publisher) (*Endpoint, error) {
	version, err := wire.ParseVersionString(cfg.Transport.Version)
	if err != nil {
		return nil, err
	}
	dcid, err := wire.RandomConnectionID(cfg.Transport.DCIDLength)
	if err != nil {
		return nil, err
	}
	scid, err := wire.RandomConnectionID(cfg.Transport.SCIDLength)
	if err != nil {
		return nil, err
	}
	keys, err := secrets.Initial(version, dcid)
	if err != nil {
		return nil, err
	}

	listenAddr, err := net.ResolveUDPAddr("udp", cfg.Transport.Listen)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	var remote *net.UDPAddr
	if cfg.Transport.Target != "" {
		remote, err = net.ResolveUDPAddr("udp", cfg.Transport.Target)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	if clock == nil {
		clock = congestion.SystemClock
	}
	return &Endpoint{
		conn:        conn,
		remote:      remote,
		version:     version,
		keys:        keys,
		cc:          cc,
		clock:       clock,
		crypto:      tlsstate.NewStream(),
		log:         log,
		pub:         pub,
		logPackets:  cfg.Transport.LogPackets,
		dcid:        dcid,
		scid:        scid,
		outstanding: make(map[uint64]congestion.PacketInfo),
	}, nil
}

// LocalAddr returns the bound UDP address.
func (e *Endpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// ConnectionIDs returns the destination and source IDs this endpoint writes
// into its long headers.
func (e *Endpoint) ConnectionIDs() (dcid, scid wire.ConnectionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dcid, e.scid
}

// Close releases the socket.
func (e *Endpoint) Close() error { return e.conn.Close() }

// Run reads datagrams until the context is canceled or the socket closes.
func (e *Endpoint) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		e.conn.Close()
	}()

	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.processDatagram(ctx, data)
	}
}

// processDatagram walks the coalesced long-header packets of one datagram.
func (e *Endpoint) processDatagram(ctx context.Context, data []byte) {
	cur := 0
	for cur < len(data) {
		p, n, err := e.receiveOne(data[cur:])
		if err != nil {
			if errors.Is(err, wire.ErrAuthentication) {
				// Dropped silently on the wire; only counted.
				e.count(func(c *Counters) { c.AuthFailures++ })
			} else {
				e.count(func(c *Counters) { c.ParseFailures++ })
				if e.logPackets {
					e.log.Debug(fmt.Sprintf("dropping datagram tail: %v", err))
				}
			}
			return
		}
		cur += n

		if err := wire.DispatchFrames(p.Payload, e.version, &frameSink{endpoint: e, ctx: ctx}); err != nil {
			e.log.Debug(fmt.Sprintf("frame dispatch on %s packet %d: %v", p.Type, p.PacketNumber, err))
			return
		}
	}
}

func (e *Endpoint) receiveOne(data []byte) (*wire.Packet, int, error) {
	e.mu.Lock()
	largest := e.largestReceived
	e.mu.Unlock()

	p, n, err := wire.Parse(data, e.keys.Server(), largest, e.log)
	if err != nil {
		return nil, 0, err
	}

	e.mu.Lock()
	if p.PacketNumber > e.largestReceived {
		e.largestReceived = p.PacketNumber
	}
	e.counters.PacketsReceived++
	e.mu.Unlock()

	if e.logPackets {
		e.log.DebugBuffer(fmt.Sprintf("received %s packet %d", p.Type, p.PacketNumber), data[:n])
	}
	return p, n, nil
}

// Send builds, protects and transmits one packet carrying payload. The
// congestion controller gates the transmission; a denied send returns
// ErrCongestionLimited and leaves no state behind.
func (e *Endpoint) Send(ctx context.Context, t wire.PacketType, token, payload []byte) error {
	if e.remote == nil {
		return errors.New("no target configured")
	}

	e.mu.Lock()
	pn := e.nextPacket
	e.mu.Unlock()

	p := &wire.Packet{
		Type:          t,
		Version:       e.version,
		DestinationID: e.dcid,
		SourceID:      e.scid,
		Token:         token,
		PacketNumber:  pn,
		Payload:       payload,
	}
	datagram, err := p.Build(e.keys.Client())
	if err != nil {
		return err
	}

	if !e.cc.CanSend(len(datagram)) {
		return ErrCongestionLimited
	}
	if _, err := e.conn.WriteToUDP(datagram, e.remote); err != nil {
		return err
	}

	info := congestion.PacketInfo{
		PacketNumber: pn,
		TimeSent:     e.clock.Now(),
		Size:         len(datagram),
		InFlight:     true,
	}
	e.cc.OnPacketSent(info)

	e.mu.Lock()
	e.nextPacket = pn + 1
	e.outstanding[pn] = info
	e.counters.PacketsSent++
	e.mu.Unlock()

	if e.logPackets {
		e.log.DebugBuffer(fmt.Sprintf("sent %s packet %d", t, pn), datagram)
	}
	e.publish(ctx, "sent", len(datagram))
	return nil
}

// OnPacketsAcked is the entry point for the loss-detection layer: packets
// in the given ranges leave flight and grow the window.
func (e *Endpoint) OnPacketsAcked(ctx context.Context, ranges []wire.AckRange) {
	acked := e.takeOutstanding(ranges)
	if len(acked) == 0 {
		return
	}
	e.cc.OnPacketsAcked(acked)
	for _, p := range acked {
		e.publish(ctx, "ack", p.Size)
	}
}

// OnPacketsLost is the entry point for the loss-detection layer: the listed
// packets leave flight and trigger at most one congestion event.
func (e *Endpoint) OnPacketsLost(ctx context.Context, packetNumbers []uint64) {
	var ranges []wire.AckRange
	for _, pn := range packetNumbers {
		ranges = append(ranges, wire.AckRange{Smallest: pn, Largest: pn})
	}
	lost := e.takeOutstanding(ranges)
	if len(lost) == 0 {
		return
	}
	e.cc.OnPacketsLost(lost)
	for _, p := range lost {
		e.publish(ctx, "loss", p.Size)
	}
}

func (e *Endpoint) takeOutstanding(ranges []wire.AckRange) []congestion.PacketInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	var taken []congestion.PacketInfo
	for _, r := range ranges {
		for pn := r.Smallest; pn <= r.Largest; pn++ {
			if info, ok := e.outstanding[pn]; ok {
				taken = append(taken, info)
				delete(e.outstanding, pn)
			}
			if pn == r.Largest { // guard uint64 wrap
				break
			}
		}
	}
	return taken
}

// Counters returns a copy of the endpoint statistics.
func (e *Endpoint) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// CryptoStream exposes the assembled CRYPTO stream (the TLS holder's view).
func (e *Endpoint) CryptoStream() *tlsstate.Stream { return e.crypto }

func (e *Endpoint) count(f func(*Counters)) {
	e.mu.Lock()
	f(&e.counters)
	e.mu.Unlock()
}

func (e *Endpoint) publish(ctx context.Context, typ string, size int) {
	if e.pub == nil {
		return
	}
	snap := e.cc.Snapshot()
	if err := e.pub.Publish(ctx, telemetry.Event{
		Type:             typ,
		Bytes:            size,
		CongestionWindow: snap.CongestionWindow,
		BytesInFlight:    snap.BytesInFlight,
		At:               e.clock.Now(),
	}); err != nil {
		e.log.Debug(fmt.Sprintf("telemetry publish: %v", err))
	}
}

// frameSink adapts the endpoint to the codec's frame dispatch.
type frameSink struct {
	endpoint *Endpoint
	ctx      context.Context
}

func (s *frameSink) HandleCrypto(offset uint64, data []byte) error {
	e := s.endpoint
	if err := e.crypto.Receive(offset, data); err != nil {
		return err
	}
	if sni, err := tlsstate.ExtractSNI(e.crypto.Bytes()); err == nil {
		e.log.Debug(fmt.Sprintf("peer handshake names %s", sni))
	}
	return nil
}

func (s *frameSink) HandleAck(largestAcked uint64, ackDelay uint64, ranges []wire.AckRange, ecn *wire.ECNCounts) error {
	s.endpoint.OnPacketsAcked(s.ctx, ranges)
	return nil
}
