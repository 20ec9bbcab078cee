package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ewancrowle/quill/internal/config"
	"github.com/ewancrowle/quill/internal/congestion"
	"github.com/ewancrowle/quill/internal/logging"
	"github.com/ewancrowle/quill/internal/secrets"
	"github.com/ewancrowle/quill/internal/wire"
)

func testConfig(target string) *config.Config {
	cfg := &config.Config{}
	cfg.Transport.Listen = "127.0.0.1:0"
	cfg.Transport.Target = target
	cfg.Transport.Version = "draft-16"
	cfg.Transport.DCIDLength = 8
	cfg.Transport.SCIDLength = 8
	return cfg
}

func listenPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	addr, _ := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	peer, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return peer
}

func TestSendProducesParsableInitial(t *testing.T) {
	peer := listenPeer(t)

	cc := congestion.NewController(0, nil, logging.Nop{})
	e, err := NewEndpoint(testConfig(peer.LocalAddr().String()), cc, nil, logging.Nop{}, nil)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer e.Close()

	payload := []byte{0x18, 0x00, 0x03, 0x01, 0x02, 0x03}
	if err := e.Send(context.Background(), wire.PacketTypeInitial, nil, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, wire.MaxDatagramSize)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if n < wire.MinInitialDatagramSize {
		t.Errorf("initial datagram is %d bytes on the wire", n)
	}

	// The peer derives the same initial keys from the client's DCID.
	dcid, scid := e.ConnectionIDs()
	keys, err := secrets.Initial(wire.Draft16, dcid)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	p, consumed, err := wire.Parse(buf[:n], keys.Client(), 0, logging.Nop{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if consumed != n {
		t.Errorf("consumed %d of %d bytes", consumed, n)
	}
	if p.Type != wire.PacketTypeInitial || p.PacketNumber != 0 {
		t.Errorf("got %s pn=%d", p.Type, p.PacketNumber)
	}
	if !bytes.Equal(p.SourceID, scid) {
		t.Errorf("SCID mismatch")
	}
	if !bytes.Equal(p.Payload[:len(payload)], payload) {
		t.Errorf("payload mismatch")
	}

	if got := e.Counters().PacketsSent; got != 1 {
		t.Errorf("packets sent: got %d, want 1", got)
	}
	if cc.BytesInFlight() != int64(n) {
		t.Errorf("bytes in flight: got %d, want %d", cc.BytesInFlight(), n)
	}

	// Acking the packet empties the flight.
	e.OnPacketsAcked(context.Background(), []wire.AckRange{{Smallest: 0, Largest: 0}})
	if cc.BytesInFlight() != 0 {
		t.Errorf("bytes in flight after ack: %d", cc.BytesInFlight())
	}
}

func TestSendGatedByCongestionWindow(t *testing.T) {
	peer := listenPeer(t)

	cc := congestion.NewController(congestion.MinimumWindow, nil, logging.Nop{})
	e, err := NewEndpoint(testConfig(peer.LocalAddr().String()), cc, nil, logging.Nop{}, nil)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer e.Close()

	payload := []byte{0x00}
	if err := e.Send(context.Background(), wire.PacketTypeInitial, nil, payload); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := e.Send(context.Background(), wire.PacketTypeInitial, nil, payload); err != nil {
		t.Fatalf("second send: %v", err)
	}
	err = e.Send(context.Background(), wire.PacketTypeInitial, nil, payload)
	if !errors.Is(err, ErrCongestionLimited) {
		t.Fatalf("third send: got %v, want congestion limited", err)
	}

	// Losses free the window again (halved, floored at the minimum).
	e.OnPacketsLost(context.Background(), []uint64{0, 1})
	if err := e.Send(context.Background(), wire.PacketTypeInitial, nil, payload); err != nil {
		t.Fatalf("send after loss: %v", err)
	}
}

func TestReceiveFeedsCryptoStream(t *testing.T) {
	cc := congestion.NewController(0, nil, logging.Nop{})
	e, err := NewEndpoint(testConfig(""), cc, nil, logging.Nop{}, nil)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	dcid, _ := e.ConnectionIDs()
	keys, err := secrets.Initial(wire.Draft16, dcid)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}

	cryptoData := []byte("server handshake flight")
	frame := []byte{0x18, 0x00, byte(len(cryptoData))}
	frame = append(frame, cryptoData...)
	p := &wire.Packet{
		Type:          wire.PacketTypeHandshake,
		Version:       wire.Draft16,
		DestinationID: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		SourceID:      []byte{9, 10, 11, 12},
		PacketNumber:  0,
		Payload:       frame,
	}
	datagram, err := p.Build(keys.Server())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sender, err := net.Dial("udp", e.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sender.Close()
	if _, err := sender.Write(datagram); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if bytes.Equal(e.CryptoStream().Bytes(), cryptoData) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("crypto stream never assembled; got %q", e.CryptoStream().Bytes())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := e.Counters().PacketsReceived; got != 1 {
		t.Errorf("packets received: got %d, want 1", got)
	}

	cancel()
	<-done
}

func TestAckOfUnknownPacketIsIgnored(t *testing.T) {
	cc := congestion.NewController(0, nil, logging.Nop{})
	e, err := NewEndpoint(testConfig(""), cc, nil, logging.Nop{}, nil)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer e.Close()

	before := cc.Snapshot()
	e.OnPacketsAcked(context.Background(), []wire.AckRange{{Smallest: 5, Largest: 9}})
	if cc.Snapshot() != before {
		t.Errorf("ack of unknown packets changed controller state")
	}
}
