package tlsstate

import (
	"bytes"
	"testing"
)

func TestStreamInOrder(t *testing.T) {
	s := NewStream()
	if err := s.Receive(0, []byte("hello ")); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := s.Receive(6, []byte("world")); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got := string(s.Bytes()); got != "hello world" {
		t.Errorf("assembled %q", got)
	}
	if s.Offset() != 11 {
		t.Errorf("offset: got %d, want 11", s.Offset())
	}
}

func TestStreamDuplicateAndOverlap(t *testing.T) {
	s := NewStream()
	if err := s.Receive(0, []byte("abcdef")); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	// Exact duplicate: dropped.
	if err := s.Receive(0, []byte("abcdef")); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if got := string(s.Bytes()); got != "abcdef" {
		t.Errorf("after duplicate: %q", got)
	}
	// Overlap extending the stream: only the new tail is kept.
	if err := s.Receive(4, []byte("efgh")); err != nil {
		t.Fatalf("overlap: %v", err)
	}
	if got := string(s.Bytes()); got != "abcdefgh" {
		t.Errorf("after overlap: %q", got)
	}
}

func TestStreamOutOfOrder(t *testing.T) {
	s := NewStream()
	if err := s.Receive(10, []byte("late")); err == nil {
		t.Error("expected error for data past the stream edge")
	}
}

func TestExtractSNI(t *testing.T) {
	clientHello := []byte{
		0x01,             // Handshake Type: ClientHello
		0x00, 0x00, 0x3f, // Length
		0x03, 0x03, // Version
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // Random
		0x00,                   // Session ID Length
		0x00, 0x02, 0x13, 0x01, // Cipher Suites
		0x01, 0x00, // Compression Methods
		0x00, 0x14, // Extensions Length
		0x00, 0x00, // Extension: server_name
		0x00, 0x10, // Extension Length
		0x00, 0x0e, // SNI List Length
		0x00,       // Type: host_name
		0x00, 0x0b, // Name Length
		'e', 'x', 'a', 'm', 'p', 'l', 'e', '.', 'c', 'o', 'm',
	}

	sni, err := ExtractSNI(clientHello)
	if err != nil {
		t.Fatalf("ExtractSNI failed: %v", err)
	}
	if sni != "example.com" {
		t.Errorf("Expected example.com, got %s", sni)
	}
}

func TestExtractSNIRejects(t *testing.T) {
	if _, err := ExtractSNI(nil); err == nil {
		t.Error("empty input accepted")
	}
	if _, err := ExtractSNI([]byte{0x02, 0x00, 0x00, 0x00}); err == nil {
		t.Error("ServerHello accepted")
	}
	if _, err := ExtractSNI(bytes.Repeat([]byte{0x01}, 8)); err == nil {
		t.Error("truncated hello accepted")
	}
}
