package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/ewancrowle/quill/internal/logging"
)

const (
	// MaxDatagramSize bounds every datagram the codec produces.
	MaxDatagramSize = 1500
	// MinInitialDatagramSize is the padding target for client Initial packets.
	MinInitialDatagramSize = 1200

	aeadTagLen = 16
	sampleLen  = 16
	// The header-protection sample starts this many bytes past the packet
	// number offset, so the mask never depends on the packet number length.
	sampleSkip = 4
)

// Keys is the per-direction view of the connection secrets the codec
// borrows: AEAD seal/open plus the header-protection mask.
type Keys interface {
	Seal(plaintext, aad []byte, pn uint64) []byte
	Open(ciphertext, aad []byte, pn uint64) ([]byte, error)
	HeaderProtectionMask(sample []byte) []byte
}

// PacketType selects the long-header subtype.
type PacketType byte

const (
	PacketTypeInitial PacketType = iota
	PacketTypeZeroRTT
	PacketTypeHandshake
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeInitial:
		return "initial"
	case PacketTypeZeroRTT:
		return "0-rtt"
	case PacketTypeHandshake:
		return "handshake"
	}
	return fmt.Sprintf("packet-type(%d)", byte(t))
}

// Packet is a long-header packet. Token is only meaningful for Initial.
// Payload holds the plaintext frame bytes; a packet is immutable once built.
type Packet struct {
	Type          PacketType
	Version       Version
	DestinationID ConnectionID
	SourceID      ConnectionID
	Token         []byte
	PacketNumber  uint64
	Payload       []byte
}

// Each subtype contributes its first-byte marker, any extra header fields,
// and the parse for those fields. The build/parse skeleton lives once below.
type typeHooks struct {
	typ    PacketType
	marker byte

	appendFields func(b []byte, p *Packet) ([]byte, error)
	parseFields  func(data []byte, p *Packet) (int, error)
}

var longHeaderTypes = []typeHooks{
	{
		typ:    PacketTypeInitial,
		marker: 0xc0,
		appendFields: func(b []byte, p *Packet) ([]byte, error) {
			b, err := AppendVarInt(b, uint64(len(p.Token)))
			if err != nil {
				return nil, err
			}
			return append(b, p.Token...), nil
		},
		parseFields: func(data []byte, p *Packet) (int, error) {
			tokenLen, n, err := ReadVarInt(data)
			if err != nil {
				return 0, fmt.Errorf("initial token length: %w", err)
			}
			if uint64(len(data)-n) < tokenLen {
				return 0, fmt.Errorf("%w: initial token truncated", ErrProtocol)
			}
			if tokenLen > 0 {
				p.Token = append([]byte(nil), data[n:n+int(tokenLen)]...)
			}
			return n + int(tokenLen), nil
		},
	},
	{
		typ:          PacketTypeZeroRTT,
		marker:       0xd0,
		appendFields: func(b []byte, p *Packet) ([]byte, error) { return b, nil },
		parseFields:  func(data []byte, p *Packet) (int, error) { return 0, nil },
	},
	{
		typ:          PacketTypeHandshake,
		marker:       0xe0,
		appendFields: func(b []byte, p *Packet) ([]byte, error) { return b, nil },
		parseFields:  func(data []byte, p *Packet) (int, error) { return 0, nil },
	},
}

func hooksForType(t PacketType) (*typeHooks, error) {
	for i := range longHeaderTypes {
		if longHeaderTypes[i].typ == t {
			return &longHeaderTypes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: packet type %d", ErrConfiguration, t)
}

// matches validates the first byte against the marker. Only the high nibble
// is compared: the low nibble carries header-protected bits.
func (h *typeHooks) matches(first byte) bool {
	return first&0xf0 == h.marker
}

func hooksForFirstByte(first byte) (*typeHooks, error) {
	if first&0x80 == 0 {
		return nil, fmt.Errorf("%w: not a long header (first byte 0x%02x)", ErrProtocol, first)
	}
	for i := range longHeaderTypes {
		if longHeaderTypes[i].matches(first) {
			return &longHeaderTypes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: unrecognized type byte 0x%02x", ErrProtocol, first)
}

// packetNumberLen picks the smallest 1..4 byte encoding for pn.
func packetNumberLen(pn uint64) int {
	switch {
	case pn < 1<<8:
		return 1
	case pn < 1<<16:
		return 2
	case pn < 1<<24:
		return 3
	default:
		return 4
	}
}

func appendPacketNumber(b []byte, pn uint64, pnLen int) []byte {
	for i := pnLen - 1; i >= 0; i-- {
		b = append(b, byte(pn>>(8*uint(i))))
	}
	return b
}

// DecodePacketNumber reconstructs a full packet number from its truncated
// encoding, picking the candidate closest to one above the largest packet
// number seen so far.
func DecodePacketNumber(largest, truncated uint64, pnLen int) uint64 {
	expected := largest + 1
	win := uint64(1) << (uint(pnLen) * 8)
	hwin := win / 2
	candidate := (expected &^ (win - 1)) | truncated
	if expected > hwin && candidate <= expected-hwin && candidate < MaxVarInt+1-win {
		return candidate + win
	}
	if candidate > expected+hwin && candidate >= win {
		return candidate - win
	}
	return candidate
}

// Build serializes p into a single protected datagram using the sender-side
// keys. Initial packets are padded until the datagram reaches the minimum
// Initial size; every packet carries enough padding for the header
// protection sample.
func (p *Packet) Build(keys Keys) ([]byte, error) {
	hooks, err := hooksForType(p.Type)
	if err != nil {
		return nil, err
	}
	if _, err := NewConnectionID(p.DestinationID); err != nil {
		return nil, fmt.Errorf("destination id: %w", err)
	}
	if _, err := NewConnectionID(p.SourceID); err != nil {
		return nil, fmt.Errorf("source id: %w", err)
	}

	pnLen := packetNumberLen(p.PacketNumber)

	b := make([]byte, 0, MaxDatagramSize)
	b = append(b, hooks.marker|byte(pnLen-1))
	b = binary.BigEndian.AppendUint32(b, uint32(p.Version))
	b = append(b, encodeConnIDLens(p.DestinationID, p.SourceID))
	b = append(b, p.DestinationID...)
	b = append(b, p.SourceID...)
	b, err = hooks.appendFields(b, p)
	if err != nil {
		return nil, err
	}

	// The ciphertext must cover the sample window past the packet number.
	minPad := 0
	if short := sampleSkip - pnLen - len(p.Payload); short > 0 {
		minPad = short
	}
	pad := minPad
	if p.Type == PacketTypeInitial {
		// Two passes: adding padding can widen the Length varint. Trim any
		// overshoot from the widening as long as the varint class holds.
		for i := 0; i < 2; i++ {
			length := pnLen + len(p.Payload) + pad + aeadTagLen
			total := len(b) + VarIntLen(uint64(length)) + length
			if total < MinInitialDatagramSize {
				pad += MinInitialDatagramSize - total
			}
		}
		length := pnLen + len(p.Payload) + pad + aeadTagLen
		if over := len(b) + VarIntLen(uint64(length)) + length - MinInitialDatagramSize; over > 0 {
			trimmed := pad - over
			if trimmed >= minPad && VarIntLen(uint64(length-over)) == VarIntLen(uint64(length)) {
				pad = trimmed
			}
		}
	}

	length := pnLen + len(p.Payload) + pad + aeadTagLen
	if total := len(b) + VarIntLen(uint64(length)) + length; total > MaxDatagramSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketSize, total)
	}
	b, err = AppendVarInt(b, uint64(length))
	if err != nil {
		return nil, err
	}

	pnOffset := len(b)
	b = appendPacketNumber(b, p.PacketNumber, pnLen)

	// The buffer prefix through the packet number is the associated data.
	aad := b[:pnOffset+pnLen]
	plaintext := make([]byte, len(p.Payload)+pad)
	copy(plaintext, p.Payload)
	b = append(b, keys.Seal(plaintext, aad, p.PacketNumber)...)

	sample := b[pnOffset+sampleSkip : pnOffset+sampleSkip+sampleLen]
	mask := keys.HeaderProtectionMask(sample)
	b[0] ^= mask[0] & 0x0f
	for i := 0; i < pnLen; i++ {
		b[pnOffset+i] ^= mask[1+i]
	}
	return b, nil
}

// Parse reads one long-header packet from the front of data using the
// receiver-side keys, returning the packet and the number of bytes it
// occupied so callers can walk coalesced datagrams. largest is the highest
// packet number seen so far in this space; it anchors packet number
// reconstruction.
func Parse(data []byte, keys Keys, largest uint64, log logging.Logger) (*Packet, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("%w: empty datagram", ErrProtocol)
	}
	hooks, err := hooksForFirstByte(data[0])
	if err != nil {
		return nil, 0, err
	}
	p := &Packet{Type: hooks.typ}

	if len(data) < 6 {
		return nil, 0, fmt.Errorf("%w: long header truncated", ErrProtocol)
	}
	p.Version = Version(binary.BigEndian.Uint32(data[1:5]))
	if !p.Version.Known() {
		return nil, 0, fmt.Errorf("%w: unknown version 0x%08x", ErrProtocol, uint32(p.Version))
	}

	dcidLen, scidLen := decodeConnIDLens(data[5])
	cur := 6
	if len(data) < cur+dcidLen+scidLen {
		return nil, 0, fmt.Errorf("%w: connection IDs truncated", ErrProtocol)
	}
	p.DestinationID = append(ConnectionID(nil), data[cur:cur+dcidLen]...)
	cur += dcidLen
	p.SourceID = append(ConnectionID(nil), data[cur:cur+scidLen]...)
	cur += scidLen

	n, err := hooks.parseFields(data[cur:], p)
	if err != nil {
		return nil, 0, err
	}
	cur += n

	length, n, err := ReadVarInt(data[cur:])
	if err != nil {
		return nil, 0, fmt.Errorf("length field: %w", err)
	}
	cur += n

	pnOffset := cur
	if uint64(len(data)-pnOffset) < length {
		return nil, 0, fmt.Errorf("%w: length %d overruns datagram", ErrProtocol, length)
	}
	if len(data) < pnOffset+sampleSkip+sampleLen {
		return nil, 0, fmt.Errorf("%w: too short for header protection sample", ErrProtocol)
	}

	mask := keys.HeaderProtectionMask(data[pnOffset+sampleSkip : pnOffset+sampleSkip+sampleLen])
	first := data[0] ^ (mask[0] & 0x0f)
	pnLen := int(first&0x03) + 1
	if length < uint64(pnLen+aeadTagLen) {
		return nil, 0, fmt.Errorf("%w: length %d below packet number and tag", ErrProtocol, length)
	}

	var truncated uint64
	pnBytes := make([]byte, pnLen)
	for i := 0; i < pnLen; i++ {
		pnBytes[i] = data[pnOffset+i] ^ mask[1+i]
		truncated = truncated<<8 | uint64(pnBytes[i])
	}
	p.PacketNumber = DecodePacketNumber(largest, truncated, pnLen)

	// Associated data is the header prefix with protection removed.
	aad := make([]byte, pnOffset+pnLen)
	copy(aad, data[:pnOffset])
	aad[0] = first
	copy(aad[pnOffset:], pnBytes)

	ciphertext := data[pnOffset+pnLen : pnOffset+int(length)]
	plaintext, err := keys.Open(ciphertext, aad, p.PacketNumber)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s packet %d", ErrAuthentication, p.Type, p.PacketNumber)
	}
	p.Payload = plaintext

	log.Debug(fmt.Sprintf("parsed %s packet pn=%d dcid=%s version=%s (%d bytes)",
		p.Type, p.PacketNumber, p.DestinationID, p.Version, pnOffset+int(length)))
	return p, pnOffset + int(length), nil
}
