package wire

import "fmt"

// Frame type codepoints. The ACK family moved between drafts: a bare 0x0d
// before draft 15, 0x1a/0x1b (without/with ECN counts) from draft 15 on.
const (
	frameTypePadding  = 0x00
	frameTypeCrypto   = 0x18
	frameTypeAckPre15 = 0x0d
	frameTypeAck      = 0x1a
	frameTypeAckECN   = 0x1b
)

// AckRange is a contiguous run of acknowledged packet numbers, inclusive.
type AckRange struct {
	Smallest uint64
	Largest  uint64
}

// ECNCounts carries the ECN counters of an ACK frame that has them.
type ECNCounts struct {
	ECT0, ECT1, CE uint64
}

// FrameHandler receives the frames the dispatcher recognizes. CRYPTO bytes
// go to the TLS state holder; ACK ranges go to the loss-detection layer.
type FrameHandler interface {
	HandleCrypto(offset uint64, data []byte) error
	HandleAck(largestAcked uint64, ackDelay uint64, ranges []AckRange, ecn *ECNCounts) error
}

// DispatchFrames walks the decrypted payload and hands each frame to h,
// consuming the buffer until empty. Unknown codepoints surface
// ErrNotYetImplemented; codepoints from the wrong draft era count as
// unknown.
func DispatchFrames(payload []byte, version Version, h FrameHandler) error {
	cur := 0
	for cur < len(payload) {
		switch t := payload[cur]; {
		case t == frameTypePadding:
			cur++
		case t == frameTypeCrypto:
			n, err := dispatchCrypto(payload[cur:], h)
			if err != nil {
				return err
			}
			cur += n
		case t == frameTypeAckPre15 && !version.AtLeast(Draft15),
			(t == frameTypeAck || t == frameTypeAckECN) && version.AtLeast(Draft15):
			n, err := dispatchAck(payload[cur:], t == frameTypeAckECN, h)
			if err != nil {
				return err
			}
			cur += n
		default:
			return fmt.Errorf("%w: frame type 0x%02x at offset %d", ErrNotYetImplemented, t, cur)
		}
	}
	return nil
}

// A CRYPTO frame: type, offset (varint), length (varint), data.
func dispatchCrypto(data []byte, h FrameHandler) (int, error) {
	cur := 1
	offset, n, err := ReadVarInt(data[cur:])
	if err != nil {
		return 0, fmt.Errorf("crypto frame offset: %w", err)
	}
	cur += n

	length, n, err := ReadVarInt(data[cur:])
	if err != nil {
		return 0, fmt.Errorf("crypto frame length: %w", err)
	}
	cur += n

	if uint64(len(data)-cur) < length {
		return 0, fmt.Errorf("%w: crypto frame data truncated", ErrProtocol)
	}
	if err := h.HandleCrypto(offset, data[cur:cur+int(length)]); err != nil {
		return 0, err
	}
	return cur + int(length), nil
}

// An ACK frame: type, largest acknowledged, ack delay, range count, first
// range, then (gap, range) pairs, plus three ECN counts for 0x1b.
func dispatchAck(data []byte, ecn bool, h FrameHandler) (int, error) {
	cur := 1
	largest, n, err := ReadVarInt(data[cur:])
	if err != nil {
		return 0, fmt.Errorf("ack largest acknowledged: %w", err)
	}
	cur += n

	delay, n, err := ReadVarInt(data[cur:])
	if err != nil {
		return 0, fmt.Errorf("ack delay: %w", err)
	}
	cur += n

	rangeCount, n, err := ReadVarInt(data[cur:])
	if err != nil {
		return 0, fmt.Errorf("ack range count: %w", err)
	}
	cur += n

	firstRange, n, err := ReadVarInt(data[cur:])
	if err != nil {
		return 0, fmt.Errorf("ack first range: %w", err)
	}
	cur += n

	if firstRange > largest {
		return 0, fmt.Errorf("%w: ack first range %d exceeds largest %d", ErrProtocol, firstRange, largest)
	}
	ranges := []AckRange{{Smallest: largest - firstRange, Largest: largest}}

	for i := uint64(0); i < rangeCount; i++ {
		gap, n, err := ReadVarInt(data[cur:])
		if err != nil {
			return 0, fmt.Errorf("ack gap %d: %w", i, err)
		}
		cur += n

		rangeLen, n, err := ReadVarInt(data[cur:])
		if err != nil {
			return 0, fmt.Errorf("ack range %d: %w", i, err)
		}
		cur += n

		prevSmallest := ranges[len(ranges)-1].Smallest
		if prevSmallest < gap+2 {
			return 0, fmt.Errorf("%w: ack gap %d underflows packet number space", ErrProtocol, i)
		}
		rangeLargest := prevSmallest - gap - 2
		if rangeLen > rangeLargest {
			return 0, fmt.Errorf("%w: ack range %d exceeds its largest %d", ErrProtocol, rangeLen, rangeLargest)
		}
		ranges = append(ranges, AckRange{Smallest: rangeLargest - rangeLen, Largest: rangeLargest})
	}

	var counts *ECNCounts
	if ecn {
		counts = &ECNCounts{}
		for _, dst := range []*uint64{&counts.ECT0, &counts.ECT1, &counts.CE} {
			v, n, err := ReadVarInt(data[cur:])
			if err != nil {
				return 0, fmt.Errorf("ack ecn count: %w", err)
			}
			*dst = v
			cur += n
		}
	}

	if err := h.HandleAck(largest, delay, ranges, counts); err != nil {
		return 0, err
	}
	return cur, nil
}
