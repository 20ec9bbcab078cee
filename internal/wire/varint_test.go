package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadVarInt(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantVal uint64
		wantLen int
		wantErr bool
	}{
		{"1 byte", []byte{0x25}, 37, 1, false},
		{"2 bytes", []byte{0x7b, 0xbd}, 15293, 2, false},
		{"4 bytes", []byte{0x9d, 0x7f, 0x3e, 0x7d}, 494878333, 4, false},
		{"8 bytes", []byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}, 151288809941952652, 8, false},
		{"too short", []byte{0x40}, 0, 0, true},
		{"empty", []byte{}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotVal, gotLen, err := ReadVarInt(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ReadVarInt() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && !errors.Is(err, ErrProtocol) {
				t.Errorf("ReadVarInt() error %v is not a protocol error", err)
			}
			if gotVal != tt.wantVal {
				t.Errorf("ReadVarInt() gotVal = %v, want %v", gotVal, tt.wantVal)
			}
			if gotLen != tt.wantLen {
				t.Errorf("ReadVarInt() gotLen = %v, want %v", gotLen, tt.wantLen)
			}
		})
	}
}

func TestAppendVarIntEncodings(t *testing.T) {
	tests := []struct {
		val  uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{63, []byte{0x3f}},
		{64, []byte{0x40, 0x40}},
		{16383, []byte{0x7f, 0xff}},
		{16384, []byte{0x80, 0x00, 0x40, 0x00}},
		{1073741823, []byte{0xbf, 0xff, 0xff, 0xff}},
		{1073741824, []byte{0xc0, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		got, err := AppendVarInt(nil, tt.val)
		if err != nil {
			t.Fatalf("AppendVarInt(%d): %v", tt.val, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("AppendVarInt(%d) = %x, want %x", tt.val, got, tt.want)
		}
		if len(got) != VarIntLen(tt.val) {
			t.Errorf("VarIntLen(%d) = %d, encoded %d bytes", tt.val, VarIntLen(tt.val), len(got))
		}
	}
}

func TestVarIntRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 37, 63, 64, 15293, 16383, 16384, 494878333,
		1073741823, 1073741824, 151288809941952652, MaxVarInt,
	}
	for _, v := range values {
		enc, err := AppendVarInt(nil, v)
		if err != nil {
			t.Fatalf("AppendVarInt(%d): %v", v, err)
		}
		got, n, err := ReadVarInt(enc)
		if err != nil {
			t.Fatalf("ReadVarInt(%x): %v", enc, err)
		}
		if got != v || n != len(enc) {
			t.Errorf("round trip %d: got %d over %d bytes", v, got, n)
		}
	}
}

func TestAppendVarIntTooLarge(t *testing.T) {
	if _, err := AppendVarInt(nil, MaxVarInt+1); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
