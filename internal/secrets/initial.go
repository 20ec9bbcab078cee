package secrets

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ewancrowle/quill/internal/wire"
)

// Initial salts per version era. The drafts of this lineage share one salt;
// v1 has its own.
var (
	draftSalt = []byte{
		0xef, 0x4f, 0xb0, 0xab, 0xb4, 0x74, 0x70, 0xc4, 0x1b, 0xef,
		0xcf, 0x80, 0x31, 0x33, 0x4f, 0xae, 0x48, 0x5e, 0x09, 0xa0,
	}
	v1Salt = []byte{
		0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3, 0x4d, 0x17,
		0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad, 0xcc, 0xbb, 0x7f, 0x0a,
	}
)

func initialSalt(version wire.Version) ([]byte, error) {
	switch version {
	case wire.Draft14, wire.Draft15, wire.Draft16:
		return draftSalt, nil
	case wire.Version1:
		return v1Salt, nil
	}
	return nil, fmt.Errorf("no initial salt for version %s", version)
}

// Initial derives both directions of the Initial keys from the client's
// first destination connection ID.
func Initial(version wire.Version, dcid wire.ConnectionID) (*Secrets, error) {
	salt, err := initialSalt(version)
	if err != nil {
		return nil, err
	}
	initialSecret := hkdf.Extract(sha256.New, dcid, salt)

	client, err := directionKeys(deriveSecret(initialSecret, "client in", 32))
	if err != nil {
		return nil, err
	}
	server, err := directionKeys(deriveSecret(initialSecret, "server in", 32))
	if err != nil {
		return nil, err
	}
	return NewSecrets(client, server), nil
}

func directionKeys(secret []byte) (*Keys, error) {
	key := deriveSecret(secret, "quic key", 16)
	iv := deriveSecret(secret, "quic iv", 12)
	hp := deriveSecret(secret, "quic hp", 16)
	return NewAES(key, iv, hp)
}

// deriveSecret is HKDF-Expand-Label with the TLS 1.3 label prefix and an
// empty context.
func deriveSecret(secret []byte, label string, length int) []byte {
	fullLabel := "tls13 " + label
	info := make([]byte, 2+1+len(fullLabel)+1)
	binary.BigEndian.PutUint16(info[0:2], uint16(length))
	info[2] = uint8(len(fullLabel))
	copy(info[3:], fullLabel)
	info[3+len(fullLabel)] = 0

	out := make([]byte, length)
	k := hkdf.Expand(sha256.New, secret, info)
	_, _ = io.ReadFull(k, out)
	return out
}
