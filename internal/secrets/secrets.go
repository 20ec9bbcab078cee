package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

// maskLen covers the first byte plus up to four packet number bytes.
const maskLen = 5

type headerProtector interface {
	mask(sample []byte) []byte
}

// Keys protects one direction of a connection: AEAD key material plus the
// header-protection key. Installed by the handshake layer and borrowed
// read-only by the codec.
type Keys struct {
	aead cipher.AEAD
	iv   []byte
	hp   headerProtector
}

// NewAES builds AES-128-GCM keys with AES-based header protection, the
// suite every connection starts with.
func NewAES(key, iv, hpKey []byte) (*Keys, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	hpBlock, err := aes.NewCipher(hpKey)
	if err != nil {
		return nil, err
	}
	return &Keys{aead: aead, iv: append([]byte(nil), iv...), hp: &aesProtector{block: hpBlock}}, nil
}

// NewChaCha20 builds ChaCha20-Poly1305 keys with ChaCha20-based header
// protection, for key material negotiated onto that suite.
func NewChaCha20(key, iv, hpKey []byte) (*Keys, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(hpKey) != chacha20.KeySize {
		return nil, fmt.Errorf("chacha20 header protection key must be %d bytes, got %d", chacha20.KeySize, len(hpKey))
	}
	return &Keys{aead: aead, iv: append([]byte(nil), iv...), hp: &chachaProtector{key: append([]byte(nil), hpKey...)}}, nil
}

// nonce is the IV XORed with the left-padded packet number.
func (k *Keys) nonce(pn uint64) []byte {
	nonce := make([]byte, len(k.iv))
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], pn)
	for i := range nonce {
		nonce[i] ^= k.iv[i]
	}
	return nonce
}

// Seal encrypts plaintext bound to aad, appending the 16-byte tag.
func (k *Keys) Seal(plaintext, aad []byte, pn uint64) []byte {
	return k.aead.Seal(nil, k.nonce(pn), plaintext, aad)
}

// Open authenticates and decrypts ciphertext bound to aad.
func (k *Keys) Open(ciphertext, aad []byte, pn uint64) ([]byte, error) {
	return k.aead.Open(nil, k.nonce(pn), ciphertext, aad)
}

// HeaderProtectionMask derives the 5-byte mask from a 16-byte ciphertext
// sample.
func (k *Keys) HeaderProtectionMask(sample []byte) []byte {
	return k.hp.mask(sample)
}

type aesProtector struct {
	block cipher.Block
}

func (p *aesProtector) mask(sample []byte) []byte {
	out := make([]byte, aes.BlockSize)
	p.block.Encrypt(out, sample[:aes.BlockSize])
	return out[:maskLen]
}

type chachaProtector struct {
	key []byte
}

// The sample supplies the block counter (first 4 bytes, little endian) and
// the nonce (remaining 12); the mask is the leading keystream bytes.
func (p *chachaProtector) mask(sample []byte) []byte {
	c, err := chacha20.NewUnauthenticatedCipher(p.key, sample[4:16])
	if err != nil {
		panic(err)
	}
	c.SetCounter(binary.LittleEndian.Uint32(sample[:4]))
	out := make([]byte, maskLen)
	c.XORKeyStream(out, out)
	return out
}

// Secrets pairs the two directions of a connection.
type Secrets struct {
	client *Keys
	server *Keys
}

func NewSecrets(client, server *Keys) *Secrets {
	return &Secrets{client: client, server: server}
}

// Client returns the client-direction keys (seals client-sent packets).
func (s *Secrets) Client() *Keys { return s.client }

// Server returns the server-direction keys (seals server-sent packets).
func (s *Secrets) Server() *Keys { return s.server }
