// Package crypto provides the token entry ciphers, the fingerprint hasher
// and the key sources they are keyed from.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/turtacn/secstate/internal/domain/service"
	"github.com/turtacn/secstate/pkg/constants"
	secerrors "github.com/turtacn/secstate/pkg/errors"
)

const tokenKeyInfo = "secstate-token-v1"

var (
	_ service.Cipher = (*AEADCipher)(nil)
	_ service.Cipher = (*XORCipher)(nil)
)

// NewCipher builds the cipher selected by algorithm from master key material.
func NewCipher(algorithm constants.CipherAlgorithm, master []byte) (service.Cipher, error) {
	switch algorithm {
	case constants.CipherAEAD, "":
		return NewAEADCipher(master)
	case constants.CipherLegacyXOR:
		return NewXORCipher(master)
	default:
		return nil, secerrors.ErrConfig(fmt.Sprintf("unsupported cipher algorithm: %s", algorithm))
	}
}

// AEADCipher seals with XChaCha20-Poly1305 under a key derived from the master
// secret with HKDF-SHA256. Output is nonce || ciphertext || tag.
type AEADCipher struct {
	aead cipher.AEAD
}

// NewAEADCipher derives the token key from master.
func NewAEADCipher(master []byte) (*AEADCipher, error) {
	if len(master) == 0 {
		return nil, secerrors.ErrCrypto("empty master key")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(tokenKeyInfo)), key); err != nil {
		return nil, secerrors.ErrCrypto("key derivation failed").WithCause(err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, secerrors.ErrCrypto("cipher init failed").WithCause(err)
	}
	return &AEADCipher{aead: aead}, nil
}

// Encrypt implements service.Cipher.
func (c *AEADCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, secerrors.ErrCrypto("nonce generation failed").WithCause(err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt implements service.Cipher.
func (c *AEADCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, secerrors.ErrCrypto("ciphertext too short")
	}
	plain, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, secerrors.ErrCrypto("message authentication failed")
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}

// XORCipher is the legacy repeating-key XOR obfuscation. It hides the entry
// from casual inspection only and detects no tampering.
type XORCipher struct {
	key []byte
}

// NewXORCipher creates an XORCipher. The key must not be empty.
func NewXORCipher(key []byte) (*XORCipher, error) {
	if len(key) == 0 {
		return nil, secerrors.ErrCrypto("empty obfuscation key")
	}
	return &XORCipher{key: append([]byte(nil), key...)}, nil
}

// Encrypt implements service.Cipher.
func (c *XORCipher) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out, nil
}

// Decrypt implements service.Cipher.
func (c *XORCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.Encrypt(ciphertext)
}
