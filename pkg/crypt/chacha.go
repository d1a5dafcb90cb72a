package crypt

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "appserver frame cipher v2"

// ErrEmptySecret is returned when no key material is configured.
var ErrEmptySecret = errors.New("crypt: empty secret")

// ChaCha20 returns a Factory producing XChaCha20 stream pairs keyed from
// secret and salt with HKDF-SHA256.
//
// Each Encrypt stream draws a random nonce and emits it in the clear ahead
// of its first ciphertext byte; Decrypt reads that nonce before producing
// output. No two streams share a key stream, whether they belong to
// different connections or to the two directions of one connection.
func ChaCha20(secret, salt []byte) (Factory, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	key := make([]byte, chacha20.KeySize)
	r := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	// Validate once so the factory itself cannot fail.
	if _, err := chacha20.NewUnauthenticatedCipher(key, make([]byte, chacha20.NonceSizeX)); err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return func() Pair {
		enc := &xstream{key: key}
		dec := &xstream{key: key}
		return Pair{
			Encrypt: enc.encrypt,
			Decrypt: dec.decrypt,
		}
	}, nil
}

// xstream is one direction of a pair. The cipher is created lazily once
// the nonce is known.
type xstream struct {
	key    []byte
	nonce  []byte
	cipher *chacha20.Cipher
}

func (s *xstream) encrypt(p []byte) []byte {
	if s.cipher != nil {
		out := make([]byte, len(p))
		s.cipher.XORKeyStream(out, p)
		return out
	}

	out := make([]byte, chacha20.NonceSizeX+len(p))
	nonce := out[:chacha20.NonceSizeX]
	_, _ = rand.Read(nonce)
	s.cipher, _ = chacha20.NewUnauthenticatedCipher(s.key, nonce)
	s.cipher.XORKeyStream(out[chacha20.NonceSizeX:], p)
	return out
}

func (s *xstream) decrypt(p []byte) []byte {
	if s.cipher == nil {
		need := chacha20.NonceSizeX - len(s.nonce)
		if len(p) < need {
			s.nonce = append(s.nonce, p...)
			return nil
		}
		s.nonce = append(s.nonce, p[:need]...)
		p = p[need:]
		s.cipher, _ = chacha20.NewUnauthenticatedCipher(s.key, s.nonce)
	}
	out := make([]byte, len(p))
	s.cipher.XORKeyStream(out, p)
	return out
}
