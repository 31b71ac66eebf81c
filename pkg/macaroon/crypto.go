package macaroon

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Scheme abstracts the cryptographic primitives a credential is built on.
// All operations are pure functions of their inputs; implementations must be
// safe for concurrent use.
type Scheme interface {
	// MAC computes a keyed message authentication code over data.
	MAC(key string, data []byte) (string, error)

	// Encrypt and Decrypt form a symmetric pair:
	// Decrypt(k, Encrypt(k, p)) == p for every key k and plaintext p.
	Encrypt(key string, plaintext []byte) ([]byte, error)
	Decrypt(key string, ciphertext []byte) (string, error)

	// BindForRequest is the one-way function applied to a discharge
	// credential's signature when it is bound to a primary credential.
	BindForRequest(signature string) string
}

const (
	aesKeySize = 16
	aesIVSize  = 16
)

// SimpleScheme is the default Scheme: HMAC-SHA-256 with Base64-encoded
// output, AES-128-CTR with a key-derived IV, and SHA-256 signature binding.
//
// The CTR IV is derived deterministically from the key and short keys are
// stretched by repetition. Both are weak, but they are part of the signature
// chain of existing credentials; replacing them with an AEAD and random
// nonces breaks every credential minted under this scheme.
type SimpleScheme struct{}

func (SimpleScheme) MAC(key string, data []byte) (string, error) {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// adjustAESKey repeats a short key until it covers the AES key size, then
// truncates to exactly that size.
func adjustAESKey(key string) ([]byte, error) {
	raw := []byte(key)
	if len(raw) == 0 {
		return nil, NewError(ErrCodeCryptoFailure, "empty encryption key")
	}
	for len(raw) < aesKeySize {
		raw = append(raw, raw...)
	}
	return raw[:aesKeySize], nil
}

func newCTRStream(key string) (cipher.Stream, error) {
	raw, err := adjustAESKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, wrapError(ErrCodeCryptoFailure, "init cipher", err)
	}
	digest := sha256.Sum256(raw)
	return cipher.NewCTR(block, digest[:aesIVSize]), nil
}

func (SimpleScheme) Encrypt(key string, plaintext []byte) ([]byte, error) {
	stream, err := newCTRStream(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	stream.XORKeyStream(out, plaintext)
	return out, nil
}

func (SimpleScheme) Decrypt(key string, ciphertext []byte) (string, error) {
	stream, err := newCTRStream(key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(ciphertext))
	stream.XORKeyStream(out, ciphertext)
	return string(out), nil
}

// BindForRequest hashes the signature so a discharge credential can only be
// consumed together with the credential it was bound to. The digest is kept
// as a raw byte string.
func (SimpleScheme) BindForRequest(signature string) string {
	digest := sha256.Sum256([]byte(signature))
	return string(digest[:])
}
