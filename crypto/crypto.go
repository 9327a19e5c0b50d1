// Package crypto holds the ed25519 identities that sign transactions and
// blocks, and the SHA-256 digests that name them. Keys, signatures and
// digests travel as lowercase hex.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned by Verify when the signature does not
// match the data.
var ErrInvalidSignature = errors.New("signature verification failed")

// PrivateKey is an ed25519 private key.
type PrivateKey []byte

// PublicKey is an ed25519 public key. Its hex form is an account address.
type PublicKey []byte

// GenerateKeyPair creates a random key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// Public derives the public half of priv.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// Hex encodes the key as 64 hex characters.
func (pub PublicKey) Hex() string { return hex.EncodeToString(pub) }

// PubKeyFromHex parses an account address back into a public key.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := decodeHex(s, ed25519.PublicKeySize, "public key")
	if err != nil {
		return nil, err
	}
	return PublicKey(b), nil
}

// IsPubKeyHex reports whether s is a well-formed key address, as opposed to
// a module address such as the auction escrow.
func IsPubKeyHex(s string) bool {
	_, err := PubKeyFromHex(s)
	return err == nil
}

// Sign returns the hex signature of data.
func Sign(priv PrivateKey, data []byte) string {
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), data))
}

// Verify checks a hex signature of data against pub.
func Verify(pub PublicKey, data []byte, sigHex string) error {
	sig, err := decodeHex(sigHex, ed25519.SignatureSize, "signature")
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashJSON returns the digest of the JSON encoding of v.
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return Hash(data), nil
}

func decodeHex(s string, size int, what string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s hex: %w", what, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", what, size, len(b))
	}
	return b, nil
}
