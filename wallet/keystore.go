package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/tolelom/tolauction/crypto"
)

// ErrWrongPassword is returned when a keystore cannot be decrypted.
var ErrWrongPassword = errors.New("wrong password or corrupted keystore")

const (
	keystoreVersion = 1
	kdfIterations   = 210_000
	saltSize        = 16
)

// keystore is the on-disk form: AES-256-GCM over the raw key, keyed by
// PBKDF2-SHA256 of the password. The address is stored in clear so a file
// can be identified without the password.
type keystore struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// SaveKey encrypts priv under password and writes it to path with mode 0600.
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	gcm, err := sealer(password, salt, kdfIterations)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	ks := keystore{
		Version:    keystoreVersion,
		Address:    priv.Public().Hex(),
		Iterations: kdfIterations,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(gcm.Seal(nil, nonce, priv, nil)),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadKey decrypts the keystore at path.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("keystore %s: %w", path, err)
	}
	if ks.Version != keystoreVersion {
		return nil, fmt.Errorf("keystore %s: unsupported version %d", path, ks.Version)
	}
	if ks.Iterations <= 0 {
		return nil, fmt.Errorf("keystore %s: bad iteration count", path)
	}
	var salt, nonce, sealed []byte
	for _, f := range []struct {
		dst  *[]byte
		src  string
		name string
	}{{&salt, ks.Salt, "salt"}, {&nonce, ks.Nonce, "nonce"}, {&sealed, ks.CipherText, "cipher_text"}} {
		if *f.dst, err = hex.DecodeString(f.src); err != nil {
			return nil, fmt.Errorf("keystore %s: %s: %w", path, f.name, err)
		}
	}

	gcm, err := sealer(password, salt, ks.Iterations)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("keystore %s: bad nonce length", path)
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	priv := crypto.PrivateKey(plain)
	if priv.Public().Hex() != ks.Address {
		return nil, fmt.Errorf("keystore %s: key does not match address %s", path, ks.Address)
	}
	return priv, nil
}

func sealer(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
