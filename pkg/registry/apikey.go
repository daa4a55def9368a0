package registry

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	apiKeyBytes = 32
	saltBytes   = 16
)

// dummyHash is compared against when the node does not exist so that the
// response time does not reveal whether an ID is registered.
var dummyHash string

func init() {
	h, err := HashAPIKey("0000000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		panic(fmt.Sprintf("registry: failed to build dummy hash: %v", err))
	}
	dummyHash = h
}

// GenerateAPIKey returns a new random 256-bit key, hex encoded
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashAPIKey returns hex(salt || BLAKE2b-256 keyed with salt over key)
func HashAPIKey(key string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	sum, err := keyedSum(salt, key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(append(salt, sum...)), nil
}

// VerifyAPIKey reports whether key matches the stored hash. The digest
// comparison is constant time.
func VerifyAPIKey(stored, key string) bool {
	raw, err := hex.DecodeString(stored)
	if err != nil || len(raw) != saltBytes+blake2b.Size256 {
		return false
	}
	sum, err := keyedSum(raw[:saltBytes], key)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(sum, raw[saltBytes:]) == 1
}

func keyedSum(salt []byte, key string) ([]byte, error) {
	h, err := blake2b.New256(salt)
	if err != nil {
		return nil, fmt.Errorf("failed to init hash: %w", err)
	}
	h.Write([]byte(key))
	return h.Sum(nil), nil
}
