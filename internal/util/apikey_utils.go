package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	APIKeyPrefixLength = 8
	APIKeySecretLength = 40
	APIKeyFormat       = "sk_%s_%s"
)

func generateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func generateRandomString(length int) (string, error) {
	// over-allocate so stripping '-' and '_' still leaves enough characters
	byteLength := length
	for {
		b, err := generateRandomBytes(byteLength)
		if err != nil {
			return "", err
		}

		str := base64.RawURLEncoding.EncodeToString(b)
		str = strings.ReplaceAll(str, "-", "")
		str = strings.ReplaceAll(str, "_", "")
		if len(str) >= length {
			return str[:length], nil
		}
		byteLength *= 2
	}
}

// GenerateAPIKey returns a new subscription API key, its public prefix and the hash that is
// stored in place of the key.
func GenerateAPIKey() (fullKey string, prefix string, keyHash string, err error) {
	prefix, err = generateRandomString(APIKeyPrefixLength)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate prefix: %w", err)
	}

	secret, err := generateRandomString(APIKeySecretLength)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	fullKey = fmt.Sprintf(APIKeyFormat, prefix, secret)
	return fullKey, prefix, HashAPIKey(fullKey), nil
}

func HashAPIKey(fullKey string) string {
	hashBytes := sha256.Sum256([]byte(fullKey))
	return fmt.Sprintf("%x", hashBytes)
}

// APIKeyPrefix extracts the prefix segment of a key in APIKeyFormat, or "" if the key is not in
// that format.
func APIKeyPrefix(fullKey string) string {
	parts := strings.SplitN(fullKey, "_", 3)
	if len(parts) < 3 || parts[0] != "sk" {
		return ""
	}
	return parts[1]
}
