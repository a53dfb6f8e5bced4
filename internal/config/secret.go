package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	apiKeyCipherEnv = "SOULTALK_APIKEY_KEY"
	encryptedPrefix = "enc:"
)

var errInvalidCiphertext = errors.New("invalid api key ciphertext")

// KeyCipher seals provider API keys so they can sit in config files as "enc:<base64>".
type KeyCipher struct {
	aead cipher.AEAD
}

// NewKeyCipherFromEnv builds the cipher from SOULTALK_APIKEY_KEY (32 raw bytes or base64).
func NewKeyCipherFromEnv() (*KeyCipher, error) {
	raw := strings.TrimSpace(os.Getenv(apiKeyCipherEnv))
	if raw == "" {
		return nil, fmt.Errorf("%s not set", apiKeyCipherEnv)
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", apiKeyCipherEnv, err)
	}
	return NewKeyCipher(key)
}

func NewKeyCipher(key []byte) (*KeyCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &KeyCipher{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

// Encrypt returns the config-ready form, prefix included.
func (c *KeyCipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plain), nil)
	buf := append(nonce, sealed...)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(buf), nil
}

func (c *KeyCipher) Decrypt(input string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(input, encryptedPrefix))
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}

// decryptProviderKeys only builds the cipher when some key actually needs it.
func (c *Config) decryptProviderKeys() error {
	var kc *KeyCipher
	for name, p := range c.Providers {
		if !strings.HasPrefix(p.APIKey, encryptedPrefix) {
			continue
		}
		if kc == nil {
			var err error
			if kc, err = NewKeyCipherFromEnv(); err != nil {
				return fmt.Errorf("provider %s: %w", name, err)
			}
		}
		plain, err := kc.Decrypt(p.APIKey)
		if err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		p.APIKey = plain
		c.Providers[name] = p
	}
	return nil
}
