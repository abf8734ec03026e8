package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

// Keeper seals and opens credential values under a machine-local 32-byte key.
type Keeper struct {
	key [32]byte
}

// LoadKeeper reads the key file, creating a fresh random key (mode 0600) when
// the file does not exist yet.
func LoadKeeper(path string) (*Keeper, error) {
	k := &Keeper{}

	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != len(k.key) {
			return nil, fmt.Errorf("config: key file %s is malformed", path)
		}
		copy(k.key[:], raw)
		return k, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if _, err := rand.Read(k.key[:]); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, k.key[:], 0o600); err != nil {
		return nil, err
	}
	return k, nil
}

// Seal encrypts plain and returns base64(nonce || box). Blank input stays
// blank so optional credentials round-trip as empty strings.
func (k *Keeper) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &k.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (k *Keeper) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	if len(raw) < 24 {
		return "", errors.New("config: sealed value too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &k.key)
	if !ok {
		return "", errors.New("config: sealed value did not authenticate")
	}
	return string(plain), nil
}

// Credentials is the decrypted provider key material.
type Credentials struct {
	OpenAIAPIKey   string
	SparkAppID     string
	SparkAPIKey    string
	SparkAPISecret string
}

type credentialsFile struct {
	OpenAIAPIKey   string `json:"openai_api_key"`
	SparkAppID     string `json:"spark_app_id"`
	SparkAPIKey    string `json:"spark_api_key"`
	SparkAPISecret string `json:"spark_api_secret"`
}

// LoadCredentials reads and decrypts the credentials file. A missing file is
// not an error; it returns nil so callers fall back to env vars only.
func LoadCredentials(k *Keeper, path string) (*Credentials, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var f credentialsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	c := &Credentials{}
	if c.OpenAIAPIKey, err = k.Open(f.OpenAIAPIKey); err != nil {
		return nil, err
	}
	if c.SparkAppID, err = k.Open(f.SparkAppID); err != nil {
		return nil, err
	}
	if c.SparkAPIKey, err = k.Open(f.SparkAPIKey); err != nil {
		return nil, err
	}
	if c.SparkAPISecret, err = k.Open(f.SparkAPISecret); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveCredentials encrypts and writes the credentials file (mode 0600).
func SaveCredentials(k *Keeper, path string, c *Credentials) error {
	var f credentialsFile
	var err error
	if f.OpenAIAPIKey, err = k.Seal(c.OpenAIAPIKey); err != nil {
		return err
	}
	if f.SparkAppID, err = k.Seal(c.SparkAppID); err != nil {
		return err
	}
	if f.SparkAPIKey, err = k.Seal(c.SparkAPIKey); err != nil {
		return err
	}
	if f.SparkAPISecret, err = k.Seal(c.SparkAPISecret); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
