package security

import (
	"encoding/json"
	"fmt"
)

// DescriptorCipher seals and opens serialized TaskDescriptors before
// they reach the database, so credentials embedded in headers or TLS
// material are never stored in the clear. A nil cipher (no key
// configured) passes documents through unchanged.
type DescriptorCipher struct {
	svc *EncryptionService
}

// NewDescriptorCipher builds a cipher from a hex-encoded 32-byte key.
// An empty key disables encryption and returns a nil cipher, which is
// safe to call Seal and Open on.
func NewDescriptorCipher(keyHex string) (*DescriptorCipher, error) {
	if keyHex == "" {
		return nil, nil
	}
	svc, err := NewEncryptionService(keyHex)
	if err != nil {
		return nil, err
	}
	return &DescriptorCipher{svc: svc}, nil
}

// envelope is the stored shape of a sealed document.
type envelope struct {
	Encrypted string `json:"encrypted"`
	Nonce     string `json:"nonce"`
}

// Seal encrypts doc into an envelope suitable for a jsonb column.
func (c *DescriptorCipher) Seal(doc string) (string, error) {
	if c == nil {
		return doc, nil
	}
	encrypted, nonce, err := c.svc.Encrypt(map[string]string{"descriptor": doc})
	if err != nil {
		return "", fmt.Errorf("seal descriptor: %w", err)
	}
	out, err := json.Marshal(envelope{Encrypted: encrypted, Nonce: nonce})
	if err != nil {
		return "", fmt.Errorf("seal descriptor: %w", err)
	}
	return string(out), nil
}

// Open reverses Seal. Documents that are not envelopes (rows written
// before encryption was enabled) are returned as-is.
func (c *DescriptorCipher) Open(doc string) (string, error) {
	if c == nil {
		return doc, nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(doc), &env); err != nil || env.Encrypted == "" || env.Nonce == "" {
		return doc, nil
	}
	data, err := c.svc.Decrypt(env.Encrypted, env.Nonce)
	if err != nil {
		return "", fmt.Errorf("open descriptor: %w", err)
	}
	return data["descriptor"], nil
}
