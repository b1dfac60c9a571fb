package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

const envelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new checkpoints.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are old keys tried when decryption with ActiveKey fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

// sealed is the encrypted part of a checkpoint.
type sealed struct {
	State       domain.State `json:"state"`
	Payload     any          `json:"payload,omitempty"`
	ResumeValue any          `json:"resume_value,omitempty"`
}

type encryptionMiddleware struct {
	next   ports.CheckpointSaver
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts checkpoint content using AES-GCM.
// Routing metadata (step, source, node, next) stays readable so threads can be listed and
// inspected without the key; state, interrupt payload and resume value are sealed.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.CheckpointSaver) ports.CheckpointSaver {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Put(ctx context.Context, cp *domain.Checkpoint) error {
	content := sealed{State: cp.State, ResumeValue: cp.ResumeValue}
	if cp.Interrupt != nil {
		content.Payload = cp.Interrupt.Payload
	}
	plainText, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt checkpoint: %w", err)
	}

	envelope := *cp
	envelope.State = domain.State{envelopeKey: base64.StdEncoding.EncodeToString(ciphertext)}
	envelope.ResumeValue = nil
	if cp.Interrupt != nil {
		envelope.Interrupt = &domain.Interrupt{Node: cp.Interrupt.Node}
	}
	return m.next.Put(ctx, &envelope)
}

func (m *encryptionMiddleware) Latest(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	envelope, err := m.next.Latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return m.open(envelope)
}

func (m *encryptionMiddleware) History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	envelopes, err := m.next.History(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Checkpoint, len(envelopes))
	for i, e := range envelopes {
		if out[i], err = m.open(e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, threadID string) error {
	return m.next.Delete(ctx, threadID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) open(envelope *domain.Checkpoint) (*domain.Checkpoint, error) {
	encryptedStr, ok := envelope.State[envelopeKey].(string)
	if !ok {
		// Fail secure: a plain checkpoint in an encrypted store is not trusted.
		return nil, errors.New("checkpoint is missing encrypted data envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt checkpoint %s: %w", envelope.ID, err)
	}

	var content sealed
	if err := json.Unmarshal(plainText, &content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted checkpoint: %w", err)
	}

	cp := *envelope
	cp.State = content.State
	cp.ResumeValue = content.ResumeValue
	if envelope.Interrupt != nil {
		cp.Interrupt = &domain.Interrupt{Node: envelope.Interrupt.Node, Payload: content.Payload}
	}
	return &cp, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
