package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

var ErrNoSigningKey = errors.New("no signing key loaded")

type KeyConfig struct {
	// KeyID labels the first key written to PrivateKeyPath. Rotated keys are
	// labelled with KeyIDFor. The label in use is stored next to the key file
	// so a restart keeps it.
	KeyID             string
	PrivateKeyPath    string
	GenerateIfMissing bool

	// Rand overrides the entropy source for generated keys.
	Rand io.Reader
}

// KeyManager owns the active signing key and signs with whichever key is current.
type KeyManager struct {
	mu      sync.RWMutex
	cfg     KeyConfig
	current *Ed25519Signer
	retired []*Ed25519Signer
}

func NewKeyManager(cfg KeyConfig) *KeyManager {
	return &KeyManager{cfg: cfg}
}

// LoadOrGenerate loads the configured key file, creating it first when allowed.
// Without a path and with generation enabled, the key lives only in memory.
func (m *KeyManager) LoadOrGenerate() (*Ed25519Signer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.PrivateKeyPath != "" {
		priv, _, err := LoadEd25519PrivateKey(m.cfg.PrivateKeyPath)
		switch {
		case err == nil:
			keyID, err := m.storedKeyID()
			if err != nil {
				return nil, err
			}
			m.current = NewEd25519Signer(keyID, priv)
			return m.current, nil
		case !errors.Is(err, os.ErrNotExist) || !m.cfg.GenerateIfMissing:
			return nil, fmt.Errorf("load signing key: %w", err)
		}
	} else if !m.cfg.GenerateIfMissing {
		return nil, ErrNoSigningKey
	}

	signer, err := m.generateLocked(m.cfg.KeyID)
	if err != nil {
		return nil, err
	}
	m.current = signer
	return signer, nil
}

// Rotate replaces the active key with a freshly generated one. Retired keys
// remain available through PublicKey.
func (m *KeyManager) Rotate() (*Ed25519Signer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	signer, err := m.generateLocked("")
	if err != nil {
		return nil, err
	}
	if m.current != nil {
		m.retired = append(m.retired, m.current)
	}
	m.current = signer
	return signer, nil
}

func (m *KeyManager) generateLocked(keyID string) (*Ed25519Signer, error) {
	priv, pub, err := GenerateKeyPair(m.cfg.Rand)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	if keyID == "" {
		keyID = KeyIDFor(pub)
	}
	if m.cfg.PrivateKeyPath != "" {
		if err := WriteEd25519PrivateKey(m.cfg.PrivateKeyPath, priv); err != nil {
			return nil, fmt.Errorf("persist signing key: %w", err)
		}
		if err := os.WriteFile(m.keyIDPath(), []byte(keyID+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("persist signing key id: %w", err)
		}
	}
	return NewEd25519Signer(keyID, priv), nil
}

func (m *KeyManager) keyIDPath() string { return m.cfg.PrivateKeyPath + ".kid" }

// storedKeyID returns the label written with the key file, falling back to
// the configured one for key files created elsewhere.
func (m *KeyManager) storedKeyID() (string, error) {
	// #nosec G304 -- path derives from the operator-configured key path.
	data, err := os.ReadFile(m.keyIDPath())
	switch {
	case err == nil:
		return strings.TrimSpace(string(data)), nil
	case errors.Is(err, os.ErrNotExist):
		return m.cfg.KeyID, nil
	default:
		return "", fmt.Errorf("load signing key id: %w", err)
	}
}

func (m *KeyManager) Current() *Ed25519Signer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// PublicKey returns the public key for keyID among the active and retired keys.
func (m *KeyManager) PublicKey(keyID string) (ed25519.PublicKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current != nil && m.current.KeyID() == keyID {
		return m.current.PublicKey(), true
	}
	for _, s := range m.retired {
		if s.KeyID() == keyID {
			return s.PublicKey(), true
		}
	}
	return nil, false
}

func (m *KeyManager) KeyID() string {
	if s := m.Current(); s != nil {
		return s.KeyID()
	}
	return ""
}

func (m *KeyManager) Algorithm() string { return SealAlg }

func (m *KeyManager) Sign(message []byte) ([]byte, error) {
	s := m.Current()
	if s == nil {
		return nil, ErrNoSigningKey
	}
	return s.Sign(message)
}
