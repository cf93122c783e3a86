package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var (
	ErrNotFound = errors.New("device identity not found")
	ErrInvalid  = errors.New("device identity is malformed")
)

const recordVersion = 1

// DeviceIdentity is the Ed25519 keypair the node authenticates with. It is
// loaded once and never mutated.
type DeviceIdentity struct {
	DeviceID   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

type record struct {
	Version       int    `json:"version"`
	DeviceID      string `json:"deviceId"`
	PublicKeyPem  string `json:"publicKeyPem"`
	PrivateKeyPem string `json:"privateKeyPem"`
}

// Load reads the persisted identity record at path. A missing file yields
// ErrNotFound; any other defect yields an error wrapping ErrInvalid.
func Load(path string) (*DeviceIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading device identity: %w", err)
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if rec.Version != recordVersion || rec.DeviceID == "" || rec.PublicKeyPem == "" || rec.PrivateKeyPem == "" {
		return nil, fmt.Errorf("%w: missing fields or unsupported version %d", ErrInvalid, rec.Version)
	}

	public, err := parsePublicKey(rec.PublicKeyPem)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	private, err := parsePrivateKey(rec.PrivateKeyPem)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !public.Equal(private.Public()) {
		return nil, fmt.Errorf("%w: public key does not match private key", ErrInvalid)
	}

	slog.Info("Device identity loaded", "device_id", shortID(rec.DeviceID))

	return &DeviceIdentity{
		DeviceID:   rec.DeviceID,
		PublicKey:  public,
		PrivateKey: private,
	}, nil
}

// Generate creates a fresh identity whose device id is the hex SHA-256 of the
// raw public key.
func Generate() (*DeviceIdentity, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return &DeviceIdentity{
		DeviceID:   fingerprint(public),
		PublicKey:  public,
		PrivateKey: private,
	}, nil
}

// Save writes the identity record with 0600 permissions, creating parent
// directories as needed.
func (d *DeviceIdentity) Save(path string) error {
	publicDER, err := x509.MarshalPKIXPublicKey(d.PublicKey)
	if err != nil {
		return fmt.Errorf("encoding public key: %w", err)
	}
	privateDER, err := x509.MarshalPKCS8PrivateKey(d.PrivateKey)
	if err != nil {
		return fmt.Errorf("encoding private key: %w", err)
	}

	rec := record{
		Version:       recordVersion,
		DeviceID:      d.DeviceID,
		PublicKeyPem:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})),
		PrivateKeyPem: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling device identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing device identity: %w", err)
	}
	return nil
}

// Sign signs payload with the private key. Ed25519 digests internally, so the
// payload is passed as is. The signature is unpadded base64url.
func (d *DeviceIdentity) Sign(payload []byte) string {
	return base64.RawURLEncoding.EncodeToString(ed25519.Sign(d.PrivateKey, payload))
}

// PublicKeyEncoded returns the raw 32-byte public key as unpadded base64url.
func (d *DeviceIdentity) PublicKeyEncoded() string {
	return base64.RawURLEncoding.EncodeToString(d.PublicKey)
}

func parsePublicKey(data string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("public key is not PEM encoded")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	public, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want Ed25519", key)
	}
	return public, nil
}

func parsePrivateKey(data string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("private key is not PEM encoded")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	private, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want Ed25519", key)
	}
	return private, nil
}

func fingerprint(public ed25519.PublicKey) string {
	sum := sha256.Sum256(public)
	return hex.EncodeToString(sum[:])
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16] + "..."
	}
	return id
}
