// Package cert provisions a local CA and server certificate so a development
// gateway can serve wss:// that nodes verify with gateway.tls.ca_file.
package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	caCertFile     = "ca.pem"
	caKeyFile      = "ca-key.pem"
	serverCertFile = "server.pem"
	serverKeyFile  = "server-key.pem"
)

type Options struct {
	DomainNames []string
	IPAddresses []net.IP
}

// Service holds the paths of the material under one directory.
type Service struct {
	CaCertPath     string
	CaKeyPath      string
	ServerCertPath string
	ServerKeyPath  string
	DomainNames    []string
	IPAddresses    []net.IP
}

// New loads the certificates under dir, generating whatever is missing.
func New(dir string, opts *Options) (*Service, error) {
	s := &Service{
		CaCertPath:     filepath.Join(dir, caCertFile),
		CaKeyPath:      filepath.Join(dir, caKeyFile),
		ServerCertPath: filepath.Join(dir, serverCertFile),
		ServerKeyPath:  filepath.Join(dir, serverKeyFile),
	}
	if opts != nil {
		s.DomainNames = opts.DomainNames
		s.IPAddresses = opts.IPAddresses
	}
	if len(s.DomainNames) == 0 {
		s.DomainNames = []string{"localhost"}
	}
	if len(s.IPAddresses) == 0 {
		s.IPAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := s.ensureCertificates(); err != nil {
		return nil, fmt.Errorf("failed to ensure certificates: %w", err)
	}
	return s, nil
}

func (s *Service) ensureCertificates() error {
	var (
		caCert *x509.Certificate
		caKey  *ecdsa.PrivateKey
		err    error
	)
	if fileExists(s.CaCertPath) && fileExists(s.CaKeyPath) {
		slog.Debug("Using existing CA certificate", "cert_path", s.CaCertPath)
		if caCert, caKey, err = loadPair(s.CaCertPath, s.CaKeyPath); err != nil {
			return fmt.Errorf("failed to load existing CA certificate: %w", err)
		}
	} else {
		slog.Info("CA certificate not found, generating new CA", "cert_path", s.CaCertPath)
		if caCert, caKey, err = generateCA(); err != nil {
			return fmt.Errorf("failed to generate CA certificate: %w", err)
		}
		if err := writePair(caCert, caKey, s.CaCertPath, s.CaKeyPath); err != nil {
			return err
		}
		// A new CA invalidates any server certificate it did not sign.
		_ = os.Remove(s.ServerCertPath)
	}

	if fileExists(s.ServerCertPath) && fileExists(s.ServerKeyPath) {
		slog.Debug("Using existing server certificate", "cert_path", s.ServerCertPath)
		return nil
	}

	slog.Info("Generating server certificate", "cert_path", s.ServerCertPath, "domains", s.DomainNames, "ips", s.IPAddresses)
	serverCert, serverKey, err := generateServerCert(caCert, caKey, s.DomainNames, s.IPAddresses)
	if err != nil {
		return fmt.Errorf("failed to generate server certificate: %w", err)
	}
	return writePair(serverCert, serverKey, s.ServerCertPath, s.ServerKeyPath)
}

func serialNumber() (*big.Int, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return n, nil
}

func generateCA() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate CA key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Clawdbot Dev CA"},
			CommonName:   "Clawdbot Dev Root CA",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	return createCert(template, template, &key.PublicKey, key, key)
}

func generateServerCert(caCert *x509.Certificate, caKey *ecdsa.PrivateKey, domainNames []string, ipAddresses []net.IP) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate server key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Clawdbot Dev Gateway"},
			CommonName:   domainNames[0],
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              domainNames,
		IPAddresses:           ipAddresses,
	}
	return createCert(template, caCert, &key.PublicKey, caKey, key)
}

func createCert(template, parent *x509.Certificate, pub *ecdsa.PublicKey, signer, key *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, key, nil
}

func loadPair(certPath, keyPath string) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	certBlock, err := readPEM(certPath)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyBlock, err := readPEM(keyPath)
	if err != nil {
		return nil, nil, err
	}
	parsed, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("key in %s is not an ECDSA private key", keyPath)
	}
	return cert, key, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM in %s", path)
	}
	return block, nil
}

func writePair(cert *x509.Certificate, key *ecdsa.PrivateKey, certPath, keyPath string) error {
	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}), 0o644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}), 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
