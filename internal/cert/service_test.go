package cert

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratesChain(t *testing.T) {
	dir := t.TempDir()
	svc, err := New(dir, nil)
	require.NoError(t, err)

	ca, _, err := loadPair(svc.CaCertPath, svc.CaKeyPath)
	require.NoError(t, err)
	server, _, err := loadPair(svc.ServerCertPath, svc.ServerKeyPath)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(ca)
	_, err = server.Verify(x509.VerifyOptions{DNSName: "localhost", Roots: pool})
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ca.pem"), svc.CaCertPath)
}

func TestNewReusesExisting(t *testing.T) {
	dir := t.TempDir()
	first, err := New(dir, &Options{DomainNames: []string{"gateway.local"}})
	require.NoError(t, err)
	before, err := os.ReadFile(first.ServerCertPath)
	require.NoError(t, err)

	second, err := New(dir, nil)
	require.NoError(t, err)
	after, err := os.ReadFile(second.ServerCertPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestNewRegeneratesServerForNewCA(t *testing.T) {
	dir := t.TempDir()
	svc, err := New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(svc.CaKeyPath))

	svc, err = New(dir, nil)
	require.NoError(t, err)
	ca, _, err := loadPair(svc.CaCertPath, svc.CaKeyPath)
	require.NoError(t, err)
	server, _, err := loadPair(svc.ServerCertPath, svc.ServerKeyPath)
	require.NoError(t, err)
	assert.NoError(t, server.CheckSignatureFrom(ca))
}
