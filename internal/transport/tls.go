package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSOptions configure the wss:// connection. All fields are optional; with
// none set the system roots are used.
type TLSOptions struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerNameOverride string
	InsecureSkipVerify bool
}

func (o TLSOptions) empty() bool {
	return o == TLSOptions{}
}

// LoadClientTLS builds the client TLS config, or nil when no option is set.
func LoadClientTLS(opts TLSOptions) (*tls.Config, error) {
	if opts.empty() {
		return nil, nil
	}

	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	if opts.CertFile != "" || opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	if opts.CAFile != "" {
		caPool := x509.NewCertPool()
		ca, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		if !caPool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		config.RootCAs = caPool
	}

	if opts.ServerNameOverride != "" {
		config.ServerName = opts.ServerNameOverride
	}

	return config, nil
}
