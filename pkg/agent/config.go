package agent

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// DefaultPort is the port the agent listens on
const DefaultPort = 2223

// Config contains configuration for the agent server
type Config struct {
	Host     string // Listen address, empty for all interfaces
	Port     int    // Server port
	CertFile string // Server certificate file
	KeyFile  string // Server private key file
	CAFile   string // CA certificate file for client verification
	LogFile  string // Optional log file path

	// UploadDir keeps captures posted to /analyze; uploads are refused
	// when empty
	UploadDir string
	// MaxUpload bounds the size of a posted capture in bytes
	MaxUpload int64
}

// DefaultConfig returns default agent configuration
func DefaultConfig() Config {
	return Config{
		Port:      DefaultPort,
		MaxUpload: 256 << 20,
	}
}

// TLSEnabled reports whether the server requires mutual TLS
func (c Config) TLSEnabled() bool {
	return c.CertFile != "" || c.KeyFile != "" || c.CAFile != ""
}

// Addr returns the listen address
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxUpload < 0 {
		return fmt.Errorf("invalid upload limit: %d", c.MaxUpload)
	}
	if c.TLSEnabled() {
		return checkTLSFiles(c.CertFile, c.KeyFile, c.CAFile, "server")
	}
	return nil
}

// LoadTLSConfig creates the mutual TLS configuration, nil when TLS is off
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	caCertPool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig contains configuration for the agent client
type ClientConfig struct {
	Host     string // Target host
	Port     int    // Target port
	CertFile string // Client certificate file
	KeyFile  string // Client private key file
	CAFile   string // CA certificate file for server verification
	// Timeout bounds each request; analyses of large uploads can be slow
	Timeout time.Duration
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:    "localhost",
		Port:    DefaultPort,
		Timeout: 5 * time.Minute,
	}
}

// TLSEnabled reports whether the client presents a certificate
func (c ClientConfig) TLSEnabled() bool {
	return c.CertFile != "" || c.KeyFile != "" || c.CAFile != ""
}

// BaseURL returns the agent URL without a trailing slash
func (c ClientConfig) BaseURL() string {
	scheme := "http"
	if c.TLSEnabled() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Validate checks if the client configuration is valid
func (c ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.TLSEnabled() {
		return checkTLSFiles(c.CertFile, c.KeyFile, c.CAFile, "client")
	}
	return nil
}

// LoadClientTLSConfig creates TLS configuration for the client, nil when
// TLS is off
func (c ClientConfig) LoadClientTLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCertPool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func checkTLSFiles(certFile, keyFile, caFile, role string) error {
	if certFile == "" {
		return fmt.Errorf("%s certificate file is required", role)
	}
	if keyFile == "" {
		return fmt.Errorf("%s key file is required", role)
	}
	if caFile == "" {
		return fmt.Errorf("CA certificate file is required")
	}

	for _, f := range []string{certFile, keyFile, caFile} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("file not found: %s", f)
		}
	}
	return nil
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile) // #nosec G304 -- user-specified CA file
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return pool, nil
}
