// Package cert issues signed conformance certificates for analysis runs and
// the TLS certificates used between an agent and its clients
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"golang.org/x/exp/slices"
)

// DefaultCAKeyBits is the RSA key size of a new certificate authority
const DefaultCAKeyBits = 4096

// maxMargins is the number of tightest margins recorded in a certificate
const maxMargins = 5

var (
	oidStatus    = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 1}
	oidGrade     = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 2}
	oidCapture   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 3}
	oidVerdicts  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 4}
	oidBus       = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 5}
	oidMarginArc = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 2}
)

// Issuer signs certificates with a certificate authority
type Issuer struct {
	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
}

// NewIssuer creates an issuer with a new self-signed CA. bits <= 0 selects
// DefaultCAKeyBits
func NewIssuer(bits int) (*Issuer, error) {
	if bits <= 0 {
		bits = DefaultCAKeyBits
	}
	caKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	caTemplate := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Hummingbird I2C Bench"},
			CommonName:   "Hummingbird CA",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning, x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return &Issuer{caCert: caCert, caKey: caKey}, nil
}

// CA returns the certificate authority
func (i *Issuer) CA() *x509.Certificate {
	return i.caCert
}

// SaveCA saves the CA certificate and key to files
func (i *Issuer) SaveCA(certPath, keyPath string) error {
	if err := writePEM(certPath, "CERTIFICATE", i.caCert.Raw, 0o644); err != nil {
		return fmt.Errorf("failed to write CA cert: %w", err)
	}
	if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(i.caKey), 0o600); err != nil {
		return fmt.Errorf("failed to write CA key: %w", err)
	}
	return nil
}

// LoadCA loads CA certificate and key from files
func LoadCA(certPath, keyPath string) (*Issuer, error) {
	caCert, err := ReadCertificate(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}

	keyPEM, err := os.ReadFile(keyPath) // #nosec G304 -- keyPath is a user-specified CA key file path
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode CA key PEM")
	}

	caKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA key: %w", err)
	}

	if !caKey.PublicKey.Equal(caCert.PublicKey) {
		return nil, fmt.Errorf("CA key does not match CA certificate")
	}

	return &Issuer{caCert: caCert, caKey: caKey}, nil
}

// ReadCertificate reads the first PEM certificate in path
func ReadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-specified certificate file path
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

// IssueConformance signs a certificate recording the verdict of a completed
// run and its tightest margins
func (i *Issuer) IssueConformance(run *db.Run, results []*db.Result) (*Certificate, error) {
	if run.EndTime == nil {
		return nil, fmt.Errorf("run %d has not finished", run.ID)
	}
	if !run.Success {
		return nil, fmt.Errorf("run %d has no analysis: %s", run.ID, run.Error)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	extensions, err := buildExtensions(run, results)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Hummingbird I2C Conformance"},
			CommonName:   fmt.Sprintf("Run #%d", run.ID),
		},
		NotBefore:       run.StartTime,
		NotAfter:        run.StartTime.Add(365 * 24 * time.Hour),
		KeyUsage:        x509.KeyUsageDigitalSignature,
		ExtKeyUsage:     []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		ExtraExtensions: extensions,
	}

	return i.sign(template, key, run.ID)
}

// IssueTLS signs a TLS certificate for an agent server or client. Server
// certificates are valid for hosts, which may be names or IP addresses
func (i *Issuer) IssueTLS(commonName string, server bool, hosts []string) (*Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Hummingbird I2C Bench"},
			CommonName:   commonName,
		},
		NotBefore: now.Add(-time.Minute),
		NotAfter:  now.Add(365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}

	if server {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		for _, h := range hosts {
			if ip := net.ParseIP(h); ip != nil {
				template.IPAddresses = append(template.IPAddresses, ip)
			} else {
				template.DNSNames = append(template.DNSNames, h)
			}
		}
	} else {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	return i.sign(template, key, 0)
}

func (i *Issuer) sign(template *x509.Certificate, key *rsa.PrivateKey, runID int64) (*Certificate, error) {
	certDER, err := x509.CreateCertificate(rand.Reader, template, i.caCert, &key.PublicKey, i.caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Certificate{
		Certificate: cert,
		PrivateKey:  key,
		RunID:       runID,
		IssuedAt:    time.Now(),
	}, nil
}

// Verify checks that cert was signed by the CA for usage
func (i *Issuer) Verify(cert *x509.Certificate, usage x509.ExtKeyUsage) error {
	roots := x509.NewCertPool()
	roots.AddCert(i.caCert)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{usage},
	}

	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}

	return nil
}

func buildExtensions(run *db.Run, results []*db.Result) ([]pkix.Extension, error) {
	status := "PASS"
	if run.Fails > 0 {
		status = "FAIL"
	}

	values := []struct {
		id    asn1.ObjectIdentifier
		value string
	}{
		{oidStatus, status},
		{oidGrade, run.Grade},
		{oidCapture, filepath.Base(run.Capture)},
		{oidVerdicts, fmt.Sprintf("%d/%d", run.Fails, run.Evaluated)},
		{oidBus, fmt.Sprintf("%.3f V %.0f Hz", run.VS, run.FClk)},
	}
	for n, r := range tightest(results) {
		id := append(slices.Clone(oidMarginArc), n+1)
		values = append(values, struct {
			id    asn1.ObjectIdentifier
			value string
		}{id, fmt.Sprintf("%s worst=%g limit=%g margin=%.1f%%",
			r.Param, r.Worst.Float64, r.Limit.Float64, r.MarginPercent.Float64)})
	}

	extensions := make([]pkix.Extension, 0, len(values))
	for _, v := range values {
		der, err := asn1.MarshalWithParams(v.value, "utf8")
		if err != nil {
			return nil, fmt.Errorf("failed to encode extension %v: %w", v.id, err)
		}
		extensions = append(extensions, pkix.Extension{Id: v.id, Value: der})
	}
	return extensions, nil
}

// tightest returns the evaluated results with the smallest relative margin
func tightest(results []*db.Result) []*db.Result {
	var evaluated []*db.Result
	for _, r := range results {
		if r.Evaluated && r.MarginPercent.Valid && r.Worst.Valid && r.Limit.Valid {
			evaluated = append(evaluated, r)
		}
	}
	sort.SliceStable(evaluated, func(a, b int) bool {
		return evaluated[a].MarginPercent.Float64 < evaluated[b].MarginPercent.Float64
	})
	if len(evaluated) > maxMargins {
		evaluated = evaluated[:maxMargins]
	}
	return evaluated
}

// Claims are the run facts recorded in a conformance certificate
type Claims struct {
	Status   string
	Grade    string
	Capture  string
	Verdicts string
	Bus      string
	Margins  []string
}

// ParseClaims reads the run facts back from a conformance certificate
func ParseClaims(cert *x509.Certificate) (Claims, error) {
	var c Claims
	for _, ext := range cert.Extensions {
		var value string
		switch {
		case ext.Id.Equal(oidStatus), ext.Id.Equal(oidGrade), ext.Id.Equal(oidCapture),
			ext.Id.Equal(oidVerdicts), ext.Id.Equal(oidBus), inArc(ext.Id, oidMarginArc):
			if _, err := asn1.UnmarshalWithParams(ext.Value, &value, "utf8"); err != nil {
				return c, fmt.Errorf("failed to decode extension %v: %w", ext.Id, err)
			}
		default:
			continue
		}

		switch {
		case ext.Id.Equal(oidStatus):
			c.Status = value
		case ext.Id.Equal(oidGrade):
			c.Grade = value
		case ext.Id.Equal(oidCapture):
			c.Capture = value
		case ext.Id.Equal(oidVerdicts):
			c.Verdicts = value
		case ext.Id.Equal(oidBus):
			c.Bus = value
		default:
			c.Margins = append(c.Margins, value)
		}
	}
	if c.Status == "" {
		return c, fmt.Errorf("not a conformance certificate")
	}
	return c, nil
}

func inArc(id, arc asn1.ObjectIdentifier) bool {
	return len(id) == len(arc)+1 && id[:len(arc)].Equal(arc)
}

// Certificate represents an issued certificate
type Certificate struct {
	*x509.Certificate
	PrivateKey *rsa.PrivateKey
	// RunID is the run a conformance certificate attests, 0 for TLS
	RunID    int64
	IssuedAt time.Time
}

// Save saves the certificate and, when keyPath is set, its key
func (c *Certificate) Save(certPath, keyPath string) error {
	if err := writePEM(certPath, "CERTIFICATE", c.Raw, 0o644); err != nil {
		return fmt.Errorf("failed to write cert: %w", err)
	}
	if keyPath != "" {
		if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(c.PrivateKey), 0o600); err != nil {
			return fmt.Errorf("failed to write key: %w", err)
		}
	}
	return nil
}

// PEM returns the certificate PEM-encoded
func (c *Certificate) PEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw}))
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm) // #nosec G304 -- path is provided by the user
	if err != nil {
		return err
	}
	if err := pem.Encode(out, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(path, perm)
}

func serialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}
