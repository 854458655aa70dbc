package cert

import (
	"crypto/x509"
	"fmt"
	"strconv"
	"strings"
)

// VerifyResult contains the result of certificate verification
type VerifyResult struct {
	Valid       bool
	RunID       int64
	Claims      Claims
	Error       string
	Certificate *x509.Certificate
}

// VerifyCertificateFile verifies a conformance certificate against the CA
// and extracts the recorded run facts
func VerifyCertificateFile(certPath, caCertPath string) (*VerifyResult, error) {
	cert, err := ReadCertificate(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	caCert, err := ReadCertificate(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	issuer := &Issuer{caCert: caCert}
	result := &VerifyResult{Certificate: cert, RunID: extractRunID(cert)}

	if err := issuer.Verify(cert, x509.ExtKeyUsageCodeSigning); err != nil {
		result.Error = err.Error()
	} else {
		result.Valid = true
	}

	claims, err := ParseClaims(cert)
	if err != nil {
		result.Valid = false
		if result.Error == "" {
			result.Error = err.Error()
		}
	}
	result.Claims = claims

	return result, nil
}

// extractRunID reads the run ID from a common name of the form "Run #12"
func extractRunID(cert *x509.Certificate) int64 {
	id, err := strconv.ParseInt(strings.TrimPrefix(cert.Subject.CommonName, "Run #"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// FormatVerifyResult formats verification result for display
func FormatVerifyResult(result *VerifyResult) string {
	var sb strings.Builder

	sb.WriteString("Certificate Verification Result\n")
	sb.WriteString("===============================\n\n")

	if result.Valid {
		sb.WriteString("Status: VALID ✓\n")
	} else {
		sb.WriteString("Status: INVALID ✗\n")
		sb.WriteString(fmt.Sprintf("Error: %s\n", result.Error))
	}

	sb.WriteString("\nCertificate Details:\n")
	sb.WriteString(fmt.Sprintf("  Subject: %s\n", result.Certificate.Subject))
	sb.WriteString(fmt.Sprintf("  Issuer: %s\n", result.Certificate.Issuer))
	sb.WriteString(fmt.Sprintf("  Serial: %s\n", result.Certificate.SerialNumber))
	sb.WriteString(fmt.Sprintf("  Valid From: %s\n", result.Certificate.NotBefore))
	sb.WriteString(fmt.Sprintf("  Valid Until: %s\n", result.Certificate.NotAfter))

	if result.RunID != 0 {
		c := result.Claims
		sb.WriteString("\nRun Information:\n")
		sb.WriteString(fmt.Sprintf("  Run ID: %d\n", result.RunID))
		sb.WriteString(fmt.Sprintf("  Capture: %s\n", c.Capture))
		sb.WriteString(fmt.Sprintf("  Grade: %s\n", c.Grade))
		sb.WriteString(fmt.Sprintf("  Bus: %s\n", c.Bus))
		sb.WriteString(fmt.Sprintf("  Verdict: %s (%s limits failed)\n", c.Status, c.Verdicts))

		if len(c.Margins) > 0 {
			sb.WriteString("\nTightest margins:\n")
			for _, m := range c.Margins {
				sb.WriteString(fmt.Sprintf("  %s\n", m))
			}
		}
	}

	return sb.String()
}
