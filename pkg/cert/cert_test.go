package cert

import (
	"crypto/x509"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/googleinterns/cros-hummingbird/internal/synth"
	"github.com/googleinterns/cros-hummingbird/pkg/analyzer"
	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssuer(t *testing.T) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(2048)
	require.NoError(t, err)
	return issuer
}

func storedRun(t *testing.T, grade spec.Grade) (*db.Run, []*db.Result) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "cert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	w := synth.Generate(synth.DefaultConfig(), []synth.Transfer{{Address: 0x50, Data: []byte{0x5A}}})
	r, err := analyzer.Analyze(w.SCL, w.SDA, w.SamplingPeriod, analyzer.Options{
		Grade:  grade,
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)

	run, err := database.CreateRun("/bench/bus.csv", "csv", nil)
	require.NoError(t, err)
	require.NoError(t, database.SaveReport(run, r, nil))

	results, err := database.GetResults(run.ID)
	require.NoError(t, err)
	return run, results
}

func TestIssueConformance(t *testing.T) {
	issuer := testIssuer(t)
	run, results := storedRun(t, spec.Fast)
	require.Positive(t, run.Fails)

	certificate, err := issuer.IssueConformance(run, results)
	require.NoError(t, err)
	assert.Equal(t, run.ID, certificate.RunID)
	assert.Equal(t, fmt.Sprintf("Run #%d", run.ID), certificate.Subject.CommonName)
	require.NoError(t, issuer.Verify(certificate.Certificate, x509.ExtKeyUsageCodeSigning))

	claims, err := ParseClaims(certificate.Certificate)
	require.NoError(t, err)
	assert.Equal(t, "FAIL", claims.Status)
	assert.Equal(t, run.Grade, claims.Grade)
	assert.Equal(t, "bus.csv", claims.Capture)
	assert.Contains(t, claims.Bus, "V")
	assert.NotEmpty(t, claims.Margins)
	assert.LessOrEqual(t, len(claims.Margins), maxMargins)

	tight := tightest(results)
	require.NotEmpty(t, tight)
	assert.Contains(t, claims.Margins[0], tight[0].Param)
	for i := 1; i < len(tight); i++ {
		assert.LessOrEqual(t, tight[i-1].MarginPercent.Float64, tight[i].MarginPercent.Float64)
	}
}

func TestIssueConformanceRejectsFailedAnalysis(t *testing.T) {
	issuer := testIssuer(t)
	run, _ := storedRun(t, "")

	unfinished := *run
	unfinished.EndTime = nil
	_, err := issuer.IssueConformance(&unfinished, nil)
	assert.Error(t, err)

	failed := *run
	failed.Success = false
	failed.Error = "unable to determine the working voltage"
	_, err = issuer.IssueConformance(&failed, nil)
	assert.ErrorContains(t, err, "working voltage")
}

func TestSaveLoadAndVerifyFile(t *testing.T) {
	dir := t.TempDir()
	issuer := testIssuer(t)
	caCert, caKey := filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key")
	require.NoError(t, issuer.SaveCA(caCert, caKey))

	loaded, err := LoadCA(caCert, caKey)
	require.NoError(t, err)
	assert.True(t, loaded.CA().Equal(issuer.CA()))

	run, results := storedRun(t, "")
	certificate, err := loaded.IssueConformance(run, results)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "run.pem")
	require.NoError(t, certificate.Save(certPath, ""))

	result, err := VerifyCertificateFile(certPath, caCert)
	require.NoError(t, err)
	assert.True(t, result.Valid, result.Error)
	assert.Equal(t, run.ID, result.RunID)
	assert.Equal(t, "PASS", result.Claims.Status)
	assert.Contains(t, FormatVerifyResult(result), "VALID")

	other := testIssuer(t)
	otherCA := filepath.Join(dir, "other.crt")
	require.NoError(t, other.SaveCA(otherCA, filepath.Join(dir, "other.key")))

	result, err = VerifyCertificateFile(certPath, otherCA)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, FormatVerifyResult(result), "INVALID")

	_, err = LoadCA(caCert, filepath.Join(dir, "other.key"))
	assert.Error(t, err, "mismatched key")
}

func TestIssueTLS(t *testing.T) {
	issuer := testIssuer(t)

	server, err := issuer.IssueTLS("bench-01", true, []string{"localhost", "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, server.DNSNames)
	require.Len(t, server.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", server.IPAddresses[0].String())
	assert.NoError(t, issuer.Verify(server.Certificate, x509.ExtKeyUsageServerAuth))
	assert.Error(t, issuer.Verify(server.Certificate, x509.ExtKeyUsageClientAuth))

	client, err := issuer.IssueTLS("operator", false, nil)
	require.NoError(t, err)
	assert.NoError(t, issuer.Verify(client.Certificate, x509.ExtKeyUsageClientAuth))
	assert.Zero(t, client.RunID)

	_, err = ParseClaims(client.Certificate)
	assert.Error(t, err)
}
