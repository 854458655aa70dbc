package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/googleinterns/cros-hummingbird/internal/config"
	"github.com/googleinterns/cros-hummingbird/pkg/cert"
	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/spf13/cobra"
)

func certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Certificate management",
		Long:  "Issue and verify conformance certificates for runs, and TLS certificates for the agent",
	}

	cmd.AddCommand(certInitCmd())
	cmd.AddCommand(certIssueCmd())
	cmd.AddCommand(certVerifyCmd())
	cmd.AddCommand(certTLSCmd())

	return cmd
}

func defaultCAPath(caPath string) string {
	if caPath != "" {
		return caPath
	}
	return filepath.Join(config.Dir(), "ca")
}

func loadIssuer(caPath string) (*cert.Issuer, error) {
	caPath = defaultCAPath(caPath)
	issuer, err := cert.LoadCA(filepath.Join(caPath, "ca.crt"), filepath.Join(caPath, "ca.key"))
	if err != nil {
		return nil, fmt.Errorf("failed to load CA (run 'hummingbird cert init' first): %w", err)
	}
	return issuer, nil
}

func certInitCmd() *cobra.Command {
	var (
		caPath string
		force  bool
		bits   int
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize certificate authority",
		Long: `Initialize a certificate authority (CA) for signing conformance and
agent TLS certificates.

Examples:
  # Initialize CA in default location
  hummingbird cert init

  # Initialize CA in custom location
  hummingbird cert init --ca-path /path/to/ca

  # Force overwrite existing CA
  hummingbird cert init --force`,
		RunE: func(_ *cobra.Command, _ []string) error {
			caPath = defaultCAPath(caPath)
			if err := os.MkdirAll(caPath, 0o700); err != nil {
				return fmt.Errorf("failed to create CA directory: %w", err)
			}

			certPath := filepath.Join(caPath, "ca.crt")
			keyPath := filepath.Join(caPath, "ca.key")

			if !force {
				if _, err := os.Stat(certPath); err == nil {
					return fmt.Errorf("CA certificate already exists at %s (use --force to overwrite)", certPath)
				}
			}

			issuer, err := cert.NewIssuer(bits)
			if err != nil {
				return fmt.Errorf("failed to create CA: %w", err)
			}
			if err := issuer.SaveCA(certPath, keyPath); err != nil {
				return fmt.Errorf("failed to save CA: %w", err)
			}

			fmt.Println("Certificate Authority initialized successfully")
			fmt.Printf("CA Certificate: %s\n", certPath)
			fmt.Printf("CA Private Key: %s\n", keyPath)
			fmt.Println("\nIMPORTANT: Keep the private key secure and backed up!")

			return nil
		},
	}

	cmd.Flags().StringVar(&caPath, "ca-path", "", "Path to CA directory")
	cmd.Flags().BoolVar(&force, "force", false, "Force overwrite existing CA")
	cmd.Flags().IntVar(&bits, "bits", cert.DefaultCAKeyBits, "RSA key size of the CA")

	return cmd
}

func certIssueCmd() *cobra.Command {
	var (
		runID       int64
		latest      bool
		capturePath string
		output      string
		keyOutput   string
		caPath      string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a conformance certificate for a run",
		Long: `Issue a certificate attesting to the analysis of a run.

The certificate carries signed run facts:
- Verdict (PASS/FAIL) and failed limit count
- Speed grade, bus voltage and clock estimate
- Capture file name
- The five tightest margins

Examples:
  # Issue certificate for latest run
  hummingbird cert issue --latest

  # Issue certificate for specific run
  hummingbird cert issue --run 42 --output run42.pem`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !latest && runID == 0 {
				return fmt.Errorf("either --latest or --run must be specified")
			}

			issuer, err := loadIssuer(caPath)
			if err != nil {
				return err
			}

			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if latest {
				success := true
				runs, err := database.ListRuns(db.RunFilter{Capture: capturePath, Success: &success, Limit: 1})
				if err != nil {
					return fmt.Errorf("failed to list runs: %w", err)
				}
				if len(runs) == 0 {
					return fmt.Errorf("no analyzed runs found")
				}
				runID = runs[0].ID
			}

			run, err := database.GetRun(runID)
			if err != nil {
				return fmt.Errorf("run %d not found", runID)
			}
			results, err := database.GetResults(runID)
			if err != nil {
				return fmt.Errorf("failed to get results: %w", err)
			}

			certificate, err := issuer.IssueConformance(run, results)
			if err != nil {
				return fmt.Errorf("failed to issue certificate: %w", err)
			}

			if output == "" {
				output = fmt.Sprintf("hummingbird_cert_%d_%s.pem", runID, time.Now().Format("20060102_150405"))
			}
			if err := certificate.Save(output, keyOutput); err != nil {
				return fmt.Errorf("failed to save certificate: %w", err)
			}

			fmt.Printf("Certificate issued for run #%d\n", runID)
			fmt.Printf("Capture: %s\n", run.Capture)
			fmt.Printf("Status: %s\n", formatStatus(run))
			fmt.Printf("Certificate: %s\n", output)
			if keyOutput != "" {
				fmt.Printf("Private Key: %s\n", keyOutput)
			}

			fmt.Printf("\nCertificate Details:\n")
			fmt.Printf("  Subject: %s\n", certificate.Subject)
			fmt.Printf("  Serial: %s\n", certificate.SerialNumber)
			fmt.Printf("  Valid From: %s\n", certificate.NotBefore.Format("2006-01-02 15:04:05"))
			fmt.Printf("  Valid Until: %s\n", certificate.NotAfter.Format("2006-01-02 15:04:05"))

			return nil
		},
	}

	cmd.Flags().Int64Var(&runID, "run", 0, "Run ID to issue certificate for")
	cmd.Flags().BoolVar(&latest, "latest", false, "Use latest analyzed run")
	cmd.Flags().StringVarP(&capturePath, "capture", "c", "", "Filter by capture when using --latest")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output certificate file")
	cmd.Flags().StringVar(&keyOutput, "key", "", "Output private key file (optional)")
	cmd.Flags().StringVar(&caPath, "ca-path", "", "Path to CA directory")

	return cmd
}

func certVerifyCmd() *cobra.Command {
	var caPath string

	cmd := &cobra.Command{
		Use:   "verify [certificate]",
		Short: "Verify a conformance certificate",
		Long: `Verify a conformance certificate against the CA and display the run facts
it carries.

Examples:
  hummingbird cert verify run42.pem
  hummingbird cert verify run42.pem --ca-path /path/to/ca`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			caCertPath := filepath.Join(defaultCAPath(caPath), "ca.crt")
			result, err := cert.VerifyCertificateFile(args[0], caCertPath)
			if err != nil {
				return fmt.Errorf("failed to verify certificate: %w", err)
			}

			fmt.Println(cert.FormatVerifyResult(result))
			if !result.Valid {
				return fmt.Errorf("certificate is not valid")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&caPath, "ca-path", "", "Path to CA directory")

	return cmd
}

func certTLSCmd() *cobra.Command {
	var (
		caPath string
		outDir string
		hosts  []string
		name   string
	)

	cmd := &cobra.Command{
		Use:   "tls",
		Short: "Issue agent server and client TLS certificates",
		Long: `Issue a server certificate for the agent and a client certificate for
operators, both signed by the CA.

Examples:
  hummingbird cert tls --out certs --host bench-01 --host 192.168.1.20`,
		RunE: func(_ *cobra.Command, _ []string) error {
			issuer, err := loadIssuer(caPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			server, err := issuer.IssueTLS(name, true, hosts)
			if err != nil {
				return fmt.Errorf("failed to issue server certificate: %w", err)
			}
			client, err := issuer.IssueTLS(name+"-client", false, nil)
			if err != nil {
				return fmt.Errorf("failed to issue client certificate: %w", err)
			}

			files := map[string]*cert.Certificate{"server": server, "client": client}
			for _, role := range []string{"server", "client"} {
				certPath := filepath.Join(outDir, role+".pem")
				keyPath := filepath.Join(outDir, role+"-key.pem")
				if err := files[role].Save(certPath, keyPath); err != nil {
					return fmt.Errorf("failed to save %s certificate: %w", role, err)
				}
				fmt.Printf("  %s certificate: %s\n", role, certPath)
			}

			caFile := filepath.Join(defaultCAPath(caPath), "ca.crt")
			fmt.Printf("\nUsage:\n")
			fmt.Printf("  Server: hummingbird agent serve --cert %s --key %s --ca %s\n",
				filepath.Join(outDir, "server.pem"), filepath.Join(outDir, "server-key.pem"), caFile)
			fmt.Printf("  Client: hummingbird agent health --cert %s --key %s --ca %s\n",
				filepath.Join(outDir, "client.pem"), filepath.Join(outDir, "client-key.pem"), caFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&caPath, "ca-path", "", "Path to CA directory")
	cmd.Flags().StringVar(&outDir, "out", "certs", "Output directory")
	cmd.Flags().StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1"}, "Server host names or IP addresses")
	cmd.Flags().StringVar(&name, "name", "hummingbird-agent", "Common name of the certificates")

	return cmd
}
