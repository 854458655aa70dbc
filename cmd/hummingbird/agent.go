package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/agent"
	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/spf13/cobra"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Bench agent",
		Long:  "Serve stored runs and accept capture uploads over HTTP, or talk to a remote agent",
	}

	cmd.AddCommand(agentServeCmd())
	cmd.AddCommand(agentHealthCmd())
	cmd.AddCommand(agentRunsCmd())
	cmd.AddCommand(agentShowCmd())
	cmd.AddCommand(agentUploadCmd())
	cmd.AddCommand(agentGetCmd())

	return cmd
}

func agentServeCmd() *cobra.Command {
	var (
		config    = agent.DefaultConfig()
		maxUpload int64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bench agent",
		Long: `Start the bench agent. With --cert, --key and --ca every client must
present a certificate signed by the CA (see 'hummingbird cert tls').

The agent exposes the following endpoints:
  GET  /health            - Health check
  GET  /sysinfo           - Host and storage information
  GET  /formats           - Accepted capture formats
  GET  /runs              - Stored runs (capture, grade, success, since, limit, offset)
  GET  /runs/{id}         - One run with results and runts
  GET  /runs/{id}/report  - HTML report
  GET  /runs/{id}/csv     - Results as CSV
  POST /analyze           - Analyze an uploaded capture (needs --uploads)

Examples:
  # Serve the run database on localhost without TLS
  hummingbird agent serve --host 127.0.0.1

  # Accept uploads behind mutual TLS
  hummingbird agent serve --uploads ~/captures --cert server.pem --key server-key.pem --ca ca.pem

  # Using environment variables
  export HUMMINGBIRD_AGENT_CERT=server.pem
  export HUMMINGBIRD_AGENT_KEY=server-key.pem
  export HUMMINGBIRD_AGENT_CA=ca.pem
  hummingbird agent serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if config.CertFile == "" {
				config.CertFile = os.Getenv("HUMMINGBIRD_AGENT_CERT")
			}
			if config.KeyFile == "" {
				config.KeyFile = os.Getenv("HUMMINGBIRD_AGENT_KEY")
			}
			if config.CAFile == "" {
				config.CAFile = os.Getenv("HUMMINGBIRD_AGENT_CA")
			}
			if envPort := os.Getenv("HUMMINGBIRD_AGENT_PORT"); envPort != "" && !cmd.Flags().Changed("port") {
				port, err := strconv.Atoi(envPort)
				if err != nil {
					return fmt.Errorf("invalid HUMMINGBIRD_AGENT_PORT: %s", envPort)
				}
				config.Port = port
			}
			config.MaxUpload = maxUpload << 20

			database, err := openDB()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			server, err := agent.NewServer(config, database, nil)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Start()
			}()

			mode := "without TLS"
			if config.TLSEnabled() {
				mode = "with mTLS"
			}
			fmt.Printf("Agent listening on %s %s\n", config.Addr(), mode)
			fmt.Printf("Database: %s\n", database.Path())
			if config.UploadDir != "" {
				fmt.Printf("Uploads: %s\n", config.UploadDir)
			}
			fmt.Println("\nPress Ctrl+C to stop...")

			select {
			case sig := <-sigChan:
				fmt.Printf("\nReceived signal: %v\n", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					return fmt.Errorf("shutdown error: %w", err)
				}
				fmt.Println("Server stopped gracefully")
				return nil

			case err := <-errChan:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&config.Host, "host", "", "Address to listen on (default all interfaces)")
	cmd.Flags().IntVar(&config.Port, "port", agent.DefaultPort, "Port to listen on")
	cmd.Flags().StringVar(&config.CertFile, "cert", "", "Server certificate file")
	cmd.Flags().StringVar(&config.KeyFile, "key", "", "Server private key file")
	cmd.Flags().StringVar(&config.CAFile, "ca", "", "CA certificate file for client verification")
	cmd.Flags().StringVar(&config.LogFile, "log", "", "Log file path (optional)")
	cmd.Flags().StringVar(&config.UploadDir, "uploads", "", "Directory for uploaded captures; uploads are refused without it")
	cmd.Flags().Int64Var(&maxUpload, "max-upload", config.MaxUpload>>20, "Largest accepted upload in MiB")

	return cmd
}

// clientFlags are the connection flags shared by the agent client commands
type clientFlags struct {
	config agent.ClientConfig
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	f.config = agent.DefaultClientConfig()
	cmd.Flags().StringVar(&f.config.Host, "host", f.config.Host, "Agent host")
	cmd.Flags().IntVar(&f.config.Port, "port", f.config.Port, "Agent port")
	cmd.Flags().StringVar(&f.config.CertFile, "cert", "", "Client certificate file")
	cmd.Flags().StringVar(&f.config.KeyFile, "key", "", "Client private key file")
	cmd.Flags().StringVar(&f.config.CAFile, "ca", "", "CA certificate file for server verification")
	cmd.Flags().DurationVar(&f.config.Timeout, "timeout", f.config.Timeout, "Request timeout")
}

func (f *clientFlags) client() (*agent.Client, error) {
	if f.config.CertFile == "" {
		f.config.CertFile = os.Getenv("HUMMINGBIRD_CLIENT_CERT")
	}
	if f.config.KeyFile == "" {
		f.config.KeyFile = os.Getenv("HUMMINGBIRD_CLIENT_KEY")
	}
	if f.config.CAFile == "" {
		f.config.CAFile = os.Getenv("HUMMINGBIRD_CLIENT_CA")
	}

	client, err := agent.NewClient(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

func agentHealthCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that a remote agent is up",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			if err := client.CheckHealth(cmd.Context()); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Printf("Agent at %s is healthy\n", flags.config.BaseURL())
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}

func agentRunsCmd() *cobra.Command {
	var (
		flags   clientFlags
		limit   int
		failed  bool
		capture string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs stored on a remote agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}

			filter := db.RunFilter{Capture: capture, Limit: limit}
			if failed {
				success := false
				filter.Success = &success
			}

			runs, err := client.ListRuns(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			printRuns(runs)
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of runs to show")
	cmd.Flags().BoolVar(&failed, "failed", false, "Show only runs that could not be analyzed")
	cmd.Flags().StringVarP(&capture, "capture", "c", "", "Filter by capture path")

	return cmd
}

func agentShowCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run stored on a remote agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %s", args[0])
			}

			client, err := flags.client()
			if err != nil {
				return err
			}

			export, err := client.GetRun(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}
			printRun(export.Run, export.Results)
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}

func agentUploadCmd() *cobra.Command {
	var (
		flags clientFlags
		opts  agent.AnalyzeOptions
	)

	cmd := &cobra.Command{
		Use:   "upload <capture>",
		Short: "Analyze a capture on a remote agent",
		Long: `Upload a two-channel capture to an agent, which analyzes and stores it.

Examples:
  hummingbird agent upload --host bench-01 bus.csv
  hummingbird agent upload --host bench-01 --format rigol --grade fast scope.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}

			export, err := client.Analyze(cmd.Context(), args[0], opts)
			if export != nil && export.Run != nil {
				printRun(export.Run, export.Results)
			}
			return err
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "csv", "Capture format")
	cmd.Flags().StringVarP(&opts.Grade, "grade", "g", "", "Speed grade (auto, standard, fast, fast-plus)")
	cmd.Flags().Float64Var(&opts.Voltage, "voltage", 0, "Bus voltage; 0 infers it from the capture")

	return cmd
}

func agentGetCmd() *cobra.Command {
	var (
		flags  clientFlags
		pretty bool
	)

	cmd := &cobra.Command{
		Use:   "get <endpoint>",
		Short: "Fetch a raw agent endpoint",
		Long: `Fetch an agent endpoint and print the response.

Examples:
  # Host information
  hummingbird agent get sysinfo --pretty

  # Last five runs as JSON
  hummingbird agent get "runs?limit=5"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}

			data, err := client.Get(cmd.Context(), strings.TrimPrefix(args[0], "/"))
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}

			if pretty && json.Valid(data) {
				var formatted interface{}
				if err := json.Unmarshal(data, &formatted); err == nil {
					if prettyData, err := json.MarshalIndent(formatted, "", "  "); err == nil {
						fmt.Println(string(prettyData))
						return nil
					}
				}
			}

			fmt.Print(string(data))
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty print JSON output")

	return cmd
}
