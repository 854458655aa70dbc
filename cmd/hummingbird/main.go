package main

import (
	"fmt"
	"os"

	"github.com/googleinterns/cros-hummingbird/internal/config"
	"github.com/googleinterns/cros-hummingbird/internal/version"
	"github.com/spf13/cobra"
)

var (
	// Build variables set by ldflags
	buildVersion string
	buildCommit  string
	buildTime    string

	configPath string
	dbPath     string
	verbose    bool

	cfg *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hummingbird",
		Short: "Hummingbird - I2C electrical and timing conformance analyzer",
		Long: `Hummingbird checks analog SCL/SDA captures against the voltage and timing
limits of the I2C standard, fast and fast-plus modes, and stores every run
for reports and exports.`,
		Version:       version.GetVersion(buildVersion, buildCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			c, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dbPath != "" {
				c.DBPath = dbPath
			}
			cfg = c
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Run database (default from config or "+config.EnvDBPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log analysis progress to stderr")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(formatsCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(certCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.GetDetailedVersion(buildVersion, buildCommit, buildTime))
		},
	}
}
