package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/googleinterns/cros-hummingbird/internal/synth"
	"github.com/googleinterns/cros-hummingbird/pkg/capture"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func generateCmd() *cobra.Command {
	var (
		output     string
		format     string
		configFile string
		address    string
		data       string
		read       bool
		restart    bool
		swap       bool
		bus        = synth.DefaultConfig()
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic I2C capture",
		Long: `Render an I2C transfer as analog samples and write it as a capture file.
The output can be fed back to analyze, which makes it useful for checking an
installation or demonstrating the limit tables.

Examples:
  # 100 kHz write of two bytes to 0x50 as CSV
  hummingbird generate --output bus.csv --address 0x50 --data 1020

  # Fast mode write followed by a repeated-start read, SDA in the first column
  hummingbird generate --output fm.csv --frequency 400e3 --restart --swap

  # Two single-channel traces SCL.txt and SDA.txt in a directory
  hummingbird generate --format trace --output traces/

  # Bus parameters from a YAML file
  hummingbird generate --bus-config bus.yaml --output bus.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			if configFile != "" {
				raw, err := os.ReadFile(configFile) // #nosec G304 -- user-specified configuration file
				if err != nil {
					return fmt.Errorf("failed to read bus config: %w", err)
				}
				if err := yaml.Unmarshal(raw, &bus); err != nil {
					return fmt.Errorf("failed to parse bus config: %w", err)
				}
			}
			if bus.Frequency <= 0 || bus.SamplingPeriod <= 0 || bus.Voltage <= 0 {
				return fmt.Errorf("frequency, sampling period and voltage must be positive")
			}

			addr, err := strconv.ParseUint(address, 0, 7)
			if err != nil {
				return fmt.Errorf("invalid 7-bit address %q: %w", address, err)
			}
			payload, err := hex.DecodeString(data)
			if err != nil {
				return fmt.Errorf("invalid hex data %q: %w", data, err)
			}

			transfers := []synth.Transfer{{Address: byte(addr), Read: read, Data: payload}}
			if restart {
				transfers = append(transfers, synth.Transfer{Address: byte(addr), Read: true, Data: []byte{0xFF}, Restart: true})
			}
			w := synth.Generate(bus, transfers)

			switch format {
			case "csv":
				if err := writeGeneratedCSV(output, w, swap); err != nil {
					return err
				}
			case "trace":
				if err := writeGeneratedTraces(output, w); err != nil {
					return err
				}
			default:
				return fmt.Errorf("format must be either 'csv' or 'trace'")
			}

			fmt.Printf("Wrote %d samples at %g s (%g Hz clock, %.2f V) to %s\n",
				len(w.SCL), w.SamplingPeriod, bus.Frequency, bus.Voltage, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, or directory for traces (required)")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "Output format (csv or trace)")
	cmd.Flags().StringVar(&configFile, "bus-config", "", "YAML file with bus parameters")
	cmd.Flags().StringVar(&address, "address", "0x50", "7-bit target address")
	cmd.Flags().StringVar(&data, "data", "a5", "Data bytes in hex")
	cmd.Flags().BoolVar(&read, "read", false, "Make the first transfer a read")
	cmd.Flags().BoolVar(&restart, "restart", false, "Follow with a repeated-start read")
	cmd.Flags().BoolVar(&swap, "swap", false, "Write SDA in the first CSV column")
	cmd.Flags().Float64Var(&bus.Voltage, "voltage", bus.Voltage, "Bus voltage")
	cmd.Flags().Float64Var(&bus.Frequency, "frequency", bus.Frequency, "Clock frequency in Hz")
	cmd.Flags().Float64Var(&bus.SamplingPeriod, "sampling-period", bus.SamplingPeriod, "Sampling period in seconds")
	cmd.Flags().Float64Var(&bus.RiseTime, "rise", bus.RiseTime, "Full-swing rise time in seconds")
	cmd.Flags().Float64Var(&bus.FallTime, "fall", bus.FallTime, "Full-swing fall time in seconds")

	return cmd
}

func writeGeneratedCSV(path string, w synth.Waveform, swap bool) error {
	f, err := os.Create(path) // #nosec G304 -- user-specified output file path from command line flag
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = f.Close() }()

	names, ch1, ch2 := [2]string{"SCL", "SDA"}, w.SCL, w.SDA
	if swap {
		names, ch1, ch2 = [2]string{"SDA", "SCL"}, w.SDA, w.SCL
	}
	if err := capture.WriteCSV(f, w.SamplingPeriod, names, ch1, ch2); err != nil {
		return err
	}
	return f.Close()
}

func writeGeneratedTraces(dir string, w synth.Waveform) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	start := time.Now().UTC()
	for name, samples := range map[string][]float64{"SCL.txt": w.SCL, "SDA.txt": w.SDA} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
		if err := capture.WriteTrace(f, start, w.SamplingPeriod, samples); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
