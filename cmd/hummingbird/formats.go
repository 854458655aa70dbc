package main

import (
	"fmt"
	"strings"

	"github.com/googleinterns/cros-hummingbird/pkg/capture"
	"github.com/spf13/cobra"
)

func formatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported capture formats",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("%-8s %-9s %s\n", "Name", "Channels", "Description")
			fmt.Println(strings.Repeat("-", 80))
			for _, info := range capture.Info() {
				fmt.Printf("%-8s %-9d %s\n", info.Name, info.Channels, info.Description)
			}
		},
	}
}
