// cmd/server/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "usb-serial-service",
	Short: "USB serial bridge service",
	Long: `usb-serial-service bridges USB serial adapters (FTDI, CP210x, PL2303,
CH34x and CDC-ACM) to local clients over HTTP and a WebSocket event stream.

Run "serve" to start the bridge or "devices" to list attached adapters.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or ./config/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
