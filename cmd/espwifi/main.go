// Espwifi drives an ESP-AT WiFi module connected to a serial port.
//
// It configures the module as a soft access point, serves the HTTP demo
// pages over the module TCP server, sends raw AT commands and replays
// recorded UART traces.
//
// Usage:
//
//	espwifi [command] [flags]
//
// Settings are read from the file given by --config, the ESPWIFI_*
// environment variables and the flags, e.g. ESPWIFI_SERIAL_PORT or --port
// select the serial port.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set by the linker.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "espwifi",
	Short: "ESP-AT WiFi module tool",
	Long: `Espwifi talks to an ESP8266/ESP32 running the ESP-AT firmware over UART.

It can start the module soft-AP, run a small HTTP server on the module,
send raw AT commands and replay UART traces recorded with --trace.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	pf.String("port", "", "Serial port connected to the module")
	pf.Int("baud", 0, "Serial port speed (default 115200)")
	pf.String("backend", "", "Serial backend: termios or portable")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("trace", "", "Record the UART traffic to this file")

	rootCmd.AddCommand(apCmd)
	rootCmd.AddCommand(httpdCmd)
	rootCmd.AddCommand(atCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "espwifi %s\n", version)
	},
}
