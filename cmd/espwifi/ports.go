package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/embeddedgo/espwifi/uart"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := uart.Ports()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}
