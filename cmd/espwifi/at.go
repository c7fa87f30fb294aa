package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/embeddedgo/espwifi"
)

var atTimeout time.Duration

var atCmd = &cobra.Command{
	Use:   "at COMMAND...",
	Short: "Send raw AT commands",
	Long: `Send the AT commands one by one and print their responses. The AT prefix
is optional.`,
	Example: `  espwifi at --port /dev/ttyUSB0 +GMR
  espwifi at --port /dev/ttyUSB0 '+CWMODE?' '+CWLAP'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAT,
}

func init() {
	atCmd.Flags().DurationVar(&atTimeout, "timeout", 0, "Response timeout (grammar default if 0)")
}

func runAT(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	for _, a := range args {
		name := strings.TrimPrefix(strings.TrimPrefix(a, "AT"), "at")
		resp, err := s.dev.ExecCommand(ctx, &espwifi.Command{
			Name:    name,
			Capture: []string{""},
			Timeout: atTimeout,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "AT%s\n", name)
		for _, line := range resp.Lines {
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
