package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/embeddedgo/espwifi"
	"github.com/embeddedgo/espwifi/trace"
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode a recorded UART trace",
	Long: `Print the commands sent to the module and the frames it returned, as
recorded with the --trace flag.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	return replay(f, cmd.OutOrStdout())
}

func replay(r io.Reader, w io.Writer) error {
	return trace.Replay(r, func(rec trace.Record, f espwifi.Frame, err error) error {
		ts := rec.Time.Format("15:04:05.000000")
		switch {
		case err != nil:
			fmt.Fprintf(w, "%s %6d rx error: %v\n", ts, rec.Seq, err)
		case rec.Dir == trace.TX:
			fmt.Fprintf(w, "%s %6d tx %q\n", ts, rec.Seq, rec.Data)
		case f.Kind == espwifi.FrameLine:
			fmt.Fprintf(w, "%s %6d rx %s\n", ts, rec.Seq, f.Line)
		case f.Kind == espwifi.FrameData:
			fmt.Fprintf(w, "%s %6d rx data link %d: %q\n", ts, rec.Seq, f.Conn, f.Data)
		default:
			fmt.Fprintf(w, "%s %6d rx %s\n", ts, rec.Seq, f.Kind)
		}
		return nil
	})
}
