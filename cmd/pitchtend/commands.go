package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/app"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/daemon"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"
	"github.com/spf13/cobra"

	tea "github.com/charmbracelet/bubbletea"
)

func (c *cli) connect() (*daemon.Client, error) {
	client, err := daemon.Connect(c.cfg.Daemon.Socket)
	if err != nil {
		return nil, fmt.Errorf("%w (is \"pitchtend serve\" running?)", err)
	}
	return client, nil
}

func submitCmd(c *cli) *cobra.Command {
	var newID bool

	cmd := &cobra.Command{
		Use:   "submit [file|-]",
		Short: "Submit a tuning session from a JSON file or stdin",
		Long: `Submit one session:

  {"session_id": "...", "instrument": "Violin", "instrument_id": 1,
   "note_strings": [{"note_string": "A4", "mean_cents": -3.2, "count": 40}]}

With no file, or "-", the session is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			p, err := readPayload(in)
			if err != nil {
				return err
			}
			if newID {
				p.SessionID = uuid.NewString()
			}

			client, err := c.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := client.Submit(p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored session %s (%d notes)\n", id, len(p.Notes))
			return nil
		},
	}

	cmd.Flags().BoolVar(&newID, "new-id", false, "Replace session_id with a fresh UUID")
	return cmd
}

func tendenciesCmd(c *cli) *cobra.Command {
	var (
		instrument int64
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "tendencies",
		Short: "Print per-note pitch tendencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *int64
			if cmd.Flags().Changed("instrument") {
				filter = &instrument
			}

			client, err := c.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			rows, err := client.Tendencies(filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			return writeTendencies(cmd.OutOrStdout(), rows)
		},
	}

	cmd.Flags().Int64VarP(&instrument, "instrument", "i", 0, "Only show this instrument id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func instrumentsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "instruments",
		Short: "List instruments with stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			instruments, err := client.Instruments()
			if err != nil {
				return err
			}
			return writeInstruments(cmd.OutOrStdout(), instruments)
		},
	}
}

func deleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a stored session and its notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted session %s\n", args[0])
			return nil
		},
	}
}

func tuiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the live tendency dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := tea.NewProgram(app.New(c.cfg.Daemon.Socket), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
}

// readPayload decodes one session. Unknown fields are rejected so typos in
// field names surface instead of reading as missing values.
func readPayload(r io.Reader) (tendency.SessionPayload, error) {
	var p tendency.SessionPayload
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("decode session: %w", err)
	}
	return p, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTendencies(w io.Writer, rows []tendency.Summary) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no tendencies yet")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTRUMENT\tNOTE\tCENTS\tSAMPLES\tTENDENCY")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%+.2f\t%d\t%s\n", r.InstrumentID, r.NoteString, r.MeanCents, r.TotalSamples, direction(r.MeanCents))
	}
	return tw.Flush()
}

func writeInstruments(w io.Writer, instruments []tendency.Instrument) error {
	if len(instruments) == 0 {
		_, err := fmt.Fprintln(w, "no instruments yet")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tINSTRUMENT\tSESSIONS")
	for _, in := range instruments {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", in.InstrumentID, in.Instrument, in.Sessions)
	}
	return tw.Flush()
}

func direction(cents float64) string {
	switch {
	case cents > 0:
		return "sharp"
	case cents < 0:
		return "flat"
	}
	return "in tune"
}
