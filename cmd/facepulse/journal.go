package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"facepulse/internal/database"
)

var listLimit int

var errNoJournal = errors.New("no journal configured (set journal.path or FACEPULSE_JOURNAL)")

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List journaled pipeline sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openJournal(cfg)
		if err != nil {
			return err
		}
		if db == nil {
			return errNoJournal
		}
		defer db.Close()
		return listSessions(db, cmd.OutOrStdout(), listLimit)
	},
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles [session]",
	Short: "List the most recent journaled cycles, optionally of one session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openJournal(cfg)
		if err != nil {
			return err
		}
		if db == nil {
			return errNoJournal
		}
		defer db.Close()

		session := ""
		if len(args) == 1 {
			session = args[0]
		}
		return listCycles(db, cmd.OutOrStdout(), session, listLimit)
	},
}

func listSessions(db *database.Database, out io.Writer, limit int) error {
	sessions, err := db.ListSessions(limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found in journal.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSOURCE\tENGINE\tSIZE\tCYCLES\tSTARTED")
	fmt.Fprintln(w, "-------\t------\t------\t----\t------\t-------")
	for _, s := range sessions {
		count, err := db.CountCycles(s.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t%d\t%s\n",
			s.ID, s.Source, s.Engine, s.Width, s.Height, count, s.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func listCycles(db *database.Database, out io.Writer, session string, limit int) error {
	cycles, err := db.RecentCycles(session, limit)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintln(out, "No cycles found in journal.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSEQ\tTIME\tREGION\tDOMINANT\tFLAGS")
	fmt.Fprintln(w, "-------\t---\t----\t------\t--------\t-----")
	for _, c := range cycles {
		flags := "-"
		switch {
		case c.First && c.Recovered:
			flags = "first,recovered"
		case c.First:
			flags = "first"
		case c.Recovered:
			flags = "recovered"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%.0f,%.0f %.0fx%.0f\t%s\t%s\n",
			c.SessionID, c.Seq, c.Timestamp.Local().Format("15:04:05.000"),
			c.Region.X, c.Region.Y, c.Region.Width, c.Region.Height, c.Dominant, flags)
	}
	return w.Flush()
}

func init() {
	for _, cmd := range []*cobra.Command{sessionsCmd, cyclesCmd} {
		cmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum number of rows, 0 for all")
		rootCmd.AddCommand(cmd)
	}
}
