package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kit-dsn/pfennigfuchs/internal/config"
	"github.com/kit-dsn/pfennigfuchs/internal/ledger"
)

// NewOnceCommand creates the once command.
func NewOnceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single sync round and print the ledgers",
		Long: `Run one cold sync round against the homeserver, backfill every
product room and print each room's balances and settlement.

Example:
  pfsync once
  pfsync once --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, rootOpts, cmd.OutOrStdout())
		},
	}
	return cmd
}

type roomSummary struct {
	RoomID     string                 `json:"room_id"`
	Name       string                 `json:"name"`
	Balances   []ledger.MemberBalance `json:"balances"`
	Settlement []ledger.Transfer      `json:"settlement"`
	Error      string                 `json:"error,omitempty"`
}

func runOnce(ctx context.Context, opts *RootOptions, out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.driver.Sync(ctx); err != nil {
		return fmt.Errorf("sync round failed: %w", err)
	}
	return printSummaries(out, opts.Format, summarize(a.state.ProductRooms(), a.state.DisplayName, a.ledger))
}

func summarize(rooms []string, name func(string) string, eng *ledger.Engine) []roomSummary {
	out := make([]roomSummary, 0, len(rooms))
	for _, id := range rooms {
		s := roomSummary{RoomID: id, Name: name(id), Balances: eng.SortedBalances(id)}
		transfers, err := eng.SimpleOptimize(id)
		if err != nil {
			s.Error = err.Error()
		}
		s.Settlement = transfers
		out = append(out, s)
	}
	return out
}

func printSummaries(out io.Writer, format string, rooms []roomSummary) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rooms)
	}

	if len(rooms) == 0 {
		fmt.Fprintln(out, "no rooms")
		return nil
	}
	for _, r := range rooms {
		fmt.Fprintf(out, "%s (%s)\n", r.Name, r.RoomID)
		for _, b := range r.Balances {
			fmt.Fprintf(out, "  %-40s %12s\n", b.User, b.Balance)
		}
		if r.Error != "" {
			fmt.Fprintf(out, "  settlement unavailable: %s\n", r.Error)
			continue
		}
		for _, t := range r.Settlement {
			fmt.Fprintf(out, "  %s -> %s: %s\n", t.Debtor, t.Creditor, t.Amount)
		}
	}
	return nil
}
