package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/GBurgardt/interactive-brokers/advisor"
)

func newAdviseCmd() *cobra.Command {
	var yes bool
	var cmd = &cobra.Command{
		Use:   "advise",
		Short: "Scan headlines, ask the model for one trade, confirm, execute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return runAdvise(ctx, cmd, a, yes)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "execute the proposal without asking")
	return cmd
}

func runAdvise(ctx context.Context, cmd *cobra.Command, a *app, yes bool) error {
	var out = cmd.OutOrStdout()

	snapshot, err := a.snapshots.Fetch(ctx)
	if err != nil {
		return err
	}

	// Scan the watchlist plus whatever the account actually holds.
	var symbols = append([]string{}, a.cfg.Watchlist...)
	for _, p := range snapshot.Positions {
		var seen bool
		for _, s := range symbols {
			if s == p.Symbol {
				seen = true
				break
			}
		}
		if !seen {
			symbols = append(symbols, p.Symbol)
		}
	}

	var fetcher = advisor.NewHeadlineFetcher(a.logger, 0, a.cfg.AdvisorFeedURL)
	var headlines []advisor.Headline
	for _, symbol := range symbols {
		items, err := fetcher.Fetch(ctx, symbol)
		if err != nil {
			// One dead feed should not sink the whole scan.
			a.logger.Debugw("headline fetch failed", "symbol", symbol, "error", err)
			continue
		}
		headlines = append(headlines, items...)
	}
	fmt.Fprintf(out, "scanned %v symbols, %v headlines\n", len(symbols), len(headlines))

	gc, err := genai.NewClient(ctx, nil)
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}
	adv, err := advisor.New(ctx, a.logger, gc, a.cfg.AdvisorModel)
	if err != nil {
		return err
	}
	proposal, err := adv.Propose(ctx, snapshot, headlines)
	if err != nil {
		return err
	}

	if proposal.Analysis != "" {
		fmt.Fprintf(out, "\n%v\n\n", proposal.Analysis)
	}
	if proposal.Hold() {
		fmt.Fprintf(out, "proposal: HOLD\n%v\n", proposal.Reason)
		return nil
	}
	fmt.Fprintf(out, "proposal: %v %v %v\n%v\n", proposal.Side, proposal.Quantity, proposal.Symbol, proposal.Reason)

	if !yes && !confirm(cmd.InOrStdin(), out, "execute this trade") {
		fmt.Fprintln(out, "not executed")
		return nil
	}
	result, err := a.tracker.Submit(ctx, proposal.Symbol, proposal.Side, proposal.Quantity)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "order #%d %v (filled %.2f)\n", result.OrderID, result.Status, result.Filled)
	return nil
}
