package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newPortfolioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show positions, cash and reserved funds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return printPortfolio(ctx, a, cmd.OutOrStdout())
			})
		},
	}
}

func printPortfolio(ctx context.Context, a *app, out io.Writer) error {
	snapshot, err := a.snapshots.Fetch(ctx)
	if err != nil {
		return err
	}

	if account, ok := a.session.AccountID(); ok {
		fmt.Fprintf(out, "Account %v\n", account)
	}
	fmt.Fprintf(out, "Net liquidation  %12.2f USD\n", snapshot.Account.NetLiquidation)
	fmt.Fprintf(out, "Cash             %12.2f USD\n", snapshot.Account.Cash())

	var pending = a.tracker.PendingOrders()
	var reservation = a.reserved.Reserved(pending)
	if len(pending) > 0 {
		amount, _ := reservation.Amount.Float64()
		fmt.Fprintf(out, "Reserved         %12.2f USD", amount)
		if reservation.Estimated {
			fmt.Fprint(out, " (estimated)")
		}
		fmt.Fprintln(out)
		for _, symbol := range reservation.Excluded {
			fmt.Fprintf(out, "  no price for pending %v order, not reserved\n", symbol)
		}
		fmt.Fprintf(out, "Available        %12.2f USD\n",
			a.reserved.AvailableCash(snapshot.Account.Cash(), pending))
	}

	if len(snapshot.Positions) == 0 {
		fmt.Fprintln(out, "\nNo open positions")
		return nil
	}
	fmt.Fprintf(out, "\n%-8s %10s %12s %14s\n", "SYMBOL", "QTY", "AVG COST", "MARKET VALUE")
	for _, p := range snapshot.Positions {
		var price, ok = a.quotes.LastKnown(p.Symbol)
		if !ok {
			price = p.AvgCost
		}
		fmt.Fprintf(out, "%-8s %10.2f %12.2f %14.2f\n",
			p.Symbol, p.Quantity, p.AvgCost, p.Quantity*price)
	}

	if len(pending) > 0 {
		fmt.Fprintln(out, "\nPending orders")
		for _, o := range pending {
			fmt.Fprintf(out, "  #%d %v %v %.2f (%v, filled %.2f)\n",
				o.LocalID, o.Side, o.Symbol, o.Quantity, o.Status, o.Filled)
		}
	}
	return nil
}
