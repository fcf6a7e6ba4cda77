package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GBurgardt/interactive-brokers/client"
)

func newBuyCmd() *cobra.Command {
	var yes bool
	var cmd = &cobra.Command{
		Use:   "buy SYMBOL QUANTITY",
		Short: "Place a market buy order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrade(cmd, args, client.SideBuy, yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newSellCmd() *cobra.Command {
	var yes bool
	var cmd = &cobra.Command{
		Use:   "sell SYMBOL QUANTITY",
		Short: "Place a market sell order (aliases resolve to the owned ticker)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrade(cmd, args, client.SideSell, yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func runTrade(cmd *cobra.Command, args []string, side client.Side, yes bool) error {
	var symbol = strings.ToUpper(args[0])
	quantity, err := strconv.ParseFloat(args[1], 64)
	if err != nil || quantity <= 0 {
		return fmt.Errorf("quantity %q must be a positive number", args[1])
	}

	return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
		var out = cmd.OutOrStdout()

		if side == client.SideBuy {
			if err := checkBuyingPower(ctx, a, out, symbol, quantity); err != nil {
				return err
			}
		}

		if !yes && !confirm(cmd.InOrStdin(), out, fmt.Sprintf("%v %v %v at market", side, quantity, symbol)) {
			fmt.Fprintln(out, "cancelled")
			return nil
		}

		result, err := a.tracker.Submit(ctx, symbol, side, quantity)
		if err != nil {
			return err
		}
		if result.Final {
			fmt.Fprintf(out, "order #%d %v: filled %.2f @ %.2f\n",
				result.OrderID, result.Status, result.Filled, result.AvgFillPrice)
		} else {
			fmt.Fprintf(out, "order #%d still %v (filled %.2f so far); it keeps working at the gateway\n",
				result.OrderID, result.Status, result.Filled)
		}
		return nil
	})
}

// checkBuyingPower prices the intended buy with the reservation buffer and
// refuses it when reserved cash leaves too little.
func checkBuyingPower(ctx context.Context, a *app, out io.Writer, symbol string, quantity float64) error {
	snapshot, err := a.snapshots.Fetch(ctx)
	if err != nil {
		return err
	}
	quote, err := a.quotes.Fetch(ctx, symbol)
	if err != nil {
		return err
	}

	var available = a.reserved.AvailableCash(snapshot.Account.Cash(), a.tracker.PendingOrders())
	var cost = quote.Price * quantity * a.cfg.BufferRatio
	if cost > available {
		return fmt.Errorf("estimated cost %.2f exceeds available cash %.2f (reserved funds included)",
			cost, available)
	}
	fmt.Fprintf(out, "%v at %.2f, estimated cost %.2f of %.2f available\n",
		symbol, quote.Price, cost, available)
	return nil
}
