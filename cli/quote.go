package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GBurgardt/interactive-brokers/client"
	"github.com/GBurgardt/interactive-brokers/gateway"
)

func newQuoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL",
		Short: "Resolve the current (possibly delayed) price of a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
				quote, err := a.quotes.Fetch(ctx, strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%v  %.2f USD  (%v)\n",
					quote.Symbol, quote.Price, quote.Field)
				return nil
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var period string
	var cmd = &cobra.Command{
		Use:   "history SYMBOL",
		Short: "Show the price series for a symbol over a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), func(ctx context.Context, a *app) error {
				var symbol = strings.ToUpper(args[0])
				bars, err := a.history.Fetch(ctx, symbol, period)
				if err != nil {
					return err
				}
				if len(bars) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%v %v: no data\n", symbol, period)
					return nil
				}
				printSeries(cmd.OutOrStdout(), symbol, period, bars)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&period, "period", "p", client.DefaultPeriod, "one of 1W, 1M, 3M, 6M, 1Y")
	return cmd
}

func printSeries(out io.Writer, symbol, period string, bars []gateway.Bar) {
	var first = bars[0]
	var last = bars[len(bars)-1]
	var high, low = first.High, first.Low
	for _, b := range bars {
		if b.High > high {
			high = b.High
		}
		if b.Low < low && b.Low > 0 {
			low = b.Low
		}
	}
	var change float64
	if first.Close != 0 {
		change = (last.Close - first.Close) / first.Close * 100
	}
	fmt.Fprintf(out, "%v %v  %v bars  %v .. %v\n", symbol, period, len(bars), first.Date, last.Date)
	fmt.Fprintf(out, "open %.2f  close %.2f  high %.2f  low %.2f  change %+.2f%%\n",
		first.Open, last.Close, high, low, change)
}
