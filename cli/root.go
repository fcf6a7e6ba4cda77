// Package cli is the cobra command tree of the terminal.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:           "ibterm",
		Short:         "Interactive Brokers terminal: portfolio, quotes, charts and orders",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(
		newPortfolioCmd(),
		newQuoteCmd(),
		newHistoryCmd(),
		newBuyCmd(),
		newSellCmd(),
		newAdviseCmd(),
	)
	return rootCmd
}

// runApp wires the stack, connects, runs fn and tears everything down.
func runApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.connect(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

// confirm asks for an explicit yes on stdin. Anything else declines.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%v [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
