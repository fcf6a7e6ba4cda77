package client

import (
	"fmt"
	"strings"
	"sync"
)

// AliasTable maps tickers that denote the same underlying instrument under
// different symbols (share classes, cross-listings). Pairs are symmetric.
type AliasTable struct {
	mu      sync.RWMutex
	aliases map[string]string
}

// DefaultAliases covers the one pair this account holds today; more pairs
// come from configuration.
var DefaultAliases = map[string]string{"GOOGL": "GOOG"}

func NewAliasTable(pairs map[string]string) *AliasTable {
	var t = &AliasTable{aliases: make(map[string]string, 2*len(pairs))}
	for a, b := range pairs {
		t.Add(a, b)
	}
	return t
}

// Add registers a symmetric alias pair.
func (t *AliasTable) Add(a, b string) {
	a, b = normalizeSymbol(a), normalizeSymbol(b)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aliases[a] = b
	t.aliases[b] = a
}

// Alias returns the alternative ticker for a symbol, if one is known.
func (t *AliasTable) Alias(symbol string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	alias, ok := t.aliases[normalizeSymbol(symbol)]
	return alias, ok
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// resolveSell validates a sell against owned positions. If the requested
// symbol is not owned exactly, an alias match substitutes the aliased symbol
// for the remainder of the transaction, including the order actually sent.
func resolveSell(symbol string, quantity float64, snapshot Snapshot, aliases *AliasTable) (string, error) {
	symbol = normalizeSymbol(symbol)
	var owned, ok = snapshot.Quantity(symbol)
	if !ok && aliases != nil {
		if alias, found := aliases.Alias(symbol); found {
			if q, okAlias := snapshot.Quantity(alias); okAlias {
				symbol, owned, ok = alias, q, true
			}
		}
	}
	if !ok {
		return "", &ValidationError{Reason: fmt.Sprintf("no position in %v", symbol)}
	}
	if quantity > owned {
		return "", &ValidationError{
			Reason: fmt.Sprintf("insufficient shares of %v: have %v, want %v", symbol, owned, quantity),
		}
	}
	return symbol, nil
}
