package ledger

import "sort"

// Catalog is the set of assets the service knows about: one base currency
// and the securities that can be ordered against it.
type Catalog struct {
	base      string
	tradeable map[string]struct{}
}

// NewCatalog builds a catalog. The base currency is never tradeable even if
// it appears in tradeable.
func NewCatalog(base string, tradeable []string) Catalog {
	base = NormalizeSymbol(base)
	if base == "" {
		base = DefaultBaseCurrency
	}
	c := Catalog{base: base, tradeable: make(map[string]struct{}, len(tradeable))}
	for _, s := range tradeable {
		s = NormalizeSymbol(s)
		if s == "" || s == base {
			continue
		}
		c.tradeable[s] = struct{}{}
	}
	return c
}

// Base returns the base currency symbol.
func (c Catalog) Base() string { return c.base }

// IsTradeable reports whether orders may be placed for symbol.
func (c Catalog) IsTradeable(symbol string) bool {
	_, ok := c.tradeable[NormalizeSymbol(symbol)]
	return ok
}

// IsKnown reports whether symbol is the base currency or tradeable.
func (c Catalog) IsKnown(symbol string) bool {
	return NormalizeSymbol(symbol) == c.base || c.IsTradeable(symbol)
}

// Tradeable lists tradeable symbols in lexical order.
func (c Catalog) Tradeable() []string {
	out := make([]string, 0, len(c.tradeable))
	for s := range c.tradeable {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
