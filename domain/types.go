package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Currency a currency code
type Currency string

// Amount a monetary amount... which should be a float...
type Amount float64

// Rate an exchange rate
type Rate float64

// Rates maps a target currency to its rate against some base currency
type Rates map[Currency]Rate

// Quotes is what the upstream provider returns for a base currency.
// Keys are the concatenated pair codes, e.g. "USDEUR".
type Quotes struct {
	Source Currency
	Quotes map[string]Rate
}

// Rate returns the quote for target, if the provider returned one.
func (q Quotes) Rate(target Currency) (Rate, bool) {
	rate, ok := q.Quotes[string(q.Source)+string(target)]
	return rate, ok
}

// Rates re-keys the quotes by target currency.
func (q Quotes) Rates() Rates {
	rates := make(Rates, len(q.Quotes))
	prefix := string(q.Source)
	for pair, rate := range q.Quotes {
		target := strings.TrimPrefix(pair, prefix)
		if target == "" || target == pair {
			continue
		}
		rates[Currency(target)] = rate
	}
	return rates
}

// ParseCurrency normalises and validates a three letter currency code.
func ParseCurrency(s string) (Currency, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: currency code %q", ErrInvalidRequest, s)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: currency code %q", ErrInvalidRequest, s)
		}
	}
	return Currency(code), nil
}

// Validate checks that an amount can be converted.
func (a Amount) Validate() error {
	f := float64(a)
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %v", ErrInvalidRequest, f)
	}
	return nil
}

// Pair a base/target currency pair
type Pair struct {
	From Currency
	To   Currency
}

func (p Pair) String() string {
	return string(p.From) + ":" + string(p.To)
}

// ParsePair parses "USD:EUR" (or "USD/EUR") into a validated Pair.
func ParsePair(s string) (Pair, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '/' })
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("%w: currency pair %q", ErrInvalidRequest, s)
	}
	from, err := ParseCurrency(parts[0])
	if err != nil {
		return Pair{}, err
	}
	to, err := ParseCurrency(parts[1])
	if err != nil {
		return Pair{}, err
	}
	return Pair{From: from, To: to}, nil
}

// Snapshot a rate observed for a pair at a point in time
type Snapshot struct {
	Pair      Pair
	Rate      Rate
	FetchedAt time.Time
}
