// Package symbol handles stock symbol normalization and validation, and
// carries the static company-name table and the default symbol universe.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches exchange tickers: 1-5 letters, optionally followed by a
// class suffix. Examples: AAPL, BRK.B, BF-B
var symbolRegex = regexp.MustCompile(`^[A-Z]{1,5}([.-][A-Z]{1,2})?$`)

var ErrInvalid = errors.New("symbol: invalid format")

// Normalize upper-cases and trims s, then validates the result.
func Normalize(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q (expected 1-5 letters, optional class suffix)", ErrInvalid, s)
	}
	return sym, nil
}

var companyNames = map[string]string{
	"AAPL":  "Apple Inc.",
	"GOOGL": "Alphabet Inc.",
	"MSFT":  "Microsoft Corporation",
	"TSLA":  "Tesla, Inc.",
	"AMZN":  "Amazon.com Inc.",
	"META":  "Meta Platforms Inc.",
	"NVDA":  "NVIDIA Corporation",
	"NFLX":  "Netflix Inc.",
	"AMD":   "Advanced Micro Devices Inc.",
	"INTC":  "Intel Corporation",
	"CRM":   "Salesforce Inc.",
	"ORCL":  "Oracle Corporation",
	"IBM":   "International Business Machines",
	"PYPL":  "PayPal Holdings Inc.",
	"ADBE":  "Adobe Inc.",
	"UBER":  "Uber Technologies Inc.",
	"SPOT":  "Spotify Technology S.A.",
	"SNAP":  "Snap Inc.",
	"TWTR":  "Twitter Inc.",
	"SQ":    "Block Inc.",
	"SHOP":  "Shopify Inc.",
	"ZM":    "Zoom Video Communications",
	"DOCU":  "DocuSign Inc.",
	"ROKU":  "Roku Inc.",
	"PINS":  "Pinterest Inc.",
}

// CompanyName returns the display name for sym, or "<SYM> Corporation".
func CompanyName(sym string) string {
	if name, ok := companyNames[sym]; ok {
		return name
	}
	return sym + " Corporation"
}

// Popular is the default quote universe, in refresh order.
func Popular() []string {
	return []string{
		"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN",
		"META", "NVDA", "NFLX", "AMD", "INTC",
	}
}

// ParseList splits a comma-separated symbol list, normalizing each entry and
// dropping duplicates while keeping first-seen order.
func ParseList(s string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		sym, err := Normalize(part)
		if err != nil {
			return nil, err
		}
		if seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out, nil
}
