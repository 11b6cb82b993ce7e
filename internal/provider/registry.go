package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknown is returned by New for an unregistered provider name.
var ErrUnknown = errors.New("provider: unknown provider")

// Names lists the quote providers in default fallback order.
func Names() []string {
	return []string{alphaVantageName, finnhubName, iexName, polygonName}
}

// New builds a quote provider by name.
func New(name string, cfg Config) (Provider, error) {
	switch strings.ToLower(name) {
	case alphaVantageName:
		return NewAlphaVantage(cfg), nil
	case finnhubName:
		return NewFinnhub(cfg), nil
	case iexName:
		return NewIEX(cfg), nil
	case polygonName:
		return NewPolygon(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
}
