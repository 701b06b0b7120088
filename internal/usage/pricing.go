// Package usage records the tokens each run consumes, estimates what they
// cost, and enforces per-run and daily budgets.
package usage

import (
	"sort"
	"strconv"
	"strings"

	"github.com/fixit-bot/fixit/internal/llm"
)

// Price is a per-million-token rate in USD.
type Price struct {
	Input      float64
	Output     float64
	CacheRead  float64
	CacheWrite float64
}

// Cost returns the USD cost of u at this price.
func (p Price) Cost(u llm.Usage) float64 {
	const perMillion = 1_000_000.0
	return float64(u.InputTokens)/perMillion*p.Input +
		float64(u.OutputTokens)/perMillion*p.Output +
		float64(u.CacheReadTokens)/perMillion*p.CacheRead +
		float64(u.CacheWriteTokens)/perMillion*p.CacheWrite
}

// claudePrice derives cache rates from the input rate the way Anthropic
// prices prompt caching.
func claudePrice(in, out float64) Price {
	return Price{Input: in, Output: out, CacheRead: in * 0.1, CacheWrite: in * 1.25}
}

// Pricing maps model name prefixes to prices. The longest matching prefix
// wins, so "claude-3-5-haiku" takes precedence over "claude-3".
type Pricing map[string]Price

// DefaultPricing covers the models fixit is usually configured with.
var DefaultPricing = Pricing{
	"claude-3-haiku":    claudePrice(0.25, 1.25),
	"claude-3-5-haiku":  claudePrice(0.80, 4.00),
	"claude-haiku-4":    claudePrice(1.00, 5.00),
	"claude-3-5-sonnet": claudePrice(3.00, 15.00),
	"claude-3-7-sonnet": claudePrice(3.00, 15.00),
	"claude-sonnet-4":   claudePrice(3.00, 15.00),
	"claude-3-opus":     claudePrice(15.00, 75.00),
	"claude-opus-4":     claudePrice(15.00, 75.00),
	"claude-opus-4-5":   claudePrice(5.00, 25.00),
	"haiku":             claudePrice(0.80, 4.00),
	"sonnet":            claudePrice(3.00, 15.00),
	"opus":              claudePrice(15.00, 75.00),
	"gemini-1.5-flash":  {Input: 0.075, Output: 0.30, CacheRead: 0.01875},
	"gemini-1.5-pro":    {Input: 1.25, Output: 5.00, CacheRead: 0.3125},
	"gemini-2.0-flash":  {Input: 0.10, Output: 0.40, CacheRead: 0.025},
	"gemini-2.5-flash":  {Input: 0.30, Output: 2.50, CacheRead: 0.075},
	"gemini-2.5-pro":    {Input: 1.25, Output: 10.00, CacheRead: 0.31},
}

// Lookup returns the price for model. Provider prefixes such as
// "anthropic/" or "gemini/" are ignored.
func (p Pricing) Lookup(model string) (Price, bool) {
	name := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	prefixes := make([]string, 0, len(p))
	for prefix := range p {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return p[prefix], true
		}
	}
	return Price{}, false
}

// EstimateCost prices u for model. The bool is false when the model is not
// in the table.
func (p Pricing) EstimateCost(model string, u llm.Usage) (float64, bool) {
	price, ok := p.Lookup(model)
	if !ok {
		return 0, false
	}
	return price.Cost(u), true
}

// EstimateCost prices u with DefaultPricing.
func EstimateCost(model string, u llm.Usage) (float64, bool) {
	return DefaultPricing.EstimateCost(model, u)
}

// FormatTokens formats a token count for display (e.g., "45.2K").
func FormatTokens(tokens int64) string {
	if tokens >= 1000000 {
		return strconv.FormatFloat(float64(tokens)/1000000.0, 'f', 1, 64) + "M"
	}
	if tokens >= 1000 {
		return strconv.FormatFloat(float64(tokens)/1000.0, 'f', 1, 64) + "K"
	}
	return strconv.FormatInt(tokens, 10)
}

// FormatCost formats a cost value for display (e.g., "$0.42").
func FormatCost(cost float64) string {
	if cost == 0 {
		return "$0.00"
	}
	if cost < 0.01 {
		return "$" + strconv.FormatFloat(cost, 'f', 4, 64)
	}
	return "$" + strconv.FormatFloat(cost, 'f', 2, 64)
}
