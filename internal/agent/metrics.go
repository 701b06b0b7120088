package agent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// metricsWindow is how much of the output tail the status-line parser reads.
const metricsWindow = 5000

// statusLineParser extracts usage from a Claude Code style status line:
// "Total: 45.2K input, 12.8K output", "Cost: $0.42", "Cache: 1.2K read, 500 write".
type statusLineParser struct {
	tokenPattern *regexp.Regexp
	costPattern  *regexp.Regexp
	apiPattern   *regexp.Regexp
	cachePattern *regexp.Regexp
}

func newStatusLineParser() *statusLineParser {
	return &statusLineParser{
		tokenPattern: regexp.MustCompile(`(?i)(?:total:?\s*)?(\d+(?:[.,]\d+)?)\s*([KkMm])?\s*(input|in)\s*[,/|]\s*(\d+(?:[.,]\d+)?)\s*([KkMm])?\s*(output|out)`),
		costPattern:  regexp.MustCompile(`(?i)(?:cost:?\s*)?~?\$(\d+(?:\.\d+)?)`),
		apiPattern:   regexp.MustCompile(`(?i)(?:api\s*)?calls?:?\s*(\d+)`),
		cachePattern: regexp.MustCompile(`(?i)cache[_\s]*(?:read)?:?\s*(\d+(?:[.,]\d+)?)\s*([KkMm])?\s*(?:read)?[,/|]\s*(\d+(?:[.,]\d+)?)\s*([KkMm])?\s*(?:write)?`),
	}
}

func (p *statusLineParser) Parse(output []byte) *Metrics {
	if len(output) == 0 {
		return nil
	}

	text := string(output)
	if len(text) > metricsWindow {
		text = text[len(text)-metricsWindow:]
	}
	text = ansi.Strip(text)

	m := &Metrics{}
	found := false

	if matches := p.tokenPattern.FindStringSubmatch(text); matches != nil {
		in := parseTokenValue(matches[1], matches[2])
		out := parseTokenValue(matches[4], matches[5])
		if in > 0 || out > 0 {
			m.Usage.InputTokens = in
			m.Usage.OutputTokens = out
			found = true
		}
	}

	if matches := p.costPattern.FindAllStringSubmatch(text, -1); matches != nil {
		last := matches[len(matches)-1]
		if cost, err := strconv.ParseFloat(last[1], 64); err == nil {
			m.Cost = cost
			m.HasCost = true
			found = true
		}
	}

	if matches := p.apiPattern.FindStringSubmatch(text); matches != nil {
		if calls, err := strconv.Atoi(matches[1]); err == nil {
			m.APICalls = calls
			found = true
		}
	}

	if matches := p.cachePattern.FindStringSubmatch(text); matches != nil {
		m.Usage.CacheReadTokens = parseTokenValue(matches[1], matches[2])
		m.Usage.CacheWriteTokens = parseTokenValue(matches[3], matches[4])
		if m.Usage.CacheReadTokens > 0 || m.Usage.CacheWriteTokens > 0 {
			found = true
		}
	}

	if !found {
		return nil
	}
	return m
}

// aiderTokenLine matches aider's per-message report, e.g.
//
//	Tokens: 2.3k sent, 1.1k cache write, 8.0k cache hit, 456 received. Cost: $0.01 message, $0.03 session.
var aiderTokenLine = regexp.MustCompile(
	`Tokens:\s*([\d.,]+)\s*([kKmM])?\s*sent` +
		`(?:,\s*([\d.,]+)\s*([kKmM])?\s*cache write)?` +
		`(?:,\s*([\d.,]+)\s*([kKmM])?\s*cache hit)?` +
		`,\s*([\d.,]+)\s*([kKmM])?\s*received\.` +
		`(?:\s*Cost:\s*\$([\d.]+)\s*message,\s*\$([\d.]+)\s*session\.?)?`)

// parseAiderUsage sums token counts over every message line and takes the
// cumulative session cost from the last one.
func parseAiderUsage(output []byte) *Metrics {
	text := ansi.Strip(string(output))
	matches := aiderTokenLine.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	m := &Metrics{APICalls: len(matches)}
	for _, g := range matches {
		m.Usage.InputTokens += parseTokenValue(g[1], g[2])
		m.Usage.CacheWriteTokens += parseTokenValue(g[3], g[4])
		m.Usage.CacheReadTokens += parseTokenValue(g[5], g[6])
		m.Usage.OutputTokens += parseTokenValue(g[7], g[8])
		if g[10] != "" {
			if cost, err := strconv.ParseFloat(g[10], 64); err == nil {
				m.Cost = cost
				m.HasCost = true
			}
		}
	}
	return m
}

// parseTokenValue parses a token count value with optional K/M suffix.
func parseTokenValue(numStr, suffix string) int64 {
	if numStr == "" {
		return 0
	}

	numStr = strings.ReplaceAll(numStr, ",", "")
	val, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0
	}

	switch strings.ToUpper(suffix) {
	case "K":
		val *= 1000
	case "M":
		val *= 1000000
	}
	return int64(val)
}
