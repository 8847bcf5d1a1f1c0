package usecases

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"saldobot/internal/entities"
)

const DefaultNoBalancePhrase = "no saldo pendiente"

var (
	// "$ 1.234,56", "$1,234.56", "$1500", "$12,50"
	currencyAmountPattern = regexp.MustCompile(`\$\s?(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{2})?|\d+(?:[.,]\d{2})?)`)
	plainDigitsPattern    = regexp.MustCompile(`\d+`)
)

type ExtractorOption func(*BalanceExtractor)

// WithCurrencyRequired disables the plain digit-run fallback so only
// "$"-prefixed amounts resolve.
func WithCurrencyRequired(required bool) ExtractorOption {
	return func(e *BalanceExtractor) {
		e.currencyRequired = required
	}
}

// BalanceExtractor decides whether a provider reply states a zero balance,
// contains an amount, or neither.
type BalanceExtractor struct {
	noBalance        *regexp.Regexp
	currencyRequired bool
}

func NewBalanceExtractor(phrases []string, opts ...ExtractorOption) *BalanceExtractor {
	quoted := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	if len(quoted) == 0 {
		quoted = append(quoted, regexp.QuoteMeta(DefaultNoBalancePhrase))
	}

	e := &BalanceExtractor{
		noBalance: regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract never normalizes separators: the captured text is returned verbatim.
func (e *BalanceExtractor) Extract(body string) entities.BalanceOutcome {
	if e.noBalance.MatchString(body) {
		return entities.BalanceOutcome{Kind: entities.OutcomeZero}
	}
	if m := currencyAmountPattern.FindStringSubmatch(body); m != nil {
		return entities.BalanceOutcome{Kind: entities.OutcomeAmount, Amount: m[1]}
	}
	if !e.currencyRequired {
		if digits := plainDigitsPattern.FindString(body); digits != "" {
			return entities.BalanceOutcome{Kind: entities.OutcomeAmount, Amount: digits}
		}
	}
	return entities.BalanceOutcome{Kind: entities.OutcomeUnresolved}
}

// ParseAmount interprets a stored raw amount as a decimal for display.
// A separator followed by exactly two trailing digits is the decimal mark;
// otherwise locale decides a lone separator ("es-AR": "," decimal, "en-US": ".").
func ParseAmount(raw, locale string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("empty amount")
	}

	last := strings.LastIndexAny(raw, ".,")
	if last < 0 {
		return decimal.NewFromString(raw)
	}

	decimalMark := byte(',')
	if locale == "en-US" {
		decimalMark = '.'
	}

	sep := raw[last]
	isDecimal := len(raw)-last-1 == 2 ||
		(sep == decimalMark && strings.Count(raw, string(sep)) == 1 && len(raw)-last-1 != 3)

	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '.' || c == ',':
			if isDecimal && i == last {
				b.WriteByte('.')
			}
		default:
			b.WriteByte(c)
		}
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}
