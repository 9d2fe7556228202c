package scraper

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/EvgenyQA404/perfume/internal/config"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

var (
	// ErrUpstream wraps every failure to obtain a listing from a page
	ErrUpstream = errors.New("upstream fetch failed")
	// ErrNoPrice means the page had no recognizable price
	ErrNoPrice = fmt.Errorf("%w: price not found", ErrUpstream)
	// ErrNoName means the page had no recognizable product name
	ErrNoName = fmt.Errorf("%w: product name not found", ErrUpstream)
)

// Listing is what one product page yields
type Listing struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"` // minor currency units
	Currency string `json:"currency,omitempty"`
	URL      string `json:"url"`
}

// Extracted holds the raw texts pulled from a page before price parsing
type Extracted struct {
	Name         string
	PriceText    string
	CurrencyText string
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Extract pulls name, price and currency texts from a product page.
// The name falls back to og:title, <title> and the first <h1>.
func Extract(doc *goquery.Document, sel config.Selectors) (*Extracted, error) {
	name := ""
	if sel.Name != "" {
		name = cleanText(doc.Find(sel.Name).First().Text())
	}
	if name == "" {
		name = cleanText(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	}
	if name == "" {
		name = cleanText(doc.Find("title").First().Text())
	}
	if name == "" {
		name = cleanText(doc.Find("h1").First().Text())
	}
	if name == "" {
		return nil, ErrNoName
	}

	priceSel := doc.Find(sel.Price).First()
	if priceSel.Length() == 0 {
		return nil, ErrNoPrice
	}
	priceText := cleanText(priceSel.Text())
	if priceText == "" {
		// microdata keeps the number in content="..."
		priceText = cleanText(priceSel.AttrOr("content", ""))
	}
	if priceText == "" {
		return nil, ErrNoPrice
	}

	currencyText := ""
	if sel.Currency != "" {
		cur := doc.Find(sel.Currency).First()
		currencyText = cleanText(cur.Text())
		if currencyText == "" {
			currencyText = cleanText(cur.AttrOr("content", ""))
		}
	}
	if currencyText == "" {
		currencyText = cleanText(doc.Find(`[itemprop="priceCurrency"]`).First().AttrOr("content", ""))
	}

	return &Extracted{Name: name, PriceText: priceText, CurrencyText: currencyText}, nil
}

func cleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\u00a0' || r == '\u202f' {
			return ' '
		}
		return r
	}, s)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

var (
	numberRe    = regexp.MustCompile(`\d[\d\s.,\x{00a0}\x{202f}]*`)
	isoLetterRe = regexp.MustCompile(`\b[A-Z]{3}\b`)

	minAmount = decimal.NewFromInt(math.MinInt64)
	maxAmount = decimal.NewFromInt(math.MaxInt64)
)

// isoCodes are the currency codes accepted from free text
var isoCodes = map[string]bool{
	"RUB": true, "USD": true, "EUR": true, "GBP": true, "KZT": true, "BYN": true,
	"UAH": true, "CNY": true, "JPY": true, "CHF": true, "TRY": true, "AED": true,
	"PLN": true, "CZK": true, "SEK": true, "NOK": true, "DKK": true, "CAD": true,
	"AUD": true, "INR": true, "KRW": true, "GEL": true, "AMD": true, "UZS": true,
	"KGS": true, "AZN": true, "ILS": true, "HKD": true, "SGD": true, "BRL": true,
}

var currencySymbols = []struct {
	token string
	code  string
}{
	{"₽", "RUB"},
	{"руб", "RUB"},
	{"р.", "RUB"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"₸", "KZT"},
}

// ParsePrice converts a displayed price into minor units.
//
// Spaces and no-break spaces are digit group separators. When both ',' and
// '.' occur the last one is the decimal separator. A lone separator followed
// by exactly three digits groups thousands; otherwise it marks decimals.
// The currency comes from currencyText, then valueText, then defaultCurrency.
func ParsePrice(valueText, currencyText, defaultCurrency string, exponent int32) (int64, string, error) {
	raw, err := findAmount(valueText)
	if err != nil {
		return 0, "", err
	}

	normalized, err := normalizeNumber(raw)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q: %v", ErrNoPrice, valueText, err)
	}

	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q: %v", ErrNoPrice, valueText, err)
	}
	minor := value.Shift(exponent).Round(0)
	if minor.LessThan(minAmount) || minor.GreaterThan(maxAmount) {
		return 0, "", fmt.Errorf("%w: %q: amount out of range", ErrNoPrice, valueText)
	}

	currency := detectCurrency(currencyText)
	if currency == "" {
		currency = detectCurrency(valueText)
	}
	if currency == "" {
		currency = strings.ToUpper(strings.TrimSpace(defaultCurrency))
	}

	return minor.IntPart(), currency, nil
}

// findAmount returns the first number in text that is not a percentage.
// A minus sign in front of it means a negative price, which is rejected.
func findAmount(text string) (string, error) {
	for _, loc := range numberRe.FindAllStringIndex(text, -1) {
		rest := strings.TrimLeft(text[loc[1]:], " \u00a0\u202f")
		if strings.HasPrefix(rest, "%") {
			continue
		}
		before := strings.TrimRight(text[:loc[0]], " \u00a0\u202f")
		if strings.HasSuffix(before, "-") || strings.HasSuffix(before, "\u2212") {
			return "", fmt.Errorf("%w: %q: negative amount", ErrNoPrice, text)
		}
		return text[loc[0]:loc[1]], nil
	}
	return "", fmt.Errorf("%w: %q", ErrNoPrice, text)
}

func normalizeNumber(raw string) (string, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, raw)
	s = strings.TrimRight(s, ".,")

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		decimalSep, groupSep := ".", ","
		if lastComma > lastDot {
			decimalSep, groupSep = ",", "."
		}
		s = strings.ReplaceAll(s, groupSep, "")
		if strings.Count(s, decimalSep) > 1 {
			return "", fmt.Errorf("ambiguous separators in %q", raw)
		}
		return strings.Replace(s, decimalSep, ".", 1), nil
	case lastComma >= 0:
		return singleSeparator(s, ",")
	case lastDot >= 0:
		return singleSeparator(s, ".")
	default:
		return s, nil
	}
}

func singleSeparator(s, sep string) (string, error) {
	parts := strings.Split(s, sep)
	if len(parts) > 2 {
		// 1.234.567 or 1,234,567
		return strings.Join(parts, ""), nil
	}
	if len(parts[1]) == 3 {
		return parts[0] + parts[1], nil
	}
	return parts[0] + "." + parts[1], nil
}

func detectCurrency(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, s := range currencySymbols {
		if strings.Contains(lower, s.token) {
			return s.code
		}
	}
	for _, code := range isoLetterRe.FindAllString(strings.ToUpper(text), -1) {
		if isoCodes[code] {
			return code
		}
	}
	return ""
}
