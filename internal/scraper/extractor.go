package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/productowl/productowl/internal/products"
)

// ParseErrorKind distinguishes a page missing an expected field from a
// structurally different page (error or challenge page served where a
// product page was expected).
type ParseErrorKind string

const (
	KindMissingField   ParseErrorKind = "missing_field"
	KindUnexpectedPage ParseErrorKind = "unexpected_page"
)

// ParseError is a typed extraction failure.
type ParseError struct {
	Kind  ParseErrorKind
	Field string
}

func (e *ParseError) Error() string {
	if e.Kind == KindMissingField {
		return fmt.Sprintf("parse error: missing field %q", e.Field)
	}
	return "parse error: unexpected page structure"
}

// ProductFields is the normalized record extracted from one product page.
type ProductFields struct {
	Title        string
	Price        decimal.Decimal
	Currency     string
	Availability products.Availability
	ImageURL     string
}

// Extract parses rendered product-page HTML into normalized fields. It is
// a pure function: no network or storage access, deterministic for
// identical input. Failures are *ParseError values.
func Extract(html string) (*ProductFields, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &ParseError{Kind: KindUnexpectedPage}
	}

	if isChallengeDoc(doc) {
		return nil, &ParseError{Kind: KindUnexpectedPage}
	}

	title := firstMatch(doc, titleSelectors)
	priceText := firstMatch(doc, priceSelectors)

	// A page with neither a title nor a price anchor is not a product page
	// at all; report it distinctly so callers can tell structure drift from
	// a single missing field.
	if title == "" && priceText == "" {
		return nil, &ParseError{Kind: KindUnexpectedPage}
	}
	if title == "" {
		return nil, &ParseError{Kind: KindMissingField, Field: "title"}
	}
	if priceText == "" {
		return nil, &ParseError{Kind: KindMissingField, Field: "price"}
	}

	price, err := normalizePrice(priceText)
	if err != nil {
		return nil, &ParseError{Kind: KindMissingField, Field: "price"}
	}

	return &ProductFields{
		Title:        title,
		Price:        price,
		Currency:     extractCurrency(doc, priceText),
		Availability: extractAvailability(doc),
		ImageURL:     extractImage(doc),
	}, nil
}

// firstMatch applies the rules in order and returns the first non-empty
// text match.
func firstMatch(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func extractCurrency(doc *goquery.Document, priceText string) string {
	for symbol, code := range currencySymbols {
		if strings.Contains(priceText, symbol) {
			return code
		}
	}
	for _, sel := range currencySelectors {
		node := doc.Find(sel).First()
		if content, ok := node.Attr("content"); ok && strings.TrimSpace(content) != "" {
			return strings.TrimSpace(content)
		}
		if text := strings.TrimSpace(node.Text()); text != "" {
			return text
		}
	}
	return ""
}

func extractAvailability(doc *goquery.Document) products.Availability {
	text := strings.ToLower(firstMatch(doc, availabilitySelectors))
	switch {
	case text == "":
		return products.Unknown
	case strings.Contains(text, "out of stock"),
		strings.Contains(text, "unavailable"),
		strings.Contains(text, "outofstock"):
		return products.OutOfStock
	case strings.Contains(text, "in stock"),
		strings.Contains(text, "instock"),
		strings.Contains(text, "available"):
		return products.InStock
	default:
		return products.Unknown
	}
}

func extractImage(doc *goquery.Document) string {
	for _, rule := range imageRules {
		if val, ok := doc.Find(rule.selector).First().Attr(rule.attr); ok {
			if trimmed := strings.TrimSpace(val); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// isChallengeDoc checks the parsed document for challenge-page structure:
// a captcha form or known block-page wording.
func isChallengeDoc(doc *goquery.Document) bool {
	if doc.Find("form[action*='validateCaptcha']").Length() > 0 {
		return true
	}
	title := strings.ToLower(doc.Find("title").First().Text())
	body := strings.ToLower(doc.Find("body").Text())
	for _, marker := range challengeTextMarkers {
		if strings.Contains(title, marker) || strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// isChallengeHTML is the cheap pre-parse variant used by the fetcher.
func isChallengeHTML(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range challengeTextMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// normalizePrice strips currency symbols and locale-specific separators
// and returns an exact decimal. It never defaults: unparseable input is an
// error.
func normalizePrice(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("no numeric value in %q", raw)
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both separators present: the later one is the decimal point.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// Comma only: decimal separator when it looks like one (a single
		// comma with 1-2 trailing digits), thousands separator otherwise.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ".") > 1:
		// Dots as thousands separators with a trailing decimal dot.
		s = strings.ReplaceAll(s[:lastDot], ".", "") + s[lastDot:]
	}

	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return price, nil
}
