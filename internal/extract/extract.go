// Package extract reads {label: price} pairs out of a single OCR text
// fragment using the vendor's label table.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
)

// priceToken matches board prices such as "1,206" (one digit, comma, three digits).
var priceToken = regexp.MustCompile(`\d,\d{3}`)

// MalformedExtractionError reports a strict vendor board whose label and
// price counts differ. It is not fatal: the image contributes no prices.
type MalformedExtractionError struct {
	Vendor fuel.Vendor
	Text   string
	Labels []string
	Prices []decimal.Decimal
}

func (e *MalformedExtractionError) Error() string {
	return fmt.Sprintf("vendor %s: matched %d labels but found %d prices", e.Vendor, len(e.Labels), len(e.Prices))
}

// Extract reads a text fragment with the vendor's table and policy.
func Extract(vendor fuel.Vendor, text string) (map[string]decimal.Decimal, error) {
	table, err := fuel.Table(vendor)
	if err != nil {
		return nil, err
	}
	return ExtractWith(table, text)
}

// ExtractWith reads a text fragment with an explicit table.
//
// Labels are paired with prices by position: the i-th matched label (in
// table order) gets the i-th price token (in text order).
func ExtractWith(table fuel.VendorTable, text string) (map[string]decimal.Decimal, error) {
	prices, err := Prices(text)
	if err != nil {
		return nil, err
	}
	labels := Labels(table, text)

	if table.Policy == fuel.Strict && len(labels) != len(prices) {
		return map[string]decimal.Decimal{}, &MalformedExtractionError{
			Vendor: table.Vendor,
			Text:   text,
			Labels: labels,
			Prices: prices,
		}
	}

	n := min(len(labels), len(prices))
	result := make(map[string]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		result[labels[i]] = prices[i]
	}
	return result, nil
}

// Prices returns every price token in text, left to right.
func Prices(text string) ([]decimal.Decimal, error) {
	tokens := priceToken.FindAllString(text, -1)
	prices := make([]decimal.Decimal, 0, len(tokens))
	for _, tok := range tokens {
		d, err := decimal.NewFromString(strings.Replace(tok, ",", ".", 1))
		if err != nil {
			return nil, fmt.Errorf("parse price token %q: %w", tok, err)
		}
		prices = append(prices, d)
	}
	return prices, nil
}

// Labels returns the labels whose pattern occurs in text, in table order.
func Labels(table fuel.VendorTable, text string) []string {
	labels := make([]string, 0, len(table.Labels))
	for _, lp := range table.Labels {
		if lp.Pattern.MatchString(text) {
			labels = append(labels, lp.Label)
		}
	}
	return labels
}
