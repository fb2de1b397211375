// Package pricing parses shop prices and derives discount percentages.
package pricing

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	amountPattern   = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
	currencyPattern = regexp.MustCompile(`[£$€]\s*([\d,]+(?:\.\d+)?)`)
	priceCleaner    = strings.NewReplacer("£", "", "$", "", "€", "", ",", "", " ", "", "\u00a0", "")
)

// ParsePrice reads a price such as "£1,299.00" or "150". Currency symbols,
// thousands separators and whitespace are ignored.
func ParsePrice(text string) (float64, error) {
	cleaned := priceCleaner.Replace(strings.TrimSpace(text))
	if cleaned == "" {
		return 0, fmt.Errorf("empty price")
	}
	match := amountPattern.FindString(cleaned)
	if match == "" {
		return 0, fmt.Errorf("no price in %q", text)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	return v, nil
}

// ExtractPrices returns every currency-prefixed amount in text, in order.
func ExtractPrices(text string) []float64 {
	var out []float64
	for _, m := range currencyPattern.FindAllStringSubmatch(text, -1) {
		v, err := ParsePrice(m[1])
		if err == nil && v > 0 {
			out = append(out, v)
		}
	}
	return out
}

// CalculateDiscount returns the percentage saved, rounded to two decimals.
// A non-positive original price yields 0.
func CalculateDiscount(original, sale float64) float64 {
	if original <= 0 {
		return 0
	}
	return math.Round(((original-sale)/original)*100*100) / 100
}

// SalePair picks the highest price as the original and the lowest as the
// sale price. It reports false unless there are two distinct positive prices.
func SalePair(prices []float64) (original, sale float64, ok bool) {
	if len(prices) < 2 {
		return 0, 0, false
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	sale, original = sorted[0], sorted[len(sorted)-1]
	if sale <= 0 || original <= sale {
		return 0, 0, false
	}
	return original, sale, true
}
