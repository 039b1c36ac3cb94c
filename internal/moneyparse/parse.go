// Package moneyparse parses the locale-numeric price strings surfaced by
// cart-state probes (spec §4.2 getCartState, §8 "Cart-total parse") into
// minor-unit Money values.
package moneyparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopping-copilot/core/internal/schema"
)

// numericPattern matches a locale-numeric form such as "1.234,56 €" or
// "0,86 €": groups of digits separated by thousands dots, a comma decimal
// separator, and an optional trailing currency symbol.
var numericPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d{3})*|\d+),(\d{1,2})`)

// Parse converts a locale-numeric price string into minor-unit cents.
// Returns ok=false for unparseable input, per spec §4.2/§8 ("unparseable →
// null").
func Parse(raw string) (cents int64, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	match := numericPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return 0, false
	}
	integerPart := strings.ReplaceAll(match[1], ".", "")
	fractionalPart := match[2]
	if len(fractionalPart) == 1 {
		fractionalPart += "0"
	}

	integer, err := strconv.ParseInt(integerPart, 10, 64)
	if err != nil {
		return 0, false
	}
	fraction, err := strconv.ParseInt(fractionalPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return integer*100 + fraction, true
}

// ParseMoney is a convenience wrapper returning a schema.Money value.
func ParseMoney(raw string) (schema.Money, bool) {
	cents, ok := Parse(raw)
	if !ok {
		return schema.ZeroMoney, false
	}
	return schema.MoneyFromCents(cents), true
}
