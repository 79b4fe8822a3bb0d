// Package report renders valuation, risk and recalculation results as text
// tables for the CLI and as xlsx workbooks.
package report

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Currency formats whole dollars with grouping: "$8,500,000", "-$1,200".
func Currency(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.0f", math.Abs(v))
	}
	return printer.Sprintf("$%.0f", v)
}

// Percent formats a 0-100 value with one decimal: "87.5%".
func Percent(v float64) string { return printer.Sprintf("%.1f%%", v) }

// Rate formats a decimal rate as a percentage with two decimals: 0.105 is
// "10.50%".
func Rate(v float64) string { return printer.Sprintf("%.2f%%", v*100) }

// SignedPercent formats a 0-100 change with an explicit sign: "+4.2%".
func SignedPercent(v float64) string {
	if v > 0 {
		return printer.Sprintf("+%.1f%%", v)
	}
	return printer.Sprintf("%.1f%%", v)
}

// Number formats v with grouping and the given decimals.
func Number(v float64, decimals int) string {
	return printer.Sprintf(fmt.Sprintf("%%.%df", decimals), v)
}

// Multiple formats an earnings multiple: "8.0x".
func Multiple(v float64) string { return printer.Sprintf("%.1fx", v) }
