package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.BrazilianPortuguese)

// BRL formats d as Brazilian reais with the given number of decimals.
func BRL(d decimal.Decimal, places int32) string {
	return "R$ " + Number(d, places)
}

// Number formats d with pt-BR separators.
func Number(d decimal.Decimal, places int32) string {
	format := fmt.Sprintf("%%.%df", places)
	return printer.Sprintf(format, d.Round(places).InexactFloat64())
}

// Convert returns amount × rate, used for the converted-value display.
func Convert(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate)
}
