package notify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/money"
)

const (
	RuleTitle = "💵 Alerta de Cotação"
	TestTitle = "💵 Teste de Notificação"
	TestTag   = "test-notification"

	// DefaultIcon is the dollar emoji rendered as an inline SVG.
	DefaultIcon = `data:image/svg+xml,<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100"><text y=".9em" font-size="90">💵</text></svg>`
)

var testFallbackValue = decimal.NewFromInt(5)

func directionLabel(d alert.Direction) string {
	if d == alert.Above {
		return "acima de"
	}
	return "abaixo de"
}

// ruleBody builds the text for a fired rule. amount is the dollar amount to
// convert, or zero when unset.
func ruleBody(value decimal.Decimal, rule alert.Rule, amount decimal.Decimal) string {
	body := fmt.Sprintf("Dólar atingiu %s! (%s %s)",
		money.BRL(value, 3), directionLabel(rule.Direction), money.BRL(rule.Threshold, 3))
	if amount.IsPositive() {
		body += " | Valor convertido: " + money.BRL(money.Convert(amount, value), 2)
	}
	return body
}

// testNotificationBody builds the text for a test notification. hasQuote is false when no
// quote has been fetched yet; the spread is subtracted before converting.
func testNotificationBody(value decimal.Decimal, hasQuote bool, amount, spread decimal.Decimal) string {
	shown := testFallbackValue
	if hasQuote {
		shown = value
	}
	body := fmt.Sprintf("Esta é uma notificação de teste! A cotação atual é %s.", money.BRL(shown, 3))
	if hasQuote && amount.IsPositive() {
		body += " | Valor convertido: " + money.BRL(money.Convert(amount, value.Sub(spread)), 2)
	}
	return body
}
