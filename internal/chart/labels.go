package chart

import (
	"time"

	"github.com/shopspring/decimal"
)

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func clockLabel(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05")
}
