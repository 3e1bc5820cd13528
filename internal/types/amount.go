package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are charged in whole units by the processor
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// CurrencyExponent returns the number of minor-unit digits for currency
func CurrencyExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// MinorToDecimal converts an amount in minor units to a decimal in major units
func MinorToDecimal(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -CurrencyExponent(currency))
}

// FormatMinor renders a minor-unit amount as a fixed-point major-unit string (1355 usd -> "13.55")
func FormatMinor(amount int64, currency string) string {
	exp := CurrencyExponent(currency)
	return MinorToDecimal(amount, currency).StringFixed(exp)
}
