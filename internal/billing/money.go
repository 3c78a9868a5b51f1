// Package billing performs all monetary arithmetic for the router in integer
// nanodollars (1 USD = 1e9 units). Floating point appears only in display
// helpers and JSON compatibility shims; accumulation always runs through
// wide-integer intermediates.
package billing

import (
	"fmt"
	"math/big"
)

// NanoPerUnit is the nanodollar scale: 1 currency unit = 1e9 nano.
const NanoPerUnit = int64(1_000_000_000)

// tokensPerPriceUnit is the denominator of all price cards: prices are
// quoted in nano per one million tokens.
const tokensPerPriceUnit = int64(1_000_000)

// DollarsToNano converts a display amount to nanodollars.
func DollarsToNano(d float64) int64 {
	return int64(d*float64(NanoPerUnit) + 0.5)
}

// NanoToDollars converts nanodollars to a display amount.
func NanoToDollars(n int64) float64 {
	return float64(n) / float64(NanoPerUnit)
}

// FormatNano renders a nanodollar amount with a currency symbol and six
// decimal places.
func FormatNano(n int64, symbol string) string {
	return fmt.Sprintf("%s%.6f", symbol, NanoToDollars(n))
}

// tokenCost computes tokens x pricePerMillion / 1e6 with a wide intermediate
// so realistic token counts can never overflow the product.
func tokenCost(tokens, pricePerMillionNano int64) int64 {
	if tokens <= 0 || pricePerMillionNano <= 0 {
		return 0
	}
	prod := new(big.Int).Mul(big.NewInt(tokens), big.NewInt(pricePerMillionNano))
	prod.Quo(prod, big.NewInt(tokensPerPriceUnit))
	return prod.Int64()
}

// applyRate converts an amount via a 1e9-scaled exchange rate.
func applyRate(amountNano, rateScaled int64) int64 {
	if rateScaled <= 0 {
		return 0
	}
	prod := new(big.Int).Mul(big.NewInt(amountNano), big.NewInt(rateScaled))
	prod.Quo(prod, big.NewInt(NanoPerUnit))
	return prod.Int64()
}
