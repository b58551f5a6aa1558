// Package numeric holds the accuracy-aware decimal helpers used by every
// money computation in the matching core.
package numeric

import (
	"github.com/shopspring/decimal"
)

// DivisionPrecision is the scale used for intermediate divisions before the
// result is rounded to an asset accuracy.
const DivisionPrecision = 16

// RoundUp rounds value away from zero to accuracy decimal places.
func RoundUp(value decimal.Decimal, accuracy int) decimal.Decimal {
	return value.RoundUp(int32(accuracy))
}

// RoundDown truncates value towards zero to accuracy decimal places.
func RoundDown(value decimal.Decimal, accuracy int) decimal.Decimal {
	return value.RoundDown(int32(accuracy))
}

// RoundHalfUp rounds value half away from zero.
func RoundHalfUp(value decimal.Decimal, accuracy int) decimal.Decimal {
	return value.Round(int32(accuracy))
}

// RoundCeil rounds towards positive infinity regardless of sign.
func RoundCeil(value decimal.Decimal, accuracy int) decimal.Decimal {
	return value.RoundCeil(int32(accuracy))
}

// RoundFloor rounds towards negative infinity regardless of sign.
func RoundFloor(value decimal.Decimal, accuracy int) decimal.Decimal {
	return value.RoundFloor(int32(accuracy))
}

// CheckAccuracy reports whether value carries no more than accuracy
// significant fractional digits. Trailing zeros are ignored.
func CheckAccuracy(value decimal.Decimal, accuracy int) bool {
	return value.Equal(value.Truncate(int32(accuracy)))
}

// Scale returns the number of significant fractional digits of value.
func Scale(value decimal.Decimal) int {
	for s := 0; s < 32; s++ {
		if CheckAccuracy(value, s) {
			return s
		}
	}
	return int(-value.Exponent())
}

// Divide returns a / b rounded half-up to accuracy. b must not be zero.
func Divide(a, b decimal.Decimal, accuracy int) decimal.Decimal {
	return a.DivRound(b, DivisionPrecision).Round(int32(accuracy))
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Valid reports whether a nullable decimal carries a value.
func Valid(v decimal.NullDecimal) bool {
	return v.Valid
}

// Null wraps a decimal into a valid NullDecimal.
func Null(v decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: v, Valid: true}
}

// PositiveOrNull reports whether v is either absent or strictly positive.
func PositiveOrNull(v decimal.NullDecimal) bool {
	return !v.Valid || v.Decimal.IsPositive()
}

// MustParse parses s and panics on malformed input. Intended for constants
// and tests only.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
