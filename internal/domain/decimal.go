package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// ToDecimalOrNone normalizes a numeric value from a broker response.
//
// The execution API reports numbers in several shapes: plain JSON numbers,
// numeric strings ("141.40"), single-element lists, and {"value": x} or
// {"amount": x} wrappers. Everything that is not a recognizable number
// returns nil; callers treat nil as "unavailable", never as zero.
func ToDecimalOrNone(value interface{}) *decimal.Decimal {
	switch v := value.(type) {
	case nil:
		return nil
	case decimal.Decimal:
		return &v
	case *decimal.Decimal:
		return v
	case float64:
		d := decimal.NewFromFloat(v)
		return &d
	case float32:
		d := decimal.NewFromFloat32(v)
		return &d
	case int:
		d := decimal.NewFromInt(int64(v))
		return &d
	case int32:
		d := decimal.NewFromInt32(v)
		return &d
	case int64:
		d := decimal.NewFromInt(v)
		return &d
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return nil
		}
		return &d
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		s = strings.TrimPrefix(s, "$")
		if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
			return nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil
		}
		return &d
	case []interface{}:
		if len(v) != 1 {
			return nil
		}
		return ToDecimalOrNone(v[0])
	case map[string]interface{}:
		for _, key := range []string{"value", "amount", "val"} {
			if inner, ok := v[key]; ok {
				return ToDecimalOrNone(inner)
			}
		}
		return nil
	default:
		return nil
	}
}

// ToFloatOrNone is ToDecimalOrNone converted to *float64
func ToFloatOrNone(value interface{}) *float64 {
	d := ToDecimalOrNone(value)
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return &f
}

// FloatOr returns the normalized value or the fallback when unavailable
func FloatOr(value interface{}, fallback float64) float64 {
	if f := ToFloatOrNone(value); f != nil {
		return *f
	}
	return fallback
}
