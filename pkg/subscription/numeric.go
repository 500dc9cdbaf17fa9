package subscription

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"
)

// NumericValue interprets a decoded event value as an exact rational.
// It understands the integer types produced by the ABI decoder, floats,
// json.Number and decimal or 0x-prefixed strings.
func NumericValue(v any) (*big.Rat, bool) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, false
		}
		return new(big.Rat).SetInt(x), true
	case big.Int:
		return new(big.Rat).SetInt(&x), true
	case *big.Rat:
		if x == nil {
			return nil, false
		}
		return new(big.Rat).Set(x), true
	case *big.Float:
		if x == nil || x.IsInf() {
			return nil, false
		}
		r, _ := x.Rat(nil)
		return r, r != nil
	case int:
		return new(big.Rat).SetInt64(int64(x)), true
	case int8:
		return new(big.Rat).SetInt64(int64(x)), true
	case int16:
		return new(big.Rat).SetInt64(int64(x)), true
	case int32:
		return new(big.Rat).SetInt64(int64(x)), true
	case int64:
		return new(big.Rat).SetInt64(x), true
	case uint:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint8:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint16:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint32:
		return new(big.Rat).SetUint64(uint64(x)), true
	case uint64:
		return new(big.Rat).SetUint64(x), true
	case float32:
		return ratFromFloat(float64(x))
	case float64:
		return ratFromFloat(x)
	case json.Number:
		return ratFromString(string(x))
	case string:
		return ratFromString(x)
	default:
		return nil, false
	}
}

func ratFromFloat(f float64) (*big.Rat, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return new(big.Rat).SetFloat64(f), true
}

func ratFromString(s string) (*big.Rat, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		i, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, false
		}
		return new(big.Rat).SetInt(i), true
	}
	return new(big.Rat).SetString(s)
}
