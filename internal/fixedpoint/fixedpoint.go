// Package fixedpoint holds the integer representation used for every price and
// size comparison on the hot path. Decimal values only exist at the edges.
package fixedpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// DefaultScale expresses prices in mils (0.001).
const DefaultScale int64 = 1000

var (
	ErrScaleFrozen     = errors.New("fixedpoint: scale already in use")
	ErrInvalidScale    = errors.New("fixedpoint: scale must be a positive power of ten")
	ErrUnsupportedType = errors.New("fixedpoint: unsupported input type")
	ErrNotFinite       = errors.New("fixedpoint: value is not finite")
)

// Price is a price multiplied by Scale(). E.g. 0.534 with scale 1000 = 534.
type Price int64

// Size is a whole number of shares. Zero means "no level", so a positive
// quantity never converts to zero.
type Size int64

var (
	scaleMu     sync.Mutex
	scale       atomic.Int64
	scaleDigits atomic.Int32
	frozen      atomic.Bool
)

func init() {
	scale.Store(DefaultScale)
	scaleDigits.Store(3)
}

// SetScale replaces the process-wide scale. It must run before the first
// conversion; afterwards every stored Price depends on the old value and the
// call fails with ErrScaleFrozen (unless n equals the current scale).
func SetScale(n int64) error {
	digits, ok := powerOfTen(n)
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidScale, n)
	}

	scaleMu.Lock()
	defer scaleMu.Unlock()

	if frozen.Load() {
		if n == scale.Load() {
			return nil
		}
		return fmt.Errorf("%w: current=%d requested=%d", ErrScaleFrozen, scale.Load(), n)
	}
	scale.Store(n)
	scaleDigits.Store(digits)
	return nil
}

// Scale returns the active scale and freezes it.
func Scale() int64 {
	if frozen.Load() {
		return scale.Load()
	}
	scaleMu.Lock()
	frozen.Store(true)
	s := scale.Load()
	scaleMu.Unlock()
	return s
}

func digits() int32 {
	Scale()
	return scaleDigits.Load()
}

func powerOfTen(n int64) (int32, bool) {
	if n <= 0 {
		return 0, false
	}
	var d int32
	for n > 1 {
		if n%10 != 0 {
			return 0, false
		}
		n /= 10
		d++
	}
	return d, true
}

// ToInt scales d and truncates toward zero.
func ToInt(d decimal.Decimal) Price {
	return Price(d.Shift(digits()).IntPart())
}

// ToDecimal is the inverse of ToInt for values that fit the scale.
func ToDecimal(p Price) decimal.Decimal {
	return decimal.New(int64(p), -digits())
}

// ParsePrice parses a decimal string such as "0.534".
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("fixedpoint: parse price %q: %w", s, err)
	}
	return ToInt(d), nil
}

// ParseSize parses a share count, dropping any fractional part.
func ParseSize(s string) (Size, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("fixedpoint: parse size %q: %w", s, err)
	}
	return shares(d), nil
}

// shares truncates toward zero, except that a positive remainder below one
// share becomes a single share.
func shares(d decimal.Decimal) Size {
	n := d.IntPart()
	if n == 0 && d.IsPositive() {
		return 1
	}
	return Size(n)
}

// PriceFrom normalises a native value. Integers are taken as already scaled;
// floats go through their shortest decimal form so the same input always maps
// to the same Price.
func PriceFrom(v any) (Price, error) {
	switch t := v.(type) {
	case Price:
		return t, nil
	case int:
		return Price(t), nil
	case int32:
		return Price(t), nil
	case int64:
		return Price(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("%w: %v", ErrNotFinite, t)
		}
		return ToInt(decimal.NewFromFloat(t)), nil
	case float32:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return 0, fmt.Errorf("%w: %v", ErrNotFinite, t)
		}
		return ToInt(decimal.NewFromFloat32(t)), nil
	case decimal.Decimal:
		return ToInt(t), nil
	case string:
		return ParsePrice(t)
	case json.Number:
		return ParsePrice(string(t))
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// SizeFrom normalises a native share count.
func SizeFrom(v any) (Size, error) {
	switch t := v.(type) {
	case Size:
		return t, nil
	case int:
		return Size(t), nil
	case int32:
		return Size(t), nil
	case int64:
		return Size(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("%w: %v", ErrNotFinite, t)
		}
		return shares(decimal.NewFromFloat(t)), nil
	case float32:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return 0, fmt.Errorf("%w: %v", ErrNotFinite, t)
		}
		return shares(decimal.NewFromFloat32(t)), nil
	case decimal.Decimal:
		return shares(t), nil
	case string:
		return ParseSize(t)
	case json.Number:
		return ParseSize(string(t))
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// MustPrice is PriceFrom for constants and tests.
func MustPrice(v any) Price {
	p, err := PriceFrom(v)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Price) Decimal() decimal.Decimal { return ToDecimal(p) }

func (p Price) String() string { return ToDecimal(p).String() }

func (s Size) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(s)) }

func (s Size) String() string { return strconv.FormatInt(int64(s), 10) }
