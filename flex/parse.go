package flex

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedDescriptor is returned for slot settings that cannot be parsed.
var ErrMalformedDescriptor = errors.New("malformed flex descriptor")

// Fill grows into free space and never shrinks.
func Fill() Descriptor { return Descriptor{Grow: 1, Basis: AutoBasis} }

// Share splits free space evenly with priority weighting.
func Share() Descriptor { return Descriptor{Grow: 2, Basis: AutoBasis} }

// Fixed takes exactly n slots when available. The max keeps fixed:1 from
// reading as a 100% proportion.
func Fixed(n int) Descriptor { return Descriptor{Basis: Basis{Value: float64(n)}, Max: n} }

// ParseDescriptor reads a descriptor from its configuration form: one of the
// shorthands "fill", "share", "fixed:N", "N%", a bare slot count, or a map
// with grow, shrink, basis, min and max keys.
func ParseDescriptor(v any) (Descriptor, error) {
	switch t := v.(type) {
	case nil:
		return Fill(), nil
	case int:
		return fixedCount(t)
	case float64:
		if t != float64(int(t)) {
			return Descriptor{}, fmt.Errorf("%w: fractional slot count %v", ErrMalformedDescriptor, t)
		}
		return fixedCount(int(t))
	case string:
		return parseShorthand(t)
	case map[string]any:
		return parseMap(t)
	default:
		return Descriptor{}, fmt.Errorf("%w: unsupported type %T", ErrMalformedDescriptor, v)
	}
}

func fixedCount(n int) (Descriptor, error) {
	if n < 0 {
		return Descriptor{}, fmt.Errorf("%w: negative slot count %d", ErrMalformedDescriptor, n)
	}
	return Fixed(n), nil
}

func parseShorthand(s string) (Descriptor, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "" || s == "fill":
		return Fill(), nil
	case s == "share":
		return Share(), nil
	case strings.HasPrefix(s, "fixed:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "fixed:"))
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: %q", ErrMalformedDescriptor, s)
		}
		return fixedCount(n)
	case strings.HasSuffix(s, "%"):
		pct, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil || pct <= 0 || pct > 100 {
			return Descriptor{}, fmt.Errorf("%w: %q", ErrMalformedDescriptor, s)
		}
		return Descriptor{Shrink: 1, Basis: Basis{Value: pct / 100}}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrMalformedDescriptor, s)
	}
	return fixedCount(n)
}

func parseMap(m map[string]any) (Descriptor, error) {
	d := Descriptor{Basis: AutoBasis}
	for k, raw := range m {
		switch k {
		case "grow", "shrink":
			f, err := number(raw)
			if err != nil || f < 0 {
				return Descriptor{}, fmt.Errorf("%w: %s=%v", ErrMalformedDescriptor, k, raw)
			}
			if k == "grow" {
				d.Grow = f
			} else {
				d.Shrink = f
			}
		case "basis":
			if s, ok := raw.(string); ok && strings.EqualFold(s, "auto") {
				d.Basis = AutoBasis
				continue
			}
			f, err := number(raw)
			if err != nil || f < 0 {
				return Descriptor{}, fmt.Errorf("%w: basis=%v", ErrMalformedDescriptor, raw)
			}
			d.Basis = Basis{Value: f}
		case "min", "max":
			f, err := number(raw)
			if err != nil || f < 0 {
				return Descriptor{}, fmt.Errorf("%w: %s=%v", ErrMalformedDescriptor, k, raw)
			}
			if k == "min" {
				d.Min = int(f)
			} else {
				d.Max = int(f)
			}
		default:
			return Descriptor{}, fmt.Errorf("%w: unknown key %q", ErrMalformedDescriptor, k)
		}
	}
	if d.Max > 0 && d.Min > d.Max {
		return Descriptor{}, fmt.Errorf("%w: min %d exceeds max %d", ErrMalformedDescriptor, d.Min, d.Max)
	}
	return d, nil
}

func number(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(t, 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}
