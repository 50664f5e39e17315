package resolve

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidEffect indicates an effect expression that cannot be parsed.
var ErrInvalidEffect = errors.New("invalid effect expression")

// EffectKind tags the variant held by an Effect.
type EffectKind uint8

const (
	EffectFlat  EffectKind = iota // Fixed numeric delta
	EffectDice                    // Sum of Count rolls of a Sides-sided die
	EffectScale                   // Percentage of a base value
)

// Effect is a numeric delta that is either flat, rolled, or proportional.
type Effect struct {
	Kind    EffectKind `json:"kind"`
	Value   float64    `json:"value,omitempty"`
	Count   int        `json:"count,omitempty"`
	Sides   int        `json:"sides,omitempty"`
	Negate  bool       `json:"negate,omitempty"`
	Percent float64    `json:"percent,omitempty"`
}

// Flat returns a fixed effect.
func Flat(v float64) Effect { return Effect{Kind: EffectFlat, Value: v} }

// Dice returns a rolled effect of count dice with the given sides.
func Dice(count, sides int) Effect { return Effect{Kind: EffectDice, Count: count, Sides: sides} }

// Scale returns an effect worth percent% of the base it is resolved against.
func Scale(percent float64) Effect { return Effect{Kind: EffectScale, Percent: percent} }

// Neg flips the sign of the resolved value.
func (e Effect) Neg() Effect {
	e.Negate = !e.Negate
	return e
}

// Resolve evaluates the effect. base is only consulted by scale effects.
func (e Effect) Resolve(r Roller, base float64) float64 {
	var v float64
	switch e.Kind {
	case EffectFlat:
		v = e.Value
	case EffectDice:
		v = float64(Roll(r, e.Count, e.Sides))
	case EffectScale:
		v = base * e.Percent / 100
	}
	if e.Negate {
		return -v
	}
	return v
}

func (e Effect) String() string {
	sign := "+"
	if e.Negate {
		sign = "-"
	}
	switch e.Kind {
	case EffectDice:
		return fmt.Sprintf("%s%dd%d", sign, e.Count, e.Sides)
	case EffectScale:
		return fmt.Sprintf("%s%g%%", sign, e.Percent)
	default:
		if e.Negate {
			return strconv.FormatFloat(-e.Value, 'g', -1, 64)
		}
		return strconv.FormatFloat(e.Value, 'g', -1, 64)
	}
}

// ParseEffect parses "+NdM", "-NdM", "N%", or a plain number.
func ParseEffect(s string) (Effect, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Effect{}, fmt.Errorf("%q: %w", s, ErrInvalidEffect)
	}

	negate := false
	body := raw
	switch body[0] {
	case '+':
		body = body[1:]
	case '-':
		negate = true
		body = body[1:]
	}

	if strings.HasSuffix(body, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(body, "%"), 64)
		if err != nil {
			return Effect{}, fmt.Errorf("%q: %w", s, ErrInvalidEffect)
		}
		e := Scale(pct)
		e.Negate = negate
		return e, nil
	}

	if idx := strings.IndexByte(body, 'd'); idx >= 0 {
		count, err1 := strconv.Atoi(body[:idx])
		sides, err2 := strconv.Atoi(body[idx+1:])
		if err1 != nil || err2 != nil || count <= 0 || sides <= 0 {
			return Effect{}, fmt.Errorf("%q: %w", s, ErrInvalidEffect)
		}
		e := Dice(count, sides)
		e.Negate = negate
		return e, nil
	}

	v, err := strconv.ParseFloat(body, 64)
	if err != nil {
		return Effect{}, fmt.Errorf("%q: %w", s, ErrInvalidEffect)
	}
	if negate {
		v = -v
	}
	return Flat(v), nil
}
