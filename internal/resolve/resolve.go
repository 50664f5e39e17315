// Package resolve implements the d20 skill check shared by every subsystem.
// A check rolls 1..20, adds modifiers, and compares against a difficulty.
package resolve

import (
	"errors"
	"fmt"
	"math"
)

// Die is the size of the check die.
const Die = 20

// ErrInvalidAbility indicates an ability score outside the accepted range.
var ErrInvalidAbility = errors.New("ability score must be between 1 and 30")

// Roller is the random source a check draws from. *rand.Rand satisfies it.
type Roller interface {
	Intn(n int) int
}

// Result captures a single resolved check.
type Result struct {
	Roll            int     `json:"roll"`
	Modifier        float64 `json:"modifier"`
	Difficulty      float64 `json:"difficulty"`
	Total           float64 `json:"total"`
	Success         bool    `json:"success"`
	CriticalSuccess bool    `json:"critical_success"`
	CriticalFailure bool    `json:"critical_failure"`
}

// Check rolls a d20, adds modifierSum and compares the total against difficulty.
//
// Critical flags are informational: a natural 20 that still misses the
// difficulty is a failure with CriticalSuccess set, and a natural 1 that
// clears it is a success with CriticalFailure set.
func Check(r Roller, modifierSum, difficulty float64) Result {
	roll := r.Intn(Die) + 1
	total := float64(roll) + modifierSum
	return Result{
		Roll:            roll,
		Modifier:        modifierSum,
		Difficulty:      difficulty,
		Total:           total,
		Success:         total >= difficulty,
		CriticalSuccess: roll == Die,
		CriticalFailure: roll == 1,
	}
}

// Margin returns how far the total landed above (positive) or below the difficulty.
func (r Result) Margin() float64 {
	return r.Total - r.Difficulty
}

// Scale returns the outcome magnitude multiplier for numeric effects.
func (r Result) Scale() float64 {
	switch {
	case r.CriticalSuccess:
		return 1.5
	case r.CriticalFailure:
		return 0.5
	default:
		return 1
	}
}

// Roll sums count uniform rolls of a die with the given number of sides.
func Roll(r Roller, count, sides int) int {
	if count <= 0 || sides <= 0 {
		return 0
	}
	total := 0
	for i := 0; i < count; i++ {
		total += r.Intn(sides) + 1
	}
	return total
}

// AbilityModifier converts an ability score into its check modifier.
func AbilityModifier(score int) float64 {
	return math.Floor(float64(score-10) / 2)
}

// ValidateAbility rejects malformed ability scores.
func ValidateAbility(name string, score int) error {
	if score < 1 || score > 30 {
		return fmt.Errorf("%s=%d: %w", name, score, ErrInvalidAbility)
	}
	return nil
}

// Contest runs opposed checks for two sides against the same difficulty and
// returns both results plus the margin of the first over the second.
func Contest(r Roller, modA, modB, difficulty float64) (a, b Result, margin float64) {
	a = Check(r, modA, difficulty)
	b = Check(r, modB, difficulty)
	return a, b, a.Total - b.Total
}
