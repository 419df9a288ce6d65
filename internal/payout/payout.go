// Package payout classifies roulette bets against a winning number and
// aggregates stakes and wins. Everything here is pure.
package payout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scythe504/roulette-backend/internal"
	"github.com/shopspring/decimal"
)

var redNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true,
	14: true, 16: true, 18: true, 19: true, 21: true, 23: true,
	25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

func IsRed(n int) bool {
	return redNumbers[n]
}

// IsBlack reports whether n is one of the 18 black pockets. 0 is neither.
func IsBlack(n int) bool {
	return n >= 1 && n <= internal.MaxNumber && !redNumbers[n]
}

func MultiplierOf(kind internal.BetKind) int64 {
	switch kind {
	case internal.BetNumber:
		return 35
	case internal.BetDozen, internal.BetColumn:
		return 2
	case internal.BetColor, internal.BetParity, internal.BetRange:
		return 1
	}
	return 0
}

// Classify reports whether bet wins against n. Zero only pays a straight
// Number bet on zero.
func Classify(bet internal.BetType, n int) bool {
	if !internal.ValidNumber(n) {
		return false
	}
	switch bet.Kind {
	case internal.BetNumber:
		return bet.Pick == n
	case internal.BetColor:
		if bet.Value == "red" {
			return IsRed(n)
		}
		return IsBlack(n)
	case internal.BetParity:
		if n == 0 {
			return false
		}
		if bet.Value == "even" {
			return n%2 == 0
		}
		return n%2 == 1
	case internal.BetRange:
		if bet.Value == "low" {
			return n >= 1 && n <= 18
		}
		return n >= 19 && n <= 36
	case internal.BetDozen:
		if n == 0 {
			return false
		}
		return (n-1)/12+1 == bet.Pick
	case internal.BetColumn:
		if n == 0 {
			return false
		}
		col := n % 3
		if col == 0 {
			col = 3
		}
		return col == bet.Pick
	}
	return false
}

// Win returns the amount credited for bet against n: amount × multiplier
// when the bet wins, zero otherwise.
func Win(bet internal.Bet, n int) decimal.Decimal {
	if !Classify(bet.BetType, n) {
		return decimal.Zero
	}
	return bet.Amount.Mul(decimal.NewFromInt(MultiplierOf(bet.Kind)))
}

// Aggregate sums the stake of every bet and the win of every winning bet.
func Aggregate(bets []internal.Bet, n int) (totalStake, totalWin decimal.Decimal) {
	totalStake, totalWin = decimal.Zero, decimal.Zero
	for _, b := range bets {
		totalStake = totalStake.Add(b.Amount)
		totalWin = totalWin.Add(Win(b, n))
	}
	return totalStake, totalWin
}

// ParseBet validates a wire (type, value) pair into a BetType. The shorthand
// types red/black/even/odd/low/high are accepted with any value, and an empty
// type with a numeric value is a Number bet.
func ParseBet(typ, value string) (internal.BetType, error) {
	typ = strings.ToLower(strings.TrimSpace(typ))
	value = strings.ToLower(strings.TrimSpace(value))

	switch typ {
	case "red", "black":
		return internal.BetType{Kind: internal.BetColor, Value: typ}, nil
	case "even", "odd":
		return internal.BetType{Kind: internal.BetParity, Value: typ}, nil
	case "low", "high":
		return internal.BetType{Kind: internal.BetRange, Value: typ}, nil
	case "", string(internal.BetNumber), "straight":
		n, err := strconv.Atoi(value)
		if err != nil || !internal.ValidNumber(n) {
			return internal.BetType{}, fmt.Errorf("%w: number bet must be 0..36, got %q", internal.ErrValidation, value)
		}
		return internal.BetType{Kind: internal.BetNumber, Value: strconv.Itoa(n), Pick: n}, nil
	case string(internal.BetColor):
		if value != "red" && value != "black" {
			return internal.BetType{}, fmt.Errorf("%w: color must be red or black, got %q", internal.ErrValidation, value)
		}
		return internal.BetType{Kind: internal.BetColor, Value: value}, nil
	case string(internal.BetParity):
		if value != "even" && value != "odd" {
			return internal.BetType{}, fmt.Errorf("%w: parity must be even or odd, got %q", internal.ErrValidation, value)
		}
		return internal.BetType{Kind: internal.BetParity, Value: value}, nil
	case string(internal.BetRange):
		if value != "low" && value != "high" {
			return internal.BetType{}, fmt.Errorf("%w: range must be low or high, got %q", internal.ErrValidation, value)
		}
		return internal.BetType{Kind: internal.BetRange, Value: value}, nil
	case string(internal.BetDozen):
		pick, ok := ordinal(value)
		if !ok {
			return internal.BetType{}, fmt.Errorf("%w: dozen must be 1st, 2nd or 3rd, got %q", internal.ErrValidation, value)
		}
		return internal.BetType{Kind: internal.BetDozen, Value: ordinals[pick-1], Pick: pick}, nil
	case string(internal.BetColumn):
		pick, ok := ordinal(value)
		if !ok {
			return internal.BetType{}, fmt.Errorf("%w: column must be 1, 2 or 3, got %q", internal.ErrValidation, value)
		}
		return internal.BetType{Kind: internal.BetColumn, Value: strconv.Itoa(pick), Pick: pick}, nil
	}
	return internal.BetType{}, fmt.Errorf("%w: unknown bet type %q", internal.ErrValidation, typ)
}

var ordinals = [3]string{"1st", "2nd", "3rd"}

func ordinal(v string) (int, bool) {
	for i, o := range ordinals {
		if v == o || v == strconv.Itoa(i+1) {
			return i + 1, true
		}
	}
	return 0, false
}
