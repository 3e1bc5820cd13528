package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDayWindowProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: any instant falls inside the window of its own day
	properties.Property("instant lies within its day window", prop.ForAll(
		func(sec int64) bool {
			ts := time.Unix(sec, 0)
			from, to := DayWindow(ts)
			return from <= sec && sec <= to && to-from == 86399
		},
		gen.Int64Range(0, 4102444800),
	))

	// Property: consecutive day windows are contiguous
	properties.Property("windows are contiguous", prop.ForAll(
		func(sec int64) bool {
			ts := time.Unix(sec, 0)
			_, prevTo := DayWindow(PreviousDay(ts))
			from, _ := DayWindow(ts)
			return prevTo+1 == from
		},
		gen.Int64Range(86400, 4102444800),
	))

	properties.TestingRun(t)
}

func TestFormatMinorProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: formatting round-trips through decimal back to the same minor amount
	properties.Property("minor units round-trip", prop.ForAll(
		func(amount int64) bool {
			d := MinorToDecimal(amount, "usd")
			return d.Shift(2).IntPart() == amount
		},
		gen.Int64Range(-1_000_000_000, 1_000_000_000),
	))

	properties.TestingRun(t)
}
