// Package builtin provides general-purpose tools that can be offered to the
// model without further configuration.
//
//   - "current_time" returns the current time, optionally in a named zone.
//   - "roll_dice" evaluates a dice expression such as "2d6+3".
package builtin

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/rtbridge/pkg/realtime/tools"
)

// Names of the built-in tools.
const (
	CurrentTime = "current_time"
	RollDice    = "roll_dice"
)

type timeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone such as Europe/Berlin. Defaults to the server's local zone."`
}

type timeResult struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
}

type diceArgs struct {
	Expression string `json:"expression" jsonschema:"description=Dice expression such as 2d6+3 or 1d20 or 4d8-1"`
}

type diceResult struct {
	Expression string `json:"expression"`
	Rolls      []int  `json:"rolls"`
	Total      int    `json:"total"`
}

// maxDice bounds the number of dice in one expression.
const maxDice = 100

// Register adds all built-in tools to r. now defaults to time.Now.
func Register(r *tools.Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return errors.Join(
		tools.Register(r, CurrentTime, "Get the current date and time.",
			func(_ context.Context, a timeArgs) (any, error) {
				return currentTime(now(), a.Timezone)
			}),
		tools.Register(r, RollDice, "Roll dice and return each die and the total.",
			func(_ context.Context, a diceArgs) (any, error) {
				return roll(a.Expression)
			}),
	)
}

func currentTime(t time.Time, zone string) (timeResult, error) {
	if zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return timeResult{}, fmt.Errorf("builtin: unknown time zone %q", zone)
		}
		t = t.In(loc)
	}
	return timeResult{
		Time:     t.Format(time.RFC3339),
		Timezone: t.Location().String(),
		Weekday:  t.Weekday().String(),
	}, nil
}

func roll(expr string) (diceResult, error) {
	count, sides, mod, err := parseDice(expr)
	if err != nil {
		return diceResult{}, err
	}
	res := diceResult{Expression: expr, Rolls: make([]int, count), Total: mod}
	for i := range count {
		n := rand.IntN(sides) + 1
		res.Rolls[i] = n
		res.Total += n
	}
	return res, nil
}

// parseDice parses NdS, NdS+M or NdS-M. N defaults to 1.
func parseDice(expr string) (count, sides, mod int, err error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	n, rest, ok := strings.Cut(s, "d")
	if !ok {
		return 0, 0, 0, fmt.Errorf("builtin: invalid dice expression %q", expr)
	}

	count = 1
	if n != "" {
		if count, err = strconv.Atoi(n); err != nil || count < 1 || count > maxDice {
			return 0, 0, 0, fmt.Errorf("builtin: invalid dice count in %q", expr)
		}
	}

	sign := 1
	sidesStr, modStr, hasMod := strings.Cut(rest, "+")
	if !hasMod {
		sidesStr, modStr, hasMod = strings.Cut(rest, "-")
		sign = -1
	}
	if sides, err = strconv.Atoi(sidesStr); err != nil || sides < 1 {
		return 0, 0, 0, fmt.Errorf("builtin: invalid dice sides in %q", expr)
	}
	if hasMod {
		m, err := strconv.Atoi(modStr)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("builtin: invalid modifier in %q", expr)
		}
		mod = sign * m
	}
	return count, sides, mod, nil
}
