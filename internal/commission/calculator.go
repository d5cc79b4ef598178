// Package commission computes per-level affiliate commissions for an order.
// It is pure: no I/O, all amounts in integer cents, percentages in basis
// points so rounding is a single floor division per entry.
package commission

import (
	"fmt"
	"math"
	"sort"
)

// MaxLevels is the depth of the referral program.
const MaxLevels = 3

// Tier is one resolved member of an order's affiliate chain.
type Tier struct {
	AffiliateID int64
	Level       int
}

// Entry is one calculated commission: what level, for whom, how much.
type Entry struct {
	AffiliateID int64
	Level       int
	PercentBP   int64
	AmountCents int64
}

// Config holds the deployment-supplied percentage schedule.
type Config struct {
	// LevelPercents is the nominal percentage per level, level 1 first.
	// Missing trailing levels pay nothing.
	LevelPercents []float64
	// MaxTotalPercent is the safety ceiling; a schedule summing above it is
	// rejected at construction, never clamped.
	MaxTotalPercent float64
	// RedistributeVacant moves a vacant tier's percentage to the nearest
	// present upper tier. Off by default: vacant pools are forfeited.
	RedistributeVacant bool
}

// Calculator applies a validated percentage schedule to orders.
type Calculator struct {
	levelBP      [MaxLevels]int64
	redistribute bool
}

// NewCalculator validates the schedule and returns a calculator. The sum of
// level percentages must not exceed the ceiling; violating configurations
// are a deployment error, not something to silently repair.
func NewCalculator(cfg Config) (*Calculator, error) {
	if len(cfg.LevelPercents) == 0 || len(cfg.LevelPercents) > MaxLevels {
		return nil, fmt.Errorf("commission: expected 1 to %d level percentages, got %d", MaxLevels, len(cfg.LevelPercents))
	}
	if cfg.MaxTotalPercent <= 0 || cfg.MaxTotalPercent > 100 {
		return nil, fmt.Errorf("commission: max total percentage %.2f out of range (0, 100]", cfg.MaxTotalPercent)
	}

	c := &Calculator{redistribute: cfg.RedistributeVacant}
	var sumBP int64
	for i, pct := range cfg.LevelPercents {
		if pct < 0 {
			return nil, fmt.Errorf("commission: negative percentage %.2f for level %d", pct, i+1)
		}
		bp := toBasisPoints(pct)
		c.levelBP[i] = bp
		sumBP += bp
	}

	if ceiling := toBasisPoints(cfg.MaxTotalPercent); sumBP > ceiling {
		return nil, fmt.Errorf("commission: level percentages sum to %dbp, above ceiling %dbp", sumBP, ceiling)
	}

	return c, nil
}

// Calculate returns one entry per present tier. Each level's percentage is
// fixed to its nominal rate regardless of which other tiers are present;
// vacant tiers produce no entry and their pool is forfeited unless
// redistribution is enabled. Amounts floor to the whole cent and residual
// fractions are never credited.
func (c *Calculator) Calculate(orderValueCents int64, chain []Tier) ([]Entry, error) {
	if orderValueCents < 0 {
		return nil, fmt.Errorf("commission: negative order value %d", orderValueCents)
	}
	if len(chain) > MaxLevels {
		return nil, fmt.Errorf("commission: chain has %d tiers, maximum is %d", len(chain), MaxLevels)
	}

	byLevel := make(map[int]int64, len(chain))
	for _, t := range chain {
		if t.Level < 1 || t.Level > MaxLevels {
			return nil, fmt.Errorf("commission: invalid level %d", t.Level)
		}
		if _, dup := byLevel[t.Level]; dup {
			return nil, fmt.Errorf("commission: duplicate tier for level %d", t.Level)
		}
		byLevel[t.Level] = t.AffiliateID
	}

	pools := c.pools(byLevel)

	entries := make([]Entry, 0, len(byLevel))
	for level := 1; level <= MaxLevels; level++ {
		affiliateID, present := byLevel[level]
		if !present || pools[level-1] == 0 {
			continue
		}
		entries = append(entries, Entry{
			AffiliateID: affiliateID,
			Level:       level,
			PercentBP:   pools[level-1],
			AmountCents: orderValueCents * pools[level-1] / 10000,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Level < entries[j].Level })
	return entries, nil
}

// pools returns the effective basis points per level after redistribution.
// A vacant tier's pool moves to the nearest present upper tier (closer to
// level 1); a vacant level 1 has no upper tier and its pool is forfeited.
func (c *Calculator) pools(byLevel map[int]int64) [MaxLevels]int64 {
	pools := c.levelBP
	if !c.redistribute {
		return pools
	}

	for level := MaxLevels; level >= 1; level-- {
		if _, present := byLevel[level]; present || pools[level-1] == 0 {
			continue
		}
		for upper := level - 1; upper >= 1; upper-- {
			if _, present := byLevel[upper]; present {
				pools[upper-1] += pools[level-1]
				break
			}
		}
		pools[level-1] = 0
	}
	return pools
}

// Total sums the calculated amounts, the gross value requested from the
// split API.
func Total(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.AmountCents
	}
	return total
}

func toBasisPoints(pct float64) int64 {
	return int64(math.Round(pct * 100))
}
