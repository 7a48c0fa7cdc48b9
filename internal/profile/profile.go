// Package profile recommends merge settings from the length of the window.
package profile

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed profiles.toml
var defaultTable string

// Tier is one row of the recommendation table. MaxMinutes of 0 means no limit.
type Tier struct {
	MaxMinutes  int `toml:"maxMinutes"`
	BatchSize   int `toml:"batchSize"`
	SlopMinutes int `toml:"slopMinutes"`
}

// Table is the decoded recommendation table.
type Table struct {
	TrimPerBatchAboveMinutes int    `toml:"trimPerBatchAboveMinutes"`
	Tiers                    []Tier `toml:"tier"`
}

// Recommendation is the suggested configuration for one window length.
type Recommendation struct {
	BatchSize    int
	SlopMinutes  int
	TrimPerBatch bool
}

var (
	loadOnce sync.Once
	builtin  Table
	loadErr  error
)

// Parse decodes a recommendation table.
func Parse(data string) (Table, error) {
	var t Table
	md, err := toml.Decode(data, &t)
	if err != nil {
		return Table{}, fmt.Errorf("decode profile table: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Table{}, fmt.Errorf("unknown profile keys: %v", undecoded)
	}
	if len(t.Tiers) == 0 {
		return Table{}, fmt.Errorf("profile table has no tiers")
	}
	for i, tier := range t.Tiers {
		if tier.BatchSize < 1 {
			return Table{}, fmt.Errorf("tier %d: batchSize must be >= 1", i)
		}
		if tier.SlopMinutes < 0 {
			return Table{}, fmt.Errorf("tier %d: slopMinutes must be >= 0", i)
		}
	}
	return t, nil
}

// Default returns the built-in table.
func Default() (Table, error) {
	loadOnce.Do(func() {
		builtin, loadErr = Parse(defaultTable)
	})
	return builtin, loadErr
}

// For returns the built-in recommendation for a window of length d.
func For(d time.Duration) Recommendation {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t.For(d)
}

// For returns the recommendation for a window of length d.
func (t Table) For(d time.Duration) Recommendation {
	minutes := int(d / time.Minute)

	tier := t.Tiers[len(t.Tiers)-1]
	for _, candidate := range t.Tiers {
		if candidate.MaxMinutes == 0 || minutes <= candidate.MaxMinutes {
			tier = candidate
			break
		}
	}
	return Recommendation{
		BatchSize:    tier.BatchSize,
		SlopMinutes:  tier.SlopMinutes,
		TrimPerBatch: minutes > t.TrimPerBatchAboveMinutes,
	}
}
