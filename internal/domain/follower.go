package domain

import (
	"strconv"
	"strings"
	"time"
)

// AllocationType determines how a follower's stake is sized from the
// master's order.
type AllocationType string

const (
	// AllocationFixed stakes a fixed amount per replicated order.
	AllocationFixed AllocationType = "fixed"
	// AllocationProportional stakes the same fraction of the follower's
	// balance that the master's order used of the master's balance.
	AllocationProportional AllocationType = "proportional"
)

// FollowerConfig binds a follower account to a master trader with an
// allocation policy and risk limits. One live row per follower.
type FollowerConfig struct {
	FollowerID           string
	MasterID             string
	AllocationType       AllocationType
	AllocationValue      float64 // fixed stake amount
	AllocationPercentage float64 // reserved for percentage overrides
	Leverage             string  // "2x", "3x", ...; empty means 1x
	StopLoss             float64 // accumulated loss limit; 0 disables
	TakeProfit           float64 // accumulated profit limit; 0 disables
	Active               bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Copier is a FollowerConfig joined with the follower's balance and
// credential presence, as resolved for replication fan-out.
type Copier struct {
	FollowerConfig
	Balance  float64
	HasToken bool
}

// LeverageMultiplier parses a leverage string like "2x" into its
// integer multiplier. Absent or unparsable leverage means 1.
func LeverageMultiplier(leverage string) int {
	s := strings.TrimSpace(strings.ToLower(leverage))
	s = strings.TrimSuffix(s, "x")
	if s == "" {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
