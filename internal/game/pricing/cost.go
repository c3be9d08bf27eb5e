// Package pricing implements attempt pricing and prize pool splitting.
//
// The attempt cost grows with the age of the round: a golden-ratio factor per
// escalation period multiplied by a slow exponential urgency term. Costs are
// returned as two-decimal fixed-point amounts and never exceed the ceiling.
package pricing

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultEscalationHours is the length of one golden-ratio period.
	DefaultEscalationHours = 6

	// UrgencyHours is the e-folding time of the urgency term.
	UrgencyHours = 72

	// UrgencyWeight scales the urgency term's contribution to the cost.
	UrgencyWeight = 0.1
)

// Errors for pricing parameters.
var (
	ErrInvalidBaseCost   = errors.New("base cost must be positive")
	ErrInvalidMaxCost    = errors.New("max cost must not be below base cost")
	ErrInvalidEscalation = errors.New("escalation hours must be positive")
)

// Params holds the pricing constants.
type Params struct {
	BaseCost        decimal.Decimal
	MaxCost         decimal.Decimal
	EscalationHours float64
}

// DefaultParams returns BaseCost 0.50, MaxCost 100.00, 6h escalation.
func DefaultParams() Params {
	return Params{
		BaseCost:        decimal.RequireFromString("0.50"),
		MaxCost:         decimal.RequireFromString("100.00"),
		EscalationHours: DefaultEscalationHours,
	}
}

// Model prices attempts. It is safe for concurrent use.
type Model struct {
	params Params
	base   float64
}

// New creates a Model after validating the parameters.
func New(p Params) (*Model, error) {
	if !p.BaseCost.IsPositive() {
		return nil, ErrInvalidBaseCost
	}
	if p.MaxCost.LessThan(p.BaseCost) {
		return nil, ErrInvalidMaxCost
	}
	if p.EscalationHours <= 0 || math.IsNaN(p.EscalationHours) || math.IsInf(p.EscalationHours, 0) {
		return nil, ErrInvalidEscalation
	}
	return &Model{
		params: p,
		base:   p.BaseCost.InexactFloat64(),
	}, nil
}

// Params returns the model's pricing constants.
func (m *Model) Params() Params {
	return m.params
}

// ElapsedHours returns the hours between openedAt and now, both taken in UTC.
// A now earlier than openedAt (clock skew) yields 0.
func ElapsedHours(openedAt, now time.Time) float64 {
	h := now.UTC().Sub(openedAt.UTC()).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// Cost returns the price of an attempt made at now against a round opened at openedAt.
func (m *Model) Cost(openedAt, now time.Time) decimal.Decimal {
	return m.CostAt(ElapsedHours(openedAt, now))
}

// CostAt returns the price after h hours. Negative h is treated as 0.
func (m *Model) CostAt(h float64) decimal.Decimal {
	if h <= 0 || math.IsNaN(h) {
		return m.params.BaseCost.Round(2)
	}

	periods := h / m.params.EscalationHours
	golden := math.Pow(math.Phi, periods)
	urgency := math.Exp(h / UrgencyHours)
	cost := m.base * golden * (1 + (urgency-1)*UrgencyWeight)

	if math.IsInf(cost, 0) || math.IsNaN(cost) {
		return m.params.MaxCost.Round(2)
	}

	return decimal.Min(decimal.NewFromFloat(cost).Round(2), m.params.MaxCost.Round(2))
}
