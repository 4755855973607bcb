// Package pricing is the single source of truth for freight price
// conversions. Every surface that displays or compares a price must go
// through it; per-screen reimplementations of unit/total math are how
// truck-count double-application bugs happen.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/example/freight-marketplace/internal/models"
)

var hundred = decimal.NewFromInt(100)

// FreightQuote is the canonical price derivation for a freight.
// Determinate is false when the pricing model needs a field the freight
// does not carry (distance for PER_KM, weight for PER_TON); callers must
// treat that as "still calculating", never as zero.
type FreightQuote struct {
	Total       decimal.Decimal
	Unit        decimal.Decimal
	Determinate bool
}

// QuoteFreight computes the canonical total and per-truck unit price.
//
//	FIXED:   total = price * requiredTrucks   (price is stored per-truck)
//	PER_KM:  total = price * distanceKm * requiredTrucks
//	PER_TON: total = price * weightTons       (weight covers the whole cargo)
//
// The unit price is always total / requiredTrucks; for PER_TON that is a
// display convention, the rate itself is per ton.
func QuoteFreight(f models.Freight) FreightQuote {
	if f.RequiredTrucks < 1 {
		return FreightQuote{}
	}
	trucks := decimal.NewFromInt(int64(f.RequiredTrucks))

	var total decimal.Decimal
	switch f.PricingType {
	case models.PricingFixed:
		total = f.Price.Mul(trucks)
	case models.PricingPerKm:
		if !f.DistanceKm.Valid {
			return FreightQuote{}
		}
		total = f.Price.Mul(f.DistanceKm.Decimal).Mul(trucks)
	case models.PricingPerTon:
		if !f.WeightTons.Valid {
			return FreightQuote{}
		}
		total = f.Price.Mul(f.WeightTons.Decimal)
	default:
		return FreightQuote{}
	}

	return FreightQuote{
		Total:       total,
		Unit:        total.Div(trucks),
		Determinate: true,
	}
}

// VisiblePrice is the figure appropriate to show one viewer, plus a
// suffix naming its basis ("/truck" for a per-unit figure on a
// multi-truck freight, empty for totals or single-slot freights).
type VisiblePrice struct {
	Amount      decimal.Decimal `json:"amount"`
	Suffix      string          `json:"suffix"`
	Determinate bool            `json:"determinate"`
}

// VisibleFor derives the role-scoped price. viewerID is the driver ID
// for MOTORISTA and the company ID for TRANSPORTADORA; PRODUTOR ignores it.
//
// A driver sees their own agreed price when one was negotiated, the
// freight-derived unit price otherwise, never another driver's figures.
// A company sees the sum over its own active assignments only; other
// companies or independent drivers may hold the remaining slots.
func VisibleFor(role models.Role, f models.Freight, assignments []models.Assignment, viewerID string) VisiblePrice {
	q := QuoteFreight(f)

	switch role {
	case models.RoleProducer:
		return VisiblePrice{Amount: q.Total, Determinate: q.Determinate}

	case models.RoleDriver:
		v := VisiblePrice{Suffix: unitSuffix(f)}
		for _, a := range assignments {
			if a.DriverID != viewerID {
				continue
			}
			if a.AgreedPrice.Valid {
				v.Amount = a.AgreedPrice.Decimal
				v.Determinate = true
				return v
			}
			break
		}
		v.Amount = q.Unit
		v.Determinate = q.Determinate
		return v

	case models.RoleCompany:
		sum := decimal.Zero
		determinate := true
		for _, a := range assignments {
			if a.CompanyID != viewerID || !a.Status.OccupiesSlot() {
				continue
			}
			switch {
			case a.AgreedPrice.Valid:
				sum = sum.Add(a.AgreedPrice.Decimal)
			case q.Determinate:
				sum = sum.Add(q.Unit)
			default:
				determinate = false
			}
		}
		return VisiblePrice{Amount: sum, Determinate: determinate}
	}

	return VisiblePrice{}
}

func unitSuffix(f models.Freight) string {
	if f.RequiredTrucks > 1 {
		return "/truck"
	}
	return ""
}

// Basis names which side of the unit/total divide a figure is on.
// ANTT comparisons must never cross it.
type Basis int

const (
	BasisPerTruck Basis = iota
	BasisTotal
)

// Verdict is the outcome of an ANTT minimum-price comparison.
type Verdict string

const (
	BelowMinimum     Verdict = "BELOW_MINIMUM"
	AtOrAboveMinimum Verdict = "AT_OR_ABOVE_MINIMUM"
	// MinimumUnknown means the regulatory floor is not resolved yet.
	// It is neither a pass nor a fail.
	MinimumUnknown Verdict = "MINIMUM_UNKNOWN"
)

// MinimumComparison carries the verdict plus the minimum expressed on
// the compared basis and, when at or above, the percentage margin.
type MinimumComparison struct {
	Verdict      Verdict         `json:"verdict"`
	Minimum      decimal.Decimal `json:"minimum"`
	PercentAbove decimal.Decimal `json:"percent_above"`
}

// CompareToMinimum checks a proposed price against the freight's ANTT
// minimum on the given basis. The stored minimum is a total for the
// whole freight; per-truck comparisons divide it by requiredTrucks
// here, in one place, so call sites never mix bases.
func CompareToMinimum(proposed decimal.Decimal, basis Basis, f models.Freight) MinimumComparison {
	return compare(proposed, basis, f.MinimumAnttPrice, f.RequiredTrucks)
}

// CompareAssignment checks an assignment's effective per-truck price
// against the per-truck minimum. The assignment's frozen snapshot
// minimum wins over the freight's current value when present.
func CompareAssignment(a models.Assignment, f models.Freight) MinimumComparison {
	proposed := a.AgreedPrice
	if !proposed.Valid {
		if q := QuoteFreight(f); q.Determinate {
			proposed = decimal.NewNullDecimal(q.Unit)
		}
	}
	if !proposed.Valid {
		return MinimumComparison{Verdict: MinimumUnknown}
	}
	minimum := a.MinimumAnttPrice
	if !minimum.Valid {
		minimum = f.MinimumAnttPrice
	}
	return compare(proposed.Decimal, BasisPerTruck, minimum, f.RequiredTrucks)
}

func compare(proposed decimal.Decimal, basis Basis, minimumTotal decimal.NullDecimal, requiredTrucks int) MinimumComparison {
	if !minimumTotal.Valid || requiredTrucks < 1 {
		return MinimumComparison{Verdict: MinimumUnknown}
	}
	minimum := minimumTotal.Decimal
	if basis == BasisPerTruck {
		minimum = minimum.Div(decimal.NewFromInt(int64(requiredTrucks)))
	}
	if proposed.LessThan(minimum) {
		return MinimumComparison{Verdict: BelowMinimum, Minimum: minimum}
	}
	cmp := MinimumComparison{Verdict: AtOrAboveMinimum, Minimum: minimum}
	if minimum.IsPositive() {
		cmp.PercentAbove = proposed.Sub(minimum).Div(minimum).Mul(hundred)
	}
	return cmp
}
