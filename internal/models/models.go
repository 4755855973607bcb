package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FreightStatus tracks a freight through its operational lifecycle.
// Only OPEN admits new assignments.
type FreightStatus string

const (
	FreightOpen             FreightStatus = "OPEN"
	FreightInNegotiation    FreightStatus = "IN_NEGOTIATION"
	FreightAccepted         FreightStatus = "ACCEPTED"
	FreightLoading          FreightStatus = "LOADING"
	FreightLoaded           FreightStatus = "LOADED"
	FreightInTransit        FreightStatus = "IN_TRANSIT"
	FreightDeliveredPending FreightStatus = "DELIVERED_PENDING_CONFIRMATION"
	FreightDelivered        FreightStatus = "DELIVERED"
	FreightCompleted        FreightStatus = "COMPLETED"
	FreightCancelled        FreightStatus = "CANCELLED"
)

// PricingType determines how Freight.Price is interpreted.
type PricingType string

const (
	// PricingFixed stores Price as a per-truck rate; total = price * requiredTrucks.
	PricingFixed PricingType = "FIXED"
	// PricingPerKm stores Price as a rate per kilometer per truck.
	PricingPerKm PricingType = "PER_KM"
	// PricingPerTon stores Price as a rate per ton of the whole cargo.
	// Truck count is NOT a multiplier: the weight already covers the aggregate.
	PricingPerTon PricingType = "PER_TON"
)

// Role is the viewer role for price visibility.
type Role string

const (
	RoleProducer Role = "PRODUTOR"
	RoleDriver   Role = "MOTORISTA"
	RoleCompany  Role = "TRANSPORTADORA"
)

type Freight struct {
	ID             string        `json:"id"`
	ProducerID     string        `json:"producer_id"`
	Status         FreightStatus `json:"status"`
	RequiredTrucks int           `json:"required_trucks"`
	// AcceptedTrucks is an advisory display counter. It can drift and
	// must never feed an admission decision; capacity comes from a live
	// count of active assignments.
	AcceptedTrucks   int                 `json:"accepted_trucks"`
	Price            decimal.Decimal     `json:"price"`
	PricingType      PricingType         `json:"pricing_type"`
	DistanceKm       decimal.NullDecimal `json:"distance_km"`
	WeightTons       decimal.NullDecimal `json:"weight_tons"`
	MinimumAnttPrice decimal.NullDecimal `json:"minimum_antt_price"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// AssignmentStatus tracks one truck's progress on one freight slot.
type AssignmentStatus string

const (
	AssignmentAccepted         AssignmentStatus = "ACCEPTED"
	AssignmentLoading          AssignmentStatus = "LOADING"
	AssignmentLoaded           AssignmentStatus = "LOADED"
	AssignmentInTransit        AssignmentStatus = "IN_TRANSIT"
	AssignmentDeliveredPending AssignmentStatus = "DELIVERED_PENDING_CONFIRMATION"
	AssignmentDelivered        AssignmentStatus = "DELIVERED"
	AssignmentCancelled        AssignmentStatus = "CANCELLED"
	AssignmentCompleted        AssignmentStatus = "COMPLETED"
)

// ActiveAssignmentStatuses is the set of statuses that occupy a capacity slot.
// Delivered, completed and cancelled assignments free their slot.
var ActiveAssignmentStatuses = []AssignmentStatus{
	AssignmentAccepted,
	AssignmentLoading,
	AssignmentLoaded,
	AssignmentInTransit,
	AssignmentDeliveredPending,
}

// OccupiesSlot reports whether an assignment in this status counts
// against the freight's capacity.
func (s AssignmentStatus) OccupiesSlot() bool {
	for _, a := range ActiveAssignmentStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// statusRank orders the forward chain. CANCELLED is absent: it is
// reachable from any active status but never by rank.
var statusRank = map[AssignmentStatus]int{
	AssignmentAccepted:         0,
	AssignmentLoading:          1,
	AssignmentLoaded:           2,
	AssignmentInTransit:        3,
	AssignmentDeliveredPending: 4,
	AssignmentDelivered:        5,
	AssignmentCompleted:        6,
}

// CanTransitionTo reports whether a status change is a legal forward
// move. Statuses only advance; once an assignment has left the active
// set it can never re-enter it and reoccupy a slot that was freed and
// possibly refilled.
func (s AssignmentStatus) CanTransitionTo(next AssignmentStatus) bool {
	if next == AssignmentCancelled {
		return s.OccupiesSlot()
	}
	from, ok := statusRank[s]
	if !ok { // cancelled is terminal
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Assignment binds one driver/truck to one slot of a freight.
// The pricing fields are frozen copies of the freight's values at
// assignment time, so later freight edits never retroactively change
// an already-negotiated assignment.
type Assignment struct {
	ID        string           `json:"id"`
	FreightID string           `json:"freight_id"`
	DriverID  string           `json:"driver_id"`
	CompanyID string           `json:"company_id,omitempty"`
	Status    AssignmentStatus `json:"status"`
	// AgreedPrice is the per-truck price negotiated for this slot.
	// Once set it takes precedence over the freight-derived unit price.
	AgreedPrice      decimal.NullDecimal `json:"agreed_price"`
	PricingType      PricingType         `json:"pricing_type"`
	PricePerKm       decimal.NullDecimal `json:"price_per_km"`
	MinimumAnttPrice decimal.NullDecimal `json:"minimum_antt_price"`
	PaymentIntentID  string              `json:"payment_intent_id,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// AssignmentEvent is the record published to Kafka on every assignment
// lifecycle change. The consumer uses it to refresh advisory counters.
type AssignmentEvent struct {
	Type         string           `json:"type"` // created, status_changed
	FreightID    string           `json:"freight_id"`
	AssignmentID string           `json:"assignment_id"`
	DriverID     string           `json:"driver_id"`
	CompanyID    string           `json:"company_id,omitempty"`
	Status       AssignmentStatus `json:"status"`
	// PrevStatus is set on status_changed events so consumers can tell
	// a first exit from the active set apart from later terminal moves.
	PrevStatus AssignmentStatus `json:"prev_status,omitempty"`
	At         time.Time        `json:"at"`
}

// AssignmentNotice is pushed to a connected driver when a slot is
// reserved for them.
type AssignmentNotice struct {
	AssignmentID string              `json:"assignment_id"`
	FreightID    string              `json:"freight_id"`
	DriverID     string              `json:"driver_id"`
	AgreedPrice  decimal.NullDecimal `json:"agreed_price"`
	Suffix       string              `json:"suffix,omitempty"`
}
