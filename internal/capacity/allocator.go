// Package capacity admits or rejects new assignments for a freight.
// It is the only code path allowed to create assignment records.
package capacity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/example/freight-marketplace/internal/models"
	"github.com/example/freight-marketplace/internal/observability"
	"github.com/example/freight-marketplace/internal/storage"
)

// Reason classifies a rejection. All three are expected business
// outcomes: the caller shows a message and stops, it does not retry.
type Reason string

const (
	ReasonFreightNotOpen   Reason = "FREIGHT_NOT_OPEN"
	ReasonNoSlotsRemaining Reason = "NO_SLOTS_REMAINING"
	ReasonAlreadyAssigned  Reason = "ALREADY_ASSIGNED"
)

// Request is a proposed new assignment. AgreedPrice carries the
// negotiated per-truck price when the caller pre-filled and edited one.
type Request struct {
	FreightID   string
	DriverID    string
	CompanyID   string
	AgreedPrice decimal.NullDecimal
}

// Result is Admitted (with the created assignment) or a typed
// rejection. Storage failures are returned as the error instead and may
// be retried by the caller at its discretion; the allocator never
// retries internally, since re-running a check-then-write sequence
// without re-validating would reintroduce the race it exists to prevent.
type Result struct {
	Admitted   bool
	Assignment *models.Assignment
	Reason     Reason
	Message    string
}

type Service struct {
	Store storage.Store
	// NewID overrides assignment id generation in tests.
	NewID func() string
}

// TryReserveSlot decides whether one more assignment may be created for
// a freight. The ordering below is the race-safety contract and must
// not be rearranged:
//
//  1. re-fetch the freight (never trust earlier reads from this flow)
//  2. gate on status OPEN
//  3. fresh count of active assignments
//  4. slots-remaining check
//  5. existing (freight, driver) pair check
//  6. insert, with the storage uniqueness constraint as the backstop:
//     of two callers that both pass 1-5, exactly one insert wins and
//     the loser's constraint violation folds into AlreadyAssigned.
func (s *Service) TryReserveSlot(ctx context.Context, req Request) (Result, error) {
	f, err := s.Store.GetFreight(ctx, req.FreightID)
	if err != nil {
		return Result{}, err
	}

	if f.Status != models.FreightOpen {
		return s.reject(ReasonFreightNotOpen, "freight is not open for new assignments"), nil
	}

	activeCount, err := s.Store.CountActiveAssignments(ctx, req.FreightID)
	if err != nil {
		return Result{}, err
	}
	if f.RequiredTrucks-activeCount <= 0 {
		if f.RequiredTrucks == 1 {
			return s.reject(ReasonNoSlotsRemaining, "freight is already assigned to a driver"), nil
		}
		return s.reject(ReasonNoSlotsRemaining, "all slots for this freight are filled"), nil
	}

	exists, err := s.Store.AssignmentExists(ctx, req.FreightID, req.DriverID)
	if err != nil {
		return Result{}, err
	}
	if exists {
		// expected race outcome (retried action, two open tabs); not a hard failure
		return s.reject(ReasonAlreadyAssigned, "driver is already assigned to this freight"), nil
	}

	a := newAssignment(f, req, s.newID())
	if err := s.Store.InsertAssignment(ctx, a); err != nil {
		if errors.Is(err, storage.ErrDuplicateAssignment) {
			return s.reject(ReasonAlreadyAssigned, "driver is already assigned to this freight"), nil
		}
		return Result{}, err
	}

	observability.SlotsAdmitted.Inc()
	return Result{Admitted: true, Assignment: a}, nil
}

func (s *Service) reject(reason Reason, msg string) Result {
	observability.SlotsRejected.WithLabelValues(string(reason)).Inc()
	return Result{Reason: reason, Message: msg}
}

// newAssignment freezes the freight's pricing fields onto the record so
// later freight edits never change an already-negotiated assignment.
func newAssignment(f *models.Freight, req Request, id string) *models.Assignment {
	a := &models.Assignment{
		ID:               id,
		FreightID:        f.ID,
		DriverID:         req.DriverID,
		CompanyID:        req.CompanyID,
		Status:           models.AssignmentAccepted,
		AgreedPrice:      req.AgreedPrice,
		PricingType:      f.PricingType,
		MinimumAnttPrice: f.MinimumAnttPrice,
	}
	if f.PricingType == models.PricingPerKm {
		a.PricePerKm = decimal.NewNullDecimal(f.Price)
	}
	return a
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
