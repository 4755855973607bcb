package storage

import (
	"context"
	"errors"

	"github.com/example/freight-marketplace/internal/models"
)

var (
	// ErrFreightNotFound is returned by point reads of a missing freight.
	ErrFreightNotFound = errors.New("freight not found")
	// ErrAssignmentNotFound is returned by point reads of a missing assignment.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrDuplicateAssignment is returned by InsertAssignment when the
	// (freight_id, driver_id) uniqueness constraint fires. It is the
	// backstop against the read-then-write race; the allocator folds it
	// into an AlreadyAssigned rejection.
	ErrDuplicateAssignment = errors.New("assignment already exists for this freight and driver")
)

// Store defines the persistence operations the allocator and the API
// layer need. GetFreight and CountActiveAssignments must read live
// state on every call; the allocator's race safety depends on it.
type Store interface {
	GetFreight(ctx context.Context, id string) (*models.Freight, error)
	SaveFreight(ctx context.Context, f *models.Freight) error

	// CountActiveAssignments counts assignments whose status occupies a
	// slot. It is a fresh count, never a cached figure.
	CountActiveAssignments(ctx context.Context, freightID string) (int, error)
	AssignmentExists(ctx context.Context, freightID, driverID string) (bool, error)

	// InsertAssignment persists a new assignment, enforcing uniqueness
	// on (freight_id, driver_id) and reporting ErrDuplicateAssignment
	// when a concurrent insert won.
	InsertAssignment(ctx context.Context, a *models.Assignment) error

	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	ListAssignments(ctx context.Context, freightID string) ([]models.Assignment, error)
	UpdateAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus) (*models.Assignment, error)
	SetAssignmentPayment(ctx context.Context, id, paymentIntentID string) error
}
