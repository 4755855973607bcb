package capacity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/example/freight-marketplace/internal/models"
	"github.com/example/freight-marketplace/internal/storage"
)

func openFreight(t *testing.T, store *storage.MemoryStore, trucks int) models.Freight {
	t.Helper()
	f := models.Freight{
		ID:             "f1",
		Status:         models.FreightOpen,
		RequiredTrucks: trucks,
		PricingType:    models.PricingFixed,
		Price:          decimal.NewFromInt(1000),
	}
	if err := store.SaveFreight(context.Background(), &f); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestOversubscriptionInvariant(t *testing.T) {
	store := storage.NewMemoryStore()
	openFreight(t, store, 3)
	svc := &Service{Store: store}
	ctx := context.Background()

	// fill all three slots concurrently; every attempt must be admitted
	results := make([]Result, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.TryReserveSlot(ctx, Request{FreightID: "f1", DriverID: fmt.Sprintf("d%d", i)})
			if err != nil {
				t.Errorf("unexpected storage error: %v", err)
			}
			results[i] = r
		}(i)
	}
	wg.Wait()
	for i, r := range results {
		if !r.Admitted {
			t.Fatalf("slot %d: expected admission, got %s", i, r.Reason)
		}
	}

	// every further attempt, concurrent or not, must bounce
	late := make([]Result, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.TryReserveSlot(ctx, Request{FreightID: "f1", DriverID: fmt.Sprintf("late%d", i)})
			if err != nil {
				t.Errorf("unexpected storage error: %v", err)
			}
			late[i] = r
		}(i)
	}
	wg.Wait()
	for i, r := range late {
		if r.Admitted || r.Reason != ReasonNoSlotsRemaining {
			t.Fatalf("late attempt %d: got admitted=%v reason=%s", i, r.Admitted, r.Reason)
		}
	}

	n, _ := store.CountActiveAssignments(ctx, "f1")
	if n != 3 {
		t.Fatalf("active count = %d, want 3", n)
	}
}

func TestNoDoubleAssignment(t *testing.T) {
	store := storage.NewMemoryStore()
	openFreight(t, store, 3)
	svc := &Service{Store: store}
	ctx := context.Background()

	first, err := svc.TryReserveSlot(ctx, Request{FreightID: "f1", DriverID: "d1"})
	if err != nil || !first.Admitted {
		t.Fatalf("first call: admitted=%v err=%v", first.Admitted, err)
	}
	second, err := svc.TryReserveSlot(ctx, Request{FreightID: "f1", DriverID: "d1"})
	if err != nil {
		t.Fatalf("duplicate attempt must not be a hard failure: %v", err)
	}
	if second.Admitted || second.Reason != ReasonAlreadyAssigned {
		t.Fatalf("got admitted=%v reason=%s", second.Admitted, second.Reason)
	}

	n, _ := store.CountActiveAssignments(ctx, "f1")
	if n != 1 {
		t.Fatalf("active count = %d, want 1", n)
	}
}

// raceStore simulates the window where both callers pass the existence
// check and the storage constraint has to break the tie.
type raceStore struct {
	*storage.MemoryStore
	hideExisting bool
}

func (r *raceStore) AssignmentExists(ctx context.Context, freightID, driverID string) (bool, error) {
	if r.hideExisting {
		return false, nil
	}
	return r.MemoryStore.AssignmentExists(ctx, freightID, driverID)
}

func TestConstraintViolationFoldsIntoAlreadyAssigned(t *testing.T) {
	mem := storage.NewMemoryStore()
	openFreight(t, mem, 3)
	store := &raceStore{MemoryStore: mem, hideExisting: true}
	svc := &Service{Store: store}
	ctx := context.Background()

	if r, _ := svc.TryReserveSlot(ctx, Request{FreightID: "f1", DriverID: "d1"}); !r.Admitted {
		t.Fatalf("first insert should win: %s", r.Reason)
	}
	// second caller saw no existing pair; the unique constraint is the backstop
	r, err := svc.TryReserveSlot(ctx, Request{FreightID: "f1", DriverID: "d1"})
	if err != nil {
		t.Fatalf("constraint violation must not surface as an error: %v", err)
	}
	if r.Admitted || r.Reason != ReasonAlreadyAssigned {
		t.Fatalf("got admitted=%v reason=%s", r.Admitted, r.Reason)
	}
}

func TestFreightNotOpen(t *testing.T) {
	store := storage.NewMemoryStore()
	f := openFreight(t, store, 3)
	f.Status = models.FreightInTransit
	_ = store.SaveFreight(context.Background(), &f)

	svc := &Service{Store: store}
	r, err := svc.TryReserveSlot(context.Background(), Request{FreightID: "f1", DriverID: "d1"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Admitted || r.Reason != ReasonFreightNotOpen {
		t.Fatalf("got admitted=%v reason=%s", r.Admitted, r.Reason)
	}
}

func TestRejectionMessages(t *testing.T) {
	ctx := context.Background()

	single := storage.NewMemoryStore()
	f := openFreight(t, single, 1)
	svc := &Service{Store: single}
	if r, _ := svc.TryReserveSlot(ctx, Request{FreightID: f.ID, DriverID: "d1"}); !r.Admitted {
		t.Fatal("setup: first driver should be admitted")
	}
	r, _ := svc.TryReserveSlot(ctx, Request{FreightID: f.ID, DriverID: "d2"})
	if r.Message != "freight is already assigned to a driver" {
		t.Fatalf("single-truck message: %q", r.Message)
	}

	multi := storage.NewMemoryStore()
	f = openFreight(t, multi, 3)
	svc = &Service{Store: multi}
	for i := 0; i < 3; i++ {
		if r, _ := svc.TryReserveSlot(ctx, Request{FreightID: f.ID, DriverID: fmt.Sprintf("d%d", i)}); !r.Admitted {
			t.Fatal("setup: slot should be free")
		}
	}
	r, _ = svc.TryReserveSlot(ctx, Request{FreightID: f.ID, DriverID: "d9"})
	if r.Message != "all slots for this freight are filled" {
		t.Fatalf("multi-truck message: %q", r.Message)
	}
}

func TestDeliveredAssignmentFreesSlot(t *testing.T) {
	store := storage.NewMemoryStore()
	openFreight(t, store, 1)
	svc := &Service{Store: store, NewID: func() string { return "a1" }}
	ctx := context.Background()

	if r, _ := svc.TryReserveSlot(ctx, Request{FreightID: "f1", DriverID: "d1"}); !r.Admitted {
		t.Fatal("setup failed")
	}
	if _, err := store.UpdateAssignmentStatus(ctx, "a1", models.AssignmentDelivered); err != nil {
		t.Fatal(err)
	}

	r, _ := svc.TryReserveSlot(ctx, Request{FreightID: "f1", DriverID: "d2"})
	if !r.Admitted {
		t.Fatalf("delivered assignment must free its slot, got %s", r.Reason)
	}
}

func TestPricingSnapshotFrozen(t *testing.T) {
	store := storage.NewMemoryStore()
	f := models.Freight{
		ID:               "f1",
		Status:           models.FreightOpen,
		RequiredTrucks:   2,
		PricingType:      models.PricingPerKm,
		Price:            decimal.RequireFromString("3.5"),
		DistanceKm:       decimal.NewNullDecimal(decimal.NewFromInt(200)),
		MinimumAnttPrice: decimal.NewNullDecimal(decimal.NewFromInt(1200)),
	}
	_ = store.SaveFreight(context.Background(), &f)

	svc := &Service{Store: store}
	r, err := svc.TryReserveSlot(context.Background(), Request{FreightID: "f1", DriverID: "d1"})
	if err != nil || !r.Admitted {
		t.Fatalf("admitted=%v err=%v", r.Admitted, err)
	}
	a := r.Assignment
	if a.PricingType != models.PricingPerKm {
		t.Fatalf("pricing type not frozen: %s", a.PricingType)
	}
	if !a.PricePerKm.Valid || !a.PricePerKm.Decimal.Equal(decimal.RequireFromString("3.5")) {
		t.Fatalf("price per km not frozen: %+v", a.PricePerKm)
	}
	if !a.MinimumAnttPrice.Valid || !a.MinimumAnttPrice.Decimal.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("antt minimum not frozen: %+v", a.MinimumAnttPrice)
	}
}

type failingStore struct {
	*storage.MemoryStore
}

func (f *failingStore) GetFreight(ctx context.Context, id string) (*models.Freight, error) {
	return nil, errors.New("connection refused")
}

func TestStorageErrorPropagates(t *testing.T) {
	svc := &Service{Store: &failingStore{storage.NewMemoryStore()}}
	_, err := svc.TryReserveSlot(context.Background(), Request{FreightID: "f1", DriverID: "d1"})
	if err == nil {
		t.Fatal("expected the storage error to surface")
	}
}
