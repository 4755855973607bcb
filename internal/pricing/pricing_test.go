package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/example/freight-marketplace/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ndec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func freight(pt models.PricingType, price string, trucks int) models.Freight {
	return models.Freight{
		ID:             "f1",
		Status:         models.FreightOpen,
		PricingType:    pt,
		Price:          dec(price),
		RequiredTrucks: trucks,
	}
}

func TestQuoteFixed(t *testing.T) {
	f := freight(models.PricingFixed, "1000", 3)
	q := QuoteFreight(f)
	if !q.Determinate {
		t.Fatal("expected determinate quote")
	}
	if !q.Total.Equal(dec("3000")) || !q.Unit.Equal(dec("1000")) {
		t.Fatalf("got total=%s unit=%s", q.Total, q.Unit)
	}

	f.RequiredTrucks = 1
	q = QuoteFreight(f)
	if !q.Total.Equal(dec("1000")) || !q.Unit.Equal(dec("1000")) {
		t.Fatalf("single truck: got total=%s unit=%s", q.Total, q.Unit)
	}
}

func TestQuotePerKm(t *testing.T) {
	f := freight(models.PricingPerKm, "3.5", 2)
	f.DistanceKm = ndec("200")
	q := QuoteFreight(f)
	if !q.Determinate {
		t.Fatal("expected determinate quote")
	}
	if !q.Total.Equal(dec("1400")) || !q.Unit.Equal(dec("700")) {
		t.Fatalf("got total=%s unit=%s", q.Total, q.Unit)
	}
}

func TestQuotePerTonIgnoresTruckCount(t *testing.T) {
	f := freight(models.PricingPerTon, "50", 4)
	f.WeightTons = ndec("20")
	q := QuoteFreight(f)
	if !q.Total.Equal(dec("1000")) {
		t.Fatalf("weight already covers the cargo, got total=%s", q.Total)
	}
	if !q.Unit.Equal(dec("250")) {
		t.Fatalf("got unit=%s", q.Unit)
	}
}

func TestQuoteMissingInputsIndeterminate(t *testing.T) {
	perKm := freight(models.PricingPerKm, "3.5", 2) // no distance
	if QuoteFreight(perKm).Determinate {
		t.Fatal("PER_KM without distance must be indeterminate")
	}
	perTon := freight(models.PricingPerTon, "50", 4) // no weight
	if QuoteFreight(perTon).Determinate {
		t.Fatal("PER_TON without weight must be indeterminate")
	}
	// indeterminate must not leak a zero total
	if q := QuoteFreight(perKm); q.Determinate == false && !q.Total.IsZero() {
		t.Fatalf("unexpected total %s", q.Total)
	}
}

func TestVisibleForProducer(t *testing.T) {
	f := freight(models.PricingFixed, "1000", 3)
	v := VisibleFor(models.RoleProducer, f, nil, "p1")
	if !v.Amount.Equal(dec("3000")) || v.Suffix != "" {
		t.Fatalf("got amount=%s suffix=%q", v.Amount, v.Suffix)
	}
}

func TestVisibleForDriver(t *testing.T) {
	f := freight(models.PricingFixed, "1000", 3)
	asgs := []models.Assignment{
		{ID: "a1", FreightID: "f1", DriverID: "d1", Status: models.AssignmentAccepted, AgreedPrice: ndec("950")},
		{ID: "a2", FreightID: "f1", DriverID: "d2", Status: models.AssignmentAccepted, AgreedPrice: ndec("1200")},
	}

	// negotiated price wins for the viewer's own slot
	v := VisibleFor(models.RoleDriver, f, asgs, "d1")
	if !v.Amount.Equal(dec("950")) {
		t.Fatalf("got %s", v.Amount)
	}
	if v.Suffix != "/truck" {
		t.Fatalf("got suffix %q", v.Suffix)
	}

	// no assignment yet: fall back to the derived unit price
	v = VisibleFor(models.RoleDriver, f, asgs, "d3")
	if !v.Amount.Equal(dec("1000")) {
		t.Fatalf("got %s", v.Amount)
	}

	// single-truck freight carries no suffix
	f.RequiredTrucks = 1
	v = VisibleFor(models.RoleDriver, f, nil, "d3")
	if v.Suffix != "" {
		t.Fatalf("got suffix %q", v.Suffix)
	}
}

func TestVisibleForCompanySumsOwnActiveSlotsOnly(t *testing.T) {
	f := freight(models.PricingFixed, "1000", 4)
	asgs := []models.Assignment{
		{ID: "a1", DriverID: "d1", Status: models.AssignmentAccepted, AgreedPrice: ndec("1000")},
		{ID: "a2", DriverID: "d2", Status: models.AssignmentAccepted, AgreedPrice: ndec("1000")},
		{ID: "a3", DriverID: "d3", CompanyID: "c1", Status: models.AssignmentAccepted, AgreedPrice: ndec("900")},
		{ID: "a4", DriverID: "d4", CompanyID: "c1", Status: models.AssignmentLoading, AgreedPrice: ndec("900")},
	}
	v := VisibleFor(models.RoleCompany, f, asgs, "c1")
	if !v.Amount.Equal(dec("1800")) {
		t.Fatalf("company must see the sum of its own slots, got %s", v.Amount)
	}

	// a cancelled slot frees capacity and leaves the sum
	asgs[3].Status = models.AssignmentCancelled
	v = VisibleFor(models.RoleCompany, f, asgs, "c1")
	if !v.Amount.Equal(dec("900")) {
		t.Fatalf("got %s", v.Amount)
	}
}

func TestCompareToMinimumBasis(t *testing.T) {
	f := freight(models.PricingFixed, "1000", 3)
	f.MinimumAnttPrice = ndec("3000")

	// 900 per truck against a 3000 total: compare 900 vs 1000, never vs 3000
	cmp := CompareToMinimum(dec("900"), BasisPerTruck, f)
	if cmp.Verdict != BelowMinimum {
		t.Fatalf("got %s", cmp.Verdict)
	}
	if !cmp.Minimum.Equal(dec("1000")) {
		t.Fatalf("per-truck minimum = %s", cmp.Minimum)
	}

	cmp = CompareToMinimum(dec("1100"), BasisPerTruck, f)
	if cmp.Verdict != AtOrAboveMinimum {
		t.Fatalf("got %s", cmp.Verdict)
	}
	if !cmp.PercentAbove.Equal(dec("10")) {
		t.Fatalf("percent above = %s", cmp.PercentAbove)
	}

	cmp = CompareToMinimum(dec("3300"), BasisTotal, f)
	if cmp.Verdict != AtOrAboveMinimum || !cmp.Minimum.Equal(dec("3000")) {
		t.Fatalf("got %s minimum=%s", cmp.Verdict, cmp.Minimum)
	}
}

func TestCompareToMinimumUnknown(t *testing.T) {
	f := freight(models.PricingFixed, "1000", 3) // no ANTT minimum resolved
	cmp := CompareToMinimum(dec("900"), BasisPerTruck, f)
	if cmp.Verdict != MinimumUnknown {
		t.Fatalf("unknown minimum must not pass or fail, got %s", cmp.Verdict)
	}
}

func TestCompareAssignmentPrefersSnapshot(t *testing.T) {
	f := freight(models.PricingFixed, "1000", 3)
	f.MinimumAnttPrice = ndec("3600") // edited after assignment was created

	a := models.Assignment{
		DriverID:         "d1",
		Status:           models.AssignmentAccepted,
		AgreedPrice:      ndec("1100"),
		MinimumAnttPrice: ndec("3000"), // frozen at assignment time
	}
	cmp := CompareAssignment(a, f)
	if cmp.Verdict != AtOrAboveMinimum {
		t.Fatalf("snapshot minimum 1000/truck should admit 1100, got %s", cmp.Verdict)
	}

	a.MinimumAnttPrice = decimal.NullDecimal{}
	cmp = CompareAssignment(a, f)
	if cmp.Verdict != BelowMinimum {
		t.Fatalf("freight minimum 1200/truck should reject 1100, got %s", cmp.Verdict)
	}
}

func TestCompareAssignmentIndeterminatePrice(t *testing.T) {
	f := freight(models.PricingPerKm, "3.5", 2) // no distance, no agreed price
	f.MinimumAnttPrice = ndec("1000")
	cmp := CompareAssignment(models.Assignment{DriverID: "d1"}, f)
	if cmp.Verdict != MinimumUnknown {
		t.Fatalf("got %s", cmp.Verdict)
	}
}
