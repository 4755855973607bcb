// Package antt resolves the regulatory minimum price (ANTT table) for
// a freight. While a minimum is unresolved the pricing engine reports
// MinimumUnknown; unknown is never treated as passing or failing.
package antt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/freight-marketplace/internal/models"
)

// Client is the interface used by the resolver to fetch minimums.
type Client interface {
	MinimumTotal(ctx context.Context, f models.Freight) (decimal.Decimal, error)
}

// TableClient queries a minimum-price table service over HTTP.
type TableClient struct {
	Endpoint string
	Client   *http.Client
}

func NewTableClient(endpoint string) *TableClient {
	return &TableClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// MinimumTotal queries the table for the whole-freight minimum:
// GET {endpoint}/v1/minimum-price?distance_km=..&weight_tons=..&trucks=..
func (t *TableClient) MinimumTotal(ctx context.Context, f models.Freight) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/v1/minimum-price?distance_km=%s&weight_tons=%s&trucks=%d",
		t.Endpoint, decimalParam(f.DistanceKm), decimalParam(f.WeightTons), f.RequiredTrucks)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	var out struct {
		MinimumTotal decimal.Decimal `json:"minimum_total"`
		Code         string          `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, err
	}
	if out.Code != "Ok" {
		return decimal.Zero, fmt.Errorf("antt table: no minimum: %v", out.Code)
	}
	return out.MinimumTotal, nil
}

func decimalParam(d decimal.NullDecimal) string {
	if !d.Valid {
		return "0"
	}
	return d.Decimal.String()
}
