package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/freight-marketplace/internal/models"
)

// Notifier delivers an assignment notice to a driver. Delivery is
// best-effort; admission never depends on it.
type Notifier interface {
	Notify(driverID string, n models.AssignmentNotice) error
}

// WebhookNotifier posts notices to an external push backend, used for
// drivers without a live websocket session.
type WebhookNotifier struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookNotifier(endpoint string) *WebhookNotifier {
	return &WebhookNotifier{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *WebhookNotifier) Notify(driverID string, n models.AssignmentNotice) error {
	b, _ := json.Marshal(map[string]any{"driver_id": driverID, "notice": n})
	resp, err := w.Client.Post(w.Endpoint, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
