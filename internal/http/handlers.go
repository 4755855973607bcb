package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/example/freight-marketplace/internal/antt"
	"github.com/example/freight-marketplace/internal/cache"
	"github.com/example/freight-marketplace/internal/capacity"
	"github.com/example/freight-marketplace/internal/config"
	"github.com/example/freight-marketplace/internal/dispatch"
	"github.com/example/freight-marketplace/internal/ingest"
	"github.com/example/freight-marketplace/internal/models"
	"github.com/example/freight-marketplace/internal/observability"
	"github.com/example/freight-marketplace/internal/payments"
	"github.com/example/freight-marketplace/internal/pricing"
	"github.com/example/freight-marketplace/internal/storage"
)

// PaymentProvider is the subset of the stripe wrapper the handlers use.
type PaymentProvider interface {
	Hold(ctx context.Context, amount decimal.Decimal, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Server struct {
	Store     storage.Store
	Allocator *capacity.Service
	Antt      *antt.Resolver
	Counters  *cache.Counters
	Kafka     *ingest.Producer
	WSReg     *dispatch.WSRegistry
	Payments  PaymentProvider
	Currency  string

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the API from an explicit config. Postgres, Redis,
// Kafka, the ANTT table and Stripe are all optional; absent ones fall
// back to in-process or no-op behavior so the binary runs locally.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var store storage.Store
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var counters *cache.Counters
	if cfg.RedisAddr != "" {
		counters = cache.NewCounters(cfg.RedisAddr, cfg.RedisPassword)
	}

	var kp *ingest.Producer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	resolver := &antt.Resolver{Cache: antt.NewCache(cfg.AnttCacheTTL)}
	if cfg.AnttEndpoint != "" {
		resolver.Client = antt.NewTableClient(cfg.AnttEndpoint)
	}

	wsreg := dispatch.NewWSRegistry()
	wsreg.Logger = logger
	if cfg.NotifyWebhook != "" {
		wsreg.Fallback = dispatch.NewWebhookNotifier(cfg.NotifyWebhook)
	}

	s := &Server{
		Store:     store,
		Allocator: &capacity.Service{Store: store},
		Antt:      resolver,
		Counters:  counters,
		Kafka:     kp,
		WSReg:     wsreg,
		Currency:  cfg.Currency,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	if os.Getenv("STRIPE_API_KEY") != "" {
		s.Payments = payments.NewStripeClient()
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/freights", s.handleCreateFreight).Methods("POST")
	s.mux.HandleFunc("/api/v1/freights/{freight_id}", s.handleGetFreight).Methods("GET")
	s.mux.HandleFunc("/api/v1/freights/{freight_id}/price", s.handleVisiblePrice).Methods("GET")
	s.mux.HandleFunc("/api/v1/freights/{freight_id}/assignments", s.handleCreateAssignment).Methods("POST")
	s.mux.HandleFunc("/api/v1/assignments/{assignment_id}/status", s.handleAssignmentStatus).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createFreightRequest struct {
	ProducerID     string              `json:"producer_id"`
	RequiredTrucks int                 `json:"required_trucks"`
	Price          decimal.Decimal     `json:"price"`
	PricingType    models.PricingType  `json:"pricing_type"`
	DistanceKm     decimal.NullDecimal `json:"distance_km"`
	WeightTons     decimal.NullDecimal `json:"weight_tons"`
}

func (s *Server) handleCreateFreight(w http.ResponseWriter, r *http.Request) {
	var req createFreightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RequiredTrucks < 1 {
		http.Error(w, "required_trucks must be >= 1", http.StatusBadRequest)
		return
	}
	switch req.PricingType {
	case models.PricingFixed, models.PricingPerKm, models.PricingPerTon:
	default:
		http.Error(w, "unknown pricing_type", http.StatusBadRequest)
		return
	}
	if req.Price.IsNegative() {
		http.Error(w, "price must not be negative", http.StatusBadRequest)
		return
	}

	now := time.Now()
	f := models.Freight{
		ID:             newID(),
		ProducerID:     req.ProducerID,
		Status:         models.FreightOpen,
		RequiredTrucks: req.RequiredTrucks,
		// Price is stored per-truck for FIXED; the creation wizard divides
		// a user-entered total before it reaches this API.
		Price:       req.Price,
		PricingType: req.PricingType,
		DistanceKm:  req.DistanceKm,
		WeightTons:  req.WeightTons,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.MinimumAnttPrice = s.Antt.MinimumFor(r.Context(), f)

	if err := s.Store.SaveFreight(r.Context(), &f); err != nil {
		s.logger.Error("save freight failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// handleGetFreight serves the freight record for dashboards. The
// acceptedTrucks figure is overlaid from the Redis advisory cache when
// one is present; it is a display hint and may lag the true active
// count, which only the allocator's fresh recount is allowed to decide on.
func (s *Server) handleGetFreight(w http.ResponseWriter, r *http.Request) {
	f, err := s.Store.GetFreight(r.Context(), mux.Vars(r)["freight_id"])
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if s.Counters != nil {
		if accepted, _, ok := s.Counters.Advisory(r.Context(), f.ID); ok {
			f.AcceptedTrucks = accepted
		}
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleVisiblePrice(w http.ResponseWriter, r *http.Request) {
	freightID := mux.Vars(r)["freight_id"]
	role := models.Role(r.URL.Query().Get("role"))
	viewerID := r.URL.Query().Get("viewer_id")

	switch role {
	case models.RoleProducer:
	case models.RoleDriver, models.RoleCompany:
		if viewerID == "" {
			http.Error(w, "viewer_id is required for this role", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "role must be PRODUTOR, MOTORISTA or TRANSPORTADORA", http.StatusBadRequest)
		return
	}

	f, err := s.Store.GetFreight(r.Context(), freightID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	f.MinimumAnttPrice = s.Antt.MinimumFor(r.Context(), *f)

	assignments, err := s.Store.ListAssignments(r.Context(), freightID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	visible := pricing.VisibleFor(role, *f, assignments, viewerID)
	observability.QuotesTotal.Inc()

	resp := map[string]any{"visible": visible}
	switch role {
	case models.RoleProducer:
		if q := pricing.QuoteFreight(*f); q.Determinate {
			resp["antt"] = pricing.CompareToMinimum(q.Total, pricing.BasisTotal, *f)
		} else {
			resp["antt"] = pricing.MinimumComparison{Verdict: pricing.MinimumUnknown}
		}
	case models.RoleDriver:
		var own models.Assignment
		for _, a := range assignments {
			if a.DriverID == viewerID {
				own = a
				break
			}
		}
		resp["antt"] = pricing.CompareAssignment(own, *f)
	}
	writeJSON(w, http.StatusOK, resp)
}

type createAssignmentRequest struct {
	DriverID    string              `json:"driver_id"`
	CompanyID   string              `json:"company_id"`
	AgreedPrice decimal.NullDecimal `json:"agreed_price"`
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	freightID := mux.Vars(r)["freight_id"]
	var req createAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.DriverID == "" {
		http.Error(w, "driver_id is required", http.StatusBadRequest)
		return
	}

	res, err := s.Allocator.TryReserveSlot(r.Context(), capacity.Request{
		FreightID:   freightID,
		DriverID:    req.DriverID,
		CompanyID:   req.CompanyID,
		AgreedPrice: req.AgreedPrice,
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if !res.Admitted {
		writeJSON(w, http.StatusConflict, map[string]string{
			"reason":  string(res.Reason),
			"message": res.Message,
		})
		return
	}

	a := res.Assignment
	s.afterAdmission(r.Context(), a)
	writeJSON(w, http.StatusCreated, a)
}

// afterAdmission runs the best-effort side effects of a reserved slot:
// event publication, driver notification and the payment hold. None of
// them can undo the admission.
func (s *Server) afterAdmission(ctx context.Context, a *models.Assignment) {
	if s.Kafka != nil {
		if err := s.Kafka.PublishAssignmentEvent(models.AssignmentEvent{
			Type:         "created",
			FreightID:    a.FreightID,
			AssignmentID: a.ID,
			DriverID:     a.DriverID,
			CompanyID:    a.CompanyID,
			Status:       a.Status,
			At:           time.Now(),
		}); err != nil {
			s.logger.Warn("assignment event publish failed", "assignment_id", a.ID, "error", err)
		}
	}

	f, err := s.Store.GetFreight(ctx, a.FreightID)
	if err != nil {
		s.logger.Warn("freight reload for side effects failed", "freight_id", a.FreightID, "error", err)
		return
	}

	notice := models.AssignmentNotice{
		AssignmentID: a.ID,
		FreightID:    a.FreightID,
		DriverID:     a.DriverID,
		AgreedPrice:  a.AgreedPrice,
	}
	q := pricing.QuoteFreight(*f)
	if !notice.AgreedPrice.Valid && q.Determinate {
		notice.AgreedPrice = decimal.NewNullDecimal(q.Unit)
		if f.RequiredTrucks > 1 {
			notice.Suffix = "/truck"
		}
	}
	if s.WSReg != nil {
		if err := s.WSReg.Notify(a.DriverID, notice); err != nil {
			s.logger.Debug("driver notification skipped", "driver_id", a.DriverID, "error", err)
		}
	}

	if s.Payments != nil && notice.AgreedPrice.Valid {
		piID, err := s.Payments.Hold(ctx, notice.AgreedPrice.Decimal, s.Currency, f.ProducerID)
		if err != nil {
			s.logger.Warn("payment hold failed", "assignment_id", a.ID, "error", err)
			return
		}
		a.PaymentIntentID = piID
		if err := s.Store.SetAssignmentPayment(ctx, a.ID, piID); err != nil {
			s.logger.Warn("payment intent not persisted", "assignment_id", a.ID, "error", err)
		}
	}
}

type assignmentStatusRequest struct {
	Status models.AssignmentStatus `json:"status"`
}

func (s *Server) handleAssignmentStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["assignment_id"]
	var req assignmentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !validAssignmentStatus(req.Status) {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	current, err := s.Store.GetAssignment(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	// Statuses only move forward. A delivered or cancelled assignment
	// freed its slot, which may already be refilled; letting it back
	// into the active set would oversubscribe the freight behind the
	// allocator's back.
	if !current.Status.CanTransitionTo(req.Status) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"reason":  "INVALID_TRANSITION",
			"message": fmt.Sprintf("assignment cannot move from %s to %s", current.Status, req.Status),
		})
		return
	}

	a, err := s.Store.UpdateAssignmentStatus(r.Context(), id, req.Status)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	if s.Payments != nil && a.PaymentIntentID != "" {
		switch req.Status {
		case models.AssignmentDelivered, models.AssignmentCompleted:
			if err := s.Payments.Capture(r.Context(), a.PaymentIntentID); err != nil {
				s.logger.Warn("payment capture failed", "assignment_id", a.ID, "error", err)
			}
		case models.AssignmentCancelled:
			if err := s.Payments.Cancel(r.Context(), a.PaymentIntentID); err != nil {
				s.logger.Warn("payment cancel failed", "assignment_id", a.ID, "error", err)
			}
		}
	}

	if s.Kafka != nil {
		if err := s.Kafka.PublishAssignmentEvent(models.AssignmentEvent{
			Type:         "status_changed",
			FreightID:    a.FreightID,
			AssignmentID: a.ID,
			DriverID:     a.DriverID,
			CompanyID:    a.CompanyID,
			Status:       a.Status,
			PrevStatus:   current.Status,
			At:           time.Now(),
		}); err != nil {
			s.logger.Warn("assignment event publish failed", "assignment_id", a.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, a)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
	go func() {
		defer func() {
			s.WSReg.Remove(id, conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrFreightNotFound):
		http.Error(w, "freight not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrAssignmentNotFound):
		http.Error(w, "assignment not found", http.StatusNotFound)
	default:
		s.logger.Error("storage error", "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	}
}

func validAssignmentStatus(s models.AssignmentStatus) bool {
	switch s {
	case models.AssignmentAccepted, models.AssignmentLoading, models.AssignmentLoaded,
		models.AssignmentInTransit, models.AssignmentDeliveredPending,
		models.AssignmentDelivered, models.AssignmentCancelled, models.AssignmentCompleted:
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
