// Package httpapi exposes the engine's REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/allocation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/metrics"
	allocationsvc "github.com/Meridian-Commerce/reservation_engine/internal/app/services/allocation"
	reservationsvc "github.com/Meridian-Commerce/reservation_engine/internal/app/services/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
	"github.com/Meridian-Commerce/reservation_engine/internal/middleware"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

// Options tunes the handler's audit surface.
type Options struct {
	AuditRingSize int
	AuditLogPath  string
}

// Handler serves the reservation and allocation API.
type Handler struct {
	router       chi.Router
	reservations *reservationsvc.Service
	allocations  *allocationsvc.Service
	audit        *auditLog
	status       *statusProbe
	log          *logger.Logger
}

// NewHandler wires the REST routes over the two services.
func NewHandler(reservations *reservationsvc.Service, allocations *allocationsvc.Service, log *logger.Logger, opts Options) (*Handler, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	var sink auditSink
	if opts.AuditLogPath != "" {
		fileSink, err := newFileAuditSink(opts.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		sink = fileSink
	}

	h := &Handler{
		reservations: reservations,
		allocations:  allocations,
		audit:        newAuditLog(opts.AuditRingSize, sink),
		status:       newStatusProbe(),
		log:          log,
	}

	r := chi.NewRouter()
	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/orders/{orderID}/reservations", h.createReservations)
		r.Get("/orders/{orderID}/reservations", h.listOrderReservations)
		r.Post("/orders/{orderID}/allocations", h.allocateOrder)
		r.Post("/orders/{orderID}/release", h.releaseOrder)

		r.Get("/reservations", h.listReservations)
		r.Get("/reservations/{id}", h.getReservation)
		r.Get("/reservations/{id}/allocations", h.listReservationAllocations)
		r.Post("/reservations/{id}/confirm", h.confirmReservation)
		r.Post("/reservations/{id}/cancel", h.cancelReservation)

		r.Get("/allocations/{id}", h.getAllocation)
		r.Patch("/allocations/{id}/fulfillment", h.advanceFulfillment)

		r.Get("/audit", h.auditTrail)
		r.Get("/system/status", h.systemStatus)
	})
	h.router = r
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Close releases the audit sink.
func (h *Handler) Close() error {
	return h.audit.close()
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.snapshot(r.Context()))
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries := h.audit.listLimit(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *Handler) createReservations(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var payload struct {
		Priority        string  `json:"priority"`
		Strategy        string  `json:"strategy"`
		TimeoutMinutes  int     `json:"timeout_minutes"`
		Category        string  `json:"category"`
		DestinationZone string  `json:"destination_zone"`
		Destination     *struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"destination"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.fail(w, r, "create_reservations", orderID, 0, http.StatusBadRequest, err)
		return
	}

	opts := reservationsvc.ReserveOptions{
		Category:        payload.Category,
		DestinationZone: payload.DestinationZone,
		Timeout:         time.Duration(payload.TimeoutMinutes) * time.Minute,
	}
	if payload.Priority != "" {
		priority, err := reservation.ParsePriority(payload.Priority)
		if err != nil {
			h.fail(w, r, "create_reservations", orderID, 0, http.StatusBadRequest, err)
			return
		}
		opts.Priority = priority
	}
	if payload.Strategy != "" {
		strategy, err := reservation.ParseStrategy(payload.Strategy)
		if err != nil {
			h.fail(w, r, "create_reservations", orderID, 0, http.StatusBadRequest, err)
			return
		}
		opts.Strategy = strategy
	}
	if payload.Destination != nil {
		opts.Destination = &warehouse.Coordinates{Lat: payload.Destination.Lat, Lon: payload.Destination.Lon}
	}

	created, err := h.reservations.ReserveForOrder(r.Context(), orderID, opts)
	if err != nil {
		h.fail(w, r, "create_reservations", orderID, 0, statusForError(err), err)
		return
	}

	h.record(r, auditEntry{Action: "create_reservations", OrderID: orderID, Status: http.StatusCreated,
		Detail: fmt.Sprintf("%d reservations", len(created))})
	writeJSON(w, http.StatusCreated, reservationListPayload(created))
}

func (h *Handler) listOrderReservations(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	list, err := h.reservations.ListForOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, reservationListPayload(list))
}

func (h *Handler) listReservations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.ReservationFilter{
		OrderID:     query.Get("order_id"),
		VariantID:   query.Get("variant_id"),
		WarehouseID: query.Get("warehouse_id"),
		Status:      reservation.Status(query.Get("status")),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}

	list, err := h.reservations.List(r.Context(), filter)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, reservationListPayload(list))
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.reservations.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, reservationPayload(res))
}

func (h *Handler) confirmReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		ConfirmedBy string `json:"confirmed_by"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.fail(w, r, "confirm_reservation", "", id, http.StatusBadRequest, err)
		return
	}
	if payload.ConfirmedBy == "" {
		payload.ConfirmedBy = middleware.ActorFromContext(r.Context())
	}

	res, err := h.reservations.ConfirmReservation(r.Context(), id, payload.ConfirmedBy)
	if err != nil {
		h.fail(w, r, "confirm_reservation", "", id, statusForError(err), err)
		return
	}

	h.record(r, auditEntry{Action: "confirm_reservation", OrderID: res.OrderID, ReservationID: id, Status: http.StatusOK})
	writeJSON(w, http.StatusOK, reservationPayload(res))
}

func (h *Handler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		CancelledBy string `json:"cancelled_by"`
		Reason      string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.fail(w, r, "cancel_reservation", "", id, http.StatusBadRequest, err)
		return
	}
	if payload.CancelledBy == "" {
		payload.CancelledBy = middleware.ActorFromContext(r.Context())
	}

	res, err := h.reservations.CancelReservation(r.Context(), id, payload.CancelledBy, payload.Reason)
	if err != nil {
		h.fail(w, r, "cancel_reservation", "", id, statusForError(err), err)
		return
	}

	h.record(r, auditEntry{Action: "cancel_reservation", OrderID: res.OrderID, ReservationID: id, Status: http.StatusOK,
		Detail: payload.Reason})
	writeJSON(w, http.StatusOK, reservationPayload(res))
}

func (h *Handler) releaseOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.fail(w, r, "release_order", orderID, 0, http.StatusBadRequest, err)
		return
	}

	released, err := h.reservations.ReleaseForOrder(r.Context(), orderID, payload.Reason)
	if err != nil {
		h.fail(w, r, "release_order", orderID, 0, statusForError(err), err)
		return
	}

	h.record(r, auditEntry{Action: "release_order", OrderID: orderID, Status: http.StatusOK,
		Detail: fmt.Sprintf("%d released", len(released))})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"released":     len(released),
		"reservations": reservationListPayload(released),
	})
}

func (h *Handler) allocateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var payload struct {
		Strategy string `json:"strategy"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.fail(w, r, "allocate_order", orderID, 0, http.StatusBadRequest, err)
		return
	}

	var strategy reservation.Strategy
	if payload.Strategy != "" {
		parsed, err := reservation.ParseStrategy(payload.Strategy)
		if err != nil {
			h.fail(w, r, "allocate_order", orderID, 0, http.StatusBadRequest, err)
			return
		}
		strategy = parsed
	}

	results, err := h.allocations.AllocateForOrder(r.Context(), orderID, strategy)
	if err != nil {
		h.fail(w, r, "allocate_order", orderID, 0, statusForError(err), err)
		return
	}

	h.record(r, auditEntry{Action: "allocate_order", OrderID: orderID, Status: http.StatusOK,
		Detail: fmt.Sprintf("%d reservations placed", len(results))})
	payloads := make([]allocationResultPayload, len(results))
	for i, result := range results {
		payloads[i] = resultPayload(result)
	}
	writeJSON(w, http.StatusOK, payloads)
}

func (h *Handler) listReservationAllocations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := h.allocations.ListForReservation(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, allocationListPayload(list))
}

func (h *Handler) getAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	alloc, err := h.allocations.GetAllocation(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, allocationPayload(alloc))
}

func (h *Handler) advanceFulfillment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.fail(w, r, "advance_fulfillment", "", 0, http.StatusBadRequest, err)
		return
	}

	alloc, err := h.allocations.AdvanceFulfillment(r.Context(), id, allocation.FulfillmentStatus(payload.Status))
	if err != nil {
		h.fail(w, r, "advance_fulfillment", "", 0, statusForError(err), err)
		return
	}

	h.record(r, auditEntry{Action: "advance_fulfillment", AllocationID: id, ReservationID: alloc.ReservationID,
		Status: http.StatusOK, Detail: payload.Status})
	writeJSON(w, http.StatusOK, allocationPayload(alloc))
}

// record captures a mutating call on the API audit ring.
func (h *Handler) record(r *http.Request, entry auditEntry) {
	entry.Time = time.Now().UTC()
	entry.RequestID = middleware.RequestIDFromContext(r.Context())
	if entry.Actor == "" {
		entry.Actor = middleware.ActorFromContext(r.Context())
	}
	h.audit.add(entry)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action, orderID string, reservationID int64, status int, err error) {
	h.record(r, auditEntry{Action: action, OrderID: orderID, ReservationID: reservationID,
		Status: status, Detail: err.Error()})
	writeError(w, status, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, reservation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reservation.ErrInvalidState),
		errors.Is(err, reservation.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, reservation.ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
