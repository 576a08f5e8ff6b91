package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"roomsync/internal/config"
	"roomsync/internal/domain"
	"roomsync/internal/export"
	"roomsync/internal/grid"
	"roomsync/internal/metrics"
	"roomsync/internal/models"
	"roomsync/internal/service"

	"github.com/rs/zerolog"
)

// RefreshScheduler is the scheduler surface the API drives.
type RefreshScheduler interface {
	Refresh(reason string)
	SetViewedDate(date time.Time)
	ViewedDate() time.Time
}

// HTTPServer exposes the grid and booking operations over HTTP.
type HTTPServer struct {
	cfg       config.APIConfig
	holder    domain.GridHolder
	cache     domain.SnapshotCache
	dir       domain.RoomDirectory
	booking   *service.Booking
	scheduler RefreshScheduler
	exporter  *export.Exporter
	server    *http.Server
	auth      *HTTPAuth
	logger    zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	holder domain.GridHolder,
	cache domain.SnapshotCache,
	dir domain.RoomDirectory,
	booking *service.Booking,
	scheduler RefreshScheduler,
	exporter *export.Exporter,
	logger *zerolog.Logger,
) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:       cfg,
		holder:    holder,
		cache:     cache,
		dir:       dir,
		booking:   booking,
		scheduler: scheduler,
		exporter:  exporter,
		logger:    logger.With().Str("component", "http").Logger(),
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/grid", srv.handleGrid)
	mux.HandleFunc("/api/v1/rooms", srv.handleRooms)
	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/refresh", srv.handleRefresh)
	mux.HandleFunc("/api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("/api/v1/bookings/cancel", srv.handleCancelBooking)
	mux.HandleFunc("/api/v1/export", srv.handleExport)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the full middleware chain, used directly in tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// slotCell is one grid cell in API responses. Continuation cells repeat the
// booking with head=false so a client can render spans without arithmetic.
type slotCell struct {
	BookingID string `json:"booking_id"`
	Label     string `json:"label"`
	Head      bool   `json:"head"`
	StartSlot int    `json:"start_slot"`
	EndSlot   int    `json:"end_slot"`
	Attendees int    `json:"attendees,omitempty"`
	Synced    bool   `json:"synced"`
}

type roomColumn struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Status string      `json:"status"`
	Cells  []*slotCell `json:"cells"`
}

func (s *HTTPServer) handleGrid(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("grid")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap, err := s.snapshotFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "no grid data for this date yet")
		return
	}

	columns := make([]roomColumn, 0, len(s.dir.Rooms()))
	for _, room := range s.dir.Rooms() {
		col := roomColumn{
			ID:     room.ID,
			Name:   room.Name,
			Status: string(snap.Status[room.ID]),
			Cells:  make([]*slotCell, models.SlotCount),
		}
		for slot := 0; slot < models.SlotCount; slot++ {
			span, head := snap.Grid.SpanAt(room.ID, slot)
			if span == nil {
				continue
			}
			col.Cells[slot] = &slotCell{
				BookingID: span.ID,
				Label:     span.Label,
				Head:      head,
				StartSlot: span.StartSlot,
				EndSlot:   span.EndSlot,
				Attendees: span.Attendees,
				Synced:    span.Synced,
			}
		}
		columns = append(columns, col)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":       snap.DateKey(),
		"generation": snap.Generation,
		"synced_at":  snap.SyncedAt,
		"slot_codes": models.SlotCodes(),
		"rooms":      columns,
	})
}

// snapshotFor resolves the snapshot to serve: the live one when the date
// matches (or no date is given), otherwise the cached snapshot for that date.
func (s *HTTPServer) snapshotFor(r *http.Request) (*grid.Snapshot, error) {
	current := s.holder.Current()

	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		return current, nil
	}
	if _, err := time.ParseInLocation(models.DateLayout, dateStr, time.Local); err != nil {
		return nil, fmt.Errorf("invalid date format; expected YYYY-MM-DD")
	}

	if current != nil && current.DateKey() == dateStr {
		return current, nil
	}
	if s.cache == nil {
		return nil, nil
	}
	snap, err := s.cache.Get(r.Context(), dateStr)
	if err != nil {
		s.logger.Warn().Err(err).Str("date", dateStr).Msg("snapshot cache read failed")
		return nil, nil
	}
	return snap, nil
}

func (s *HTTPServer) handleRooms(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("rooms")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.dir.Rooms()})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("status")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := s.holder.Current()
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       true,
		"date":        snap.DateKey(),
		"viewed_date": s.scheduler.ViewedDate().Format(models.DateLayout),
		"generation":  snap.Generation,
		"synced_at":   snap.SyncedAt,
		"sources":     snap.Status,
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("refresh")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Date string `json:"date"`
	}
	if r.Body != nil {
		// An empty body is fine; the viewed date stays put.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if body.Date != "" {
		date, err := time.ParseInLocation(models.DateLayout, body.Date, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
			return
		}
		s.scheduler.SetViewedDate(date)
	}

	// An explicit request always schedules a pass, even when the viewed date
	// did not change.
	s.scheduler.Refresh("api_request")

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		RoomID     string   `json:"room_id"`
		StartSlot  int      `json:"start_slot"`
		EndSlot    int      `json:"end_slot"`
		BookerName string   `json:"booker_name"`
		Organizer  string   `json:"organizer"`
		Attendees  []string `json:"attendees"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.booking.Create(r.Context(), service.CreateRequest{
		RoomID:     body.RoomID,
		StartSlot:  body.StartSlot,
		EndSlot:    body.EndSlot,
		BookerName: body.BookerName,
		Organizer:  body.Organizer,
		Attendees:  body.Attendees,
	})
	if err != nil {
		writeError(w, createStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"booking": res.Span,
		"warning": res.Warning,
	})
}

func createStatus(err error) int {
	switch {
	case errors.Is(err, grid.ErrSlotConflict):
		return http.StatusConflict
	case errors.Is(err, grid.ErrUnknownRoom):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyBookerName), errors.Is(err, service.ErrInvalidRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings_cancel")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		RoomID    string `json:"room_id"`
		HeadSlot  int    `json:"head_slot"`
		Requester string `json:"requester"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.booking.Cancel(r.Context(), service.CancelRequest{
		RoomID:    body.RoomID,
		HeadSlot:  body.HeadSlot,
		Requester: body.Requester,
	})
	if err != nil {
		writeError(w, cancelStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"booking": res.Span,
		"warning": res.Warning,
	})
}

func cancelStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNotOrganizer):
		return http.StatusForbidden
	case errors.Is(err, grid.ErrNotHeadSlot):
		return http.StatusConflict
	case errors.Is(err, grid.ErrUnknownRoom):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusNotFound, "export is not configured")
		return
	}

	snap, err := s.snapshotFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "no grid data for this date yet")
		return
	}

	path, err := s.exporter.GridToExcel(snap, s.dir)
	if err != nil {
		s.logger.Error().Err(err).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=grid_%s.xlsx", snap.DateKey()))
	http.ServeFile(w, r, path)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
