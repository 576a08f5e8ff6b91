package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"roomsync/internal/config"
	"roomsync/internal/export"
	"roomsync/internal/grid"
	"roomsync/internal/models"
	"roomsync/internal/repository"
	"roomsync/internal/scheduler"
	"roomsync/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListEvents(ctx context.Context, mailbox string, from, to time.Time) ([]models.RawEvent, error) {
	args := m.Called(ctx, mailbox, from, to)
	evs, _ := args.Get(0).([]models.RawEvent)
	return evs, args.Error(1)
}

func (m *mockSource) CreateEvent(ctx context.Context, mailbox string, payload models.EventPayload) (string, error) {
	args := m.Called(ctx, mailbox, payload)
	return args.String(0), args.Error(1)
}

func (m *mockSource) DeleteEvent(ctx context.Context, mailbox, eventID string) error {
	args := m.Called(ctx, mailbox, eventID)
	return args.Error(0)
}

type testHolder struct {
	mu   sync.Mutex
	snap *grid.Snapshot
}

func (h *testHolder) Current() *grid.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

func (h *testHolder) Apply(mutate func(*grid.Grid) (*grid.Grid, error)) (*grid.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := mutate(h.snap.Grid)
	if err != nil {
		return nil, err
	}
	snap := *h.snap
	snap.Grid = next
	h.snap = &snap
	return h.snap, nil
}

type staticDir struct {
	rooms []models.Room
}

func (d *staticDir) Rooms() []models.Room { return d.rooms }

func (d *staticDir) RoomByID(id string) (models.Room, bool) {
	for _, r := range d.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return models.Room{}, false
}

type stubScheduler struct {
	mu      sync.Mutex
	reasons []string
	viewed  time.Time
}

func (s *stubScheduler) Refresh(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
}

func (s *stubScheduler) SetViewedDate(date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewed = models.DateOf(date)
	s.reasons = append(s.reasons, "date_changed")
}

func (s *stubScheduler) ViewedDate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewed
}

type noopWorker struct{}

func (noopWorker) EnqueueCreate(context.Context, models.ResyncTask) error { return nil }

var apiDate = time.Date(2026, 3, 16, 0, 0, 0, 0, time.Local)

type apiFixture struct {
	server    *HTTPServer
	holder    *testHolder
	source    *mockSource
	scheduler *stubScheduler
	cache     *repository.MemorySnapshotCache
}

func newAPIFixture(t *testing.T, cfg config.APIConfig) *apiFixture {
	t.Helper()
	rooms := []models.Room{
		{ID: "tarangire", Name: "Tarangire", Mailbox: "room-tarangire@example.org"},
		{ID: "ruaha", Name: "Ruaha"},
	}
	dir := &staticDir{rooms: rooms}

	g := grid.Empty(apiDate, []string{"tarangire", "ruaha"})
	g, err := g.Occupy("tarangire", 4, 6, models.BookingSpan{
		ID: "remote-1", Label: "Weekly Sync", Organizer: "amina@example.org", Synced: true,
	})
	require.NoError(t, err)

	holder := &testHolder{snap: &grid.Snapshot{
		Date: apiDate,
		Grid: g,
		Status: map[string]models.SourceStatus{
			"tarangire": models.SourceOK,
			"ruaha":     models.SourceUnconfigured,
		},
		Generation: 3,
		SyncedAt:   time.Now(),
	}}

	src := new(mockSource)
	sched := &stubScheduler{viewed: apiDate}
	cache := repository.NewMemorySnapshotCache()
	logger := zerolog.Nop()

	booking := service.NewBooking(holder, dir, src, sched, noopWorker{}, nil, "", &logger)
	exporter := export.New(t.TempDir(), &logger)
	server := NewHTTPServer(cfg, holder, cache, dir, booking, sched, exporter, &logger)

	return &apiFixture{server: server, holder: holder, source: src, scheduler: sched, cache: cache}
}

func (f *apiFixture) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleGrid(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	rec := f.do(http.MethodGet, "/api/v1/grid", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "2026-03-16", body["date"])
	assert.Equal(t, float64(3), body["generation"])

	rooms := body["rooms"].([]any)
	require.Len(t, rooms, 2)

	tarangire := rooms[0].(map[string]any)
	assert.Equal(t, "ok", tarangire["status"])
	cells := tarangire["cells"].([]any)
	require.Len(t, cells, models.SlotCount)

	head := cells[4].(map[string]any)
	assert.Equal(t, true, head["head"])
	assert.Equal(t, "Weekly Sync", head["label"])
	continuation := cells[5].(map[string]any)
	assert.Equal(t, false, continuation["head"])
	assert.Nil(t, cells[6])
}

func TestHandleGridByDate(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	other := time.Date(2026, 3, 17, 0, 0, 0, 0, time.Local)
	cached := &grid.Snapshot{
		Date:   other,
		Grid:   grid.Empty(other, []string{"tarangire", "ruaha"}),
		Status: map[string]models.SourceStatus{"tarangire": models.SourceOK},
	}
	require.NoError(t, f.cache.Set(context.Background(), cached))

	rec := f.do(http.MethodGet, "/api/v1/grid?date=2026-03-17", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-03-17", decodeBody(t, rec)["date"])

	rec = f.do(http.MethodGet, "/api/v1/grid?date=2026-03-18", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/grid?date=17-03-2026", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRoomsAndStatus(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	rec := f.do(http.MethodGet, "/api/v1/rooms", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["rooms"], 2)

	rec = f.do(http.MethodGet, "/api/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "2026-03-16", body["viewed_date"])
}

func TestHandleRefresh(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	rec := f.do(http.MethodPost, "/api/v1/refresh", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, f.scheduler.reasons, "api_request")

	rec = f.do(http.MethodPost, "/api/v1/refresh", map[string]string{"date": "2026-03-20"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, time.Date(2026, 3, 20, 0, 0, 0, 0, time.Local), f.scheduler.ViewedDate())

	rec = f.do(http.MethodPost, "/api/v1/refresh", map[string]string{"date": "soon"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type recordingRunner struct {
	ran chan time.Time
}

func (r *recordingRunner) Run(ctx context.Context, date time.Time) (*grid.Snapshot, error) {
	r.ran <- date
	return nil, nil
}

func (r *recordingRunner) awaitPass(t *testing.T) time.Time {
	t.Helper()
	select {
	case date := <-r.ran:
		return date
	case <-time.After(2 * time.Second):
		t.Fatal("no reconciliation pass ran")
		return time.Time{}
	}
}

// An explicit refresh must schedule a pass even when the requested date is
// already the viewed date.
func TestHandleRefreshSameDateTriggersPass(t *testing.T) {
	runner := &recordingRunner{ran: make(chan time.Time, 4)}
	logger := zerolog.Nop()
	sched := scheduler.New(runner, 3600, &logger)
	viewed := sched.ViewedDate()

	dir := &staticDir{rooms: []models.Room{{ID: "tarangire", Name: "Tarangire"}}}
	holder := &testHolder{snap: &grid.Snapshot{Date: viewed, Grid: grid.Empty(viewed, []string{"tarangire"})}}
	booking := service.NewBooking(holder, dir, new(mockSource), sched, noopWorker{}, nil, "", &logger)
	exporter := export.New(t.TempDir(), &logger)
	server := NewHTTPServer(config.APIConfig{}, holder, repository.NewMemorySnapshotCache(), dir, booking, sched, exporter, &logger)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]string{"date": viewed.Format(models.DateLayout)}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", &buf)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, viewed, runner.awaitPass(t))
}

func TestHandleCreateBooking(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		f := newAPIFixture(t, config.APIConfig{})
		f.source.On("CreateEvent", mock.Anything, "room-tarangire@example.org", mock.Anything).
			Return("remote-2", nil)

		rec := f.do(http.MethodPost, "/api/v1/bookings", map[string]any{
			"room_id": "tarangire", "start_slot": 10, "end_slot": 12, "booker_name": "Amina",
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		booking := decodeBody(t, rec)["booking"].(map[string]any)
		assert.Equal(t, "remote-2", booking["id"])
	})

	t.Run("conflict", func(t *testing.T) {
		f := newAPIFixture(t, config.APIConfig{})
		rec := f.do(http.MethodPost, "/api/v1/bookings", map[string]any{
			"room_id": "tarangire", "start_slot": 4, "end_slot": 6, "booker_name": "Amina",
		}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		f := newAPIFixture(t, config.APIConfig{})
		rec := f.do(http.MethodPost, "/api/v1/bookings", map[string]any{
			"room_id": "tarangire", "start_slot": 10, "end_slot": 12, "booker_name": " ",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown room", func(t *testing.T) {
		f := newAPIFixture(t, config.APIConfig{})
		rec := f.do(http.MethodPost, "/api/v1/bookings", map[string]any{
			"room_id": "mikumi", "start_slot": 10, "end_slot": 12, "booker_name": "Amina",
		}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleCancelBooking(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		f := newAPIFixture(t, config.APIConfig{})
		f.source.On("DeleteEvent", mock.Anything, "room-tarangire@example.org", "remote-1").Return(nil)

		rec := f.do(http.MethodPost, "/api/v1/bookings/cancel", map[string]any{
			"room_id": "tarangire", "head_slot": 4, "requester": "amina@example.org",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, f.holder.Current().Grid.RangeFree("tarangire", 4, 6))
	})

	t.Run("forbidden", func(t *testing.T) {
		f := newAPIFixture(t, config.APIConfig{})
		rec := f.do(http.MethodPost, "/api/v1/bookings/cancel", map[string]any{
			"room_id": "tarangire", "head_slot": 4, "requester": "intruder@example.org",
		}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("continuation slot", func(t *testing.T) {
		f := newAPIFixture(t, config.APIConfig{})
		rec := f.do(http.MethodPost, "/api/v1/bookings/cancel", map[string]any{
			"room_id": "tarangire", "head_slot": 5,
		}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandleExport(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})

	rec := f.do(http.MethodGet, "/api/v1/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "grid_2026-03-16.xlsx")
	assert.NotZero(t, rec.Body.Len())
}

func authedConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 8080},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "reader-key", Extra: "reader-extra", Name: "dashboard", Permissions: []string{permReadGrid}},
				{Key: "admin-key", Extra: "admin-extra", Name: "admin"},
			},
		},
	}
}

func TestAuth(t *testing.T) {
	t.Run("missing headers", func(t *testing.T) {
		f := newAPIFixture(t, authedConfig())
		rec := f.do(http.MethodGet, "/api/v1/grid", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong extra", func(t *testing.T) {
		f := newAPIFixture(t, authedConfig())
		rec := f.do(http.MethodGet, "/api/v1/grid", nil, map[string]string{
			"x-api-key": "reader-key", "x-api-extra": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("read permission suffices for grid", func(t *testing.T) {
		f := newAPIFixture(t, authedConfig())
		rec := f.do(http.MethodGet, "/api/v1/grid", nil, map[string]string{
			"x-api-key": "reader-key", "x-api-extra": "reader-extra",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("reader cannot book", func(t *testing.T) {
		f := newAPIFixture(t, authedConfig())
		rec := f.do(http.MethodPost, "/api/v1/bookings", map[string]any{
			"room_id": "tarangire", "start_slot": 10, "end_slot": 12, "booker_name": "Amina",
		}, map[string]string{"x-api-key": "reader-key", "x-api-extra": "reader-extra"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("empty permissions allow all", func(t *testing.T) {
		f := newAPIFixture(t, authedConfig())
		f.source.On("CreateEvent", mock.Anything, mock.Anything, mock.Anything).Return("remote-2", nil)
		rec := f.do(http.MethodPost, "/api/v1/bookings", map[string]any{
			"room_id": "tarangire", "start_slot": 10, "end_slot": 12, "booker_name": "Amina",
		}, map[string]string{"x-api-key": "admin-key", "x-api-extra": "admin-extra"})
		assert.Equal(t, http.StatusCreated, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	cfg := authedConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.1, Burst: 2}
	f := newAPIFixture(t, cfg)

	headers := map[string]string{"x-api-key": "reader-key", "x-api-extra": "reader-extra"}
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/grid", nil, headers).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/grid", nil, headers).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodGet, "/api/v1/grid", nil, headers).Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{})
	for _, path := range []string{"/api/v1/grid", "/api/v1/rooms", "/api/v1/status", "/api/v1/export"} {
		rec := f.do(http.MethodPost, path, nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
	rec := f.do(http.MethodGet, "/api/v1/refresh", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec = f.do(http.MethodGet, "/api/v1/bookings", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
