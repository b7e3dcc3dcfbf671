package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/repository"
	"OptionPilot/internal/usecase"
	"OptionPilot/pkg/cache"
	xlogger "OptionPilot/pkg/logger"

	"github.com/labstack/echo/v4"
)

type fakePM struct {
	pos       *models.Position
	state     models.PositionState
	enabled   bool
	exitErr   error
	exits     []string
	resumed   int
	resumeErr error
}

func (f *fakePM) Position() (models.Position, bool) {
	if f.pos == nil {
		return models.Position{}, false
	}
	return *f.pos, true
}
func (f *fakePM) State() models.PositionState { return f.state }
func (f *fakePM) Daily() models.DailyStats     { return models.DailyStats{Day: "2024-10-10", Trades: 2} }
func (f *fakePM) ForceExit(_ context.Context, reason string) error {
	f.exits = append(f.exits, reason)
	if f.exitErr != nil {
		return f.exitErr
	}
	if f.pos == nil {
		return usecase.ErrNoPosition
	}
	f.pos = nil
	f.state = models.StateFlat
	return nil
}
func (f *fakePM) Resume(context.Context) error {
	f.resumed++
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.state = models.StateFlat
	return nil
}
func (f *fakePM) SetTradingEnabled(v bool) { f.enabled = v }
func (f *fakePM) TradingEnabled() bool     { return f.enabled }

type fakeStatus struct{ snap models.StatusSnapshot }

func (f fakeStatus) Snapshot() models.StatusSnapshot { return f.snap }

type fakeTrades struct {
	rows  []models.TradeRecord
	limit int
	err   error
}

func (f *fakeTrades) Recent(_ context.Context, limit int) ([]models.TradeRecord, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[:min(limit, len(f.rows))], nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type harness struct {
	e      *echo.Echo
	pm     *fakePM
	trades *fakeTrades
	alerts *repository.CacheAlertStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	h := &harness{
		e:      echo.New(),
		pm:     &fakePM{state: models.StateFlat, enabled: true},
		trades: &fakeTrades{},
		alerts: repository.NewCacheAlertStore(mc),
	}
	status := fakeStatus{snap: models.StatusSnapshot{Connection: "connected", Mode: "paper", IndexPrice: 25012.5}}
	NewEngineHandler(xlogger.NewNop(), h.pm, status, h.trades, h.alerts, nil).RegisterRoutes(h.e)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) envelope {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	var out envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return out
}

func TestStatusAndPosition(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodGet, "/api/status", "")
	var snap models.StatusSnapshot
	if res.Status != http.StatusOK || json.Unmarshal(res.Data, &snap) != nil || snap.IndexPrice != 25012.5 {
		t.Fatalf("status: %+v", res)
	}

	h.pm.pos = &models.Position{Instrument: models.OptionRef{Symbol: "NIFTY24O1025000CE"}, Quantity: 75}
	h.pm.state = models.StateOpen
	res = h.do(t, http.MethodGet, "/api/position", "")
	var pv positionView
	if err := json.Unmarshal(res.Data, &pv); err != nil {
		t.Fatalf("decode position: %v", err)
	}
	if pv.State != models.StateOpen || pv.Position == nil || pv.Position.Quantity != 75 || pv.Daily.Trades != 2 {
		t.Fatalf("position view: %+v", pv)
	}
}

func TestTradesDefaultsAndValidatesLimit(t *testing.T) {
	h := newHarness(t)
	h.trades.rows = []models.TradeRecord{{TradeID: "a"}, {TradeID: "b"}}

	res := h.do(t, http.MethodGet, "/api/trades", "")
	if res.Status != http.StatusOK || h.trades.limit != 50 {
		t.Fatalf("default limit: status=%d limit=%d", res.Status, h.trades.limit)
	}
	res = h.do(t, http.MethodGet, "/api/trades?limit=1", "")
	var list struct {
		Rows  []models.TradeRecord `json:"rows"`
		Total int64                `json:"total"`
	}
	if err := json.Unmarshal(res.Data, &list); err != nil || list.Total != 1 || list.Rows[0].TradeID != "a" {
		t.Fatalf("list=%+v err=%v", list, err)
	}
	if res := h.do(t, http.MethodGet, "/api/trades?limit=5000", ""); res.Status != http.StatusBadRequest {
		t.Fatalf("limit above cap should be rejected, got %d", res.Status)
	}

	h.trades.err = errors.New("clickhouse down")
	if res := h.do(t, http.MethodGet, "/api/trades", ""); res.Status != http.StatusInternalServerError {
		t.Fatalf("query failure should surface as 500, got %d", res.Status)
	}
}

func TestManualExit(t *testing.T) {
	h := newHarness(t)

	if res := h.do(t, http.MethodPost, "/api/position/exit", ""); res.Status != http.StatusNotFound {
		t.Fatalf("exit while flat: %d", res.Status)
	}
	h.pm.pos = &models.Position{Quantity: 75}
	h.pm.state = models.StateOpen
	if res := h.do(t, http.MethodPost, "/api/position/exit", `{"reason":"Operator"}`); res.Status != http.StatusOK {
		t.Fatalf("exit: %d", res.Status)
	}
	if len(h.pm.exits) != 2 || h.pm.exits[0] != "Manual Exit" || h.pm.exits[1] != "Operator" {
		t.Fatalf("reasons: %v", h.pm.exits)
	}

	h.pm.pos = &models.Position{Quantity: 75}
	h.pm.exitErr = errors.New("Operator: position still open")
	if res := h.do(t, http.MethodPost, "/api/position/exit", ""); res.Status != http.StatusConflict {
		t.Fatalf("unconfirmed exit: %d", res.Status)
	}
}

func TestOperatorCommandsAreRateLimited(t *testing.T) {
	h := newHarness(t)
	var limited bool
	for i := 0; i < 6; i++ {
		if res := h.do(t, http.MethodPost, "/api/trading", `{"enabled":true}`); res.Status == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatalf("expected burst of toggles to be limited")
	}
}

func TestTradingToggle(t *testing.T) {
	h := newHarness(t)
	if res := h.do(t, http.MethodPost, "/api/trading", `{}`); res.Status != http.StatusBadRequest {
		t.Fatalf("missing enabled: %d", res.Status)
	}
	res := h.do(t, http.MethodPost, "/api/trading", `{"enabled":false}`)
	if res.Status != http.StatusOK || h.pm.enabled {
		t.Fatalf("toggle: status=%d enabled=%v", res.Status, h.pm.enabled)
	}
}

func TestAckCriticalAlertResumesHaltedEngine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Date(2024, 10, 10, 5, 0, 0, 0, time.UTC)
	if err := h.alerts.Raise(ctx, models.Alert{Level: models.AlertWarning, Code: "journal_write_failed", CreatedAt: now}); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := h.alerts.Raise(ctx, models.Alert{Level: models.AlertCritical, Code: "exit_failed", CreatedAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("raise: %v", err)
	}
	list, _ := h.alerts.List(ctx)
	critical, warning := list[0], list[1]

	res := h.do(t, http.MethodGet, "/api/alerts", "")
	if res.Status != http.StatusOK || !strings.Contains(string(res.Data), "exit_failed") {
		t.Fatalf("alerts: %+v", res)
	}

	if res := h.do(t, http.MethodPost, "/api/alerts/not-a-uuid/ack", ""); res.Status != http.StatusBadRequest {
		t.Fatalf("bad id: %d", res.Status)
	}
	if res := h.do(t, http.MethodPost, "/api/alerts/6f1c1f0e-8d5e-4c43-9d47-1a2b3c4d5e6f/ack", ""); res.Status != http.StatusNotFound {
		t.Fatalf("unknown id: %d", res.Status)
	}

	h.pm.state = models.StateHalted
	if res := h.do(t, http.MethodPost, "/api/alerts/"+warning.ID+"/ack", ""); res.Status != http.StatusOK || h.pm.resumed != 0 {
		t.Fatalf("warning ack should not resume: status=%d resumed=%d", res.Status, h.pm.resumed)
	}

	h.pm.resumeErr = errors.New("resume: broker positions unavailable")
	if res := h.do(t, http.MethodPost, "/api/alerts/"+critical.ID+"/ack", ""); res.Status != http.StatusConflict {
		t.Fatalf("failed resume: %d", res.Status)
	}
	h.pm.resumeErr = nil
	res = h.do(t, http.MethodPost, "/api/alerts/"+critical.ID+"/ack", "")
	var a models.Alert
	if err := json.Unmarshal(res.Data, &a); err != nil || !a.Acked {
		t.Fatalf("ack: %+v err=%v", res, err)
	}
	if h.pm.resumed != 2 || h.pm.State() != models.StateFlat {
		t.Fatalf("resume calls=%d state=%s", h.pm.resumed, h.pm.State())
	}
}
