package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/bridge"
	"dollarnow/internal/chart"
	"dollarnow/internal/history"
	"dollarnow/internal/metrics"
	"dollarnow/internal/notify"
	"dollarnow/internal/quote"
)

type fakePage struct {
	engine  *alert.Engine
	history *history.Buffer

	mu        sync.Mutex
	current   quote.Quote
	previous  quote.Quote
	amount    decimal.Decimal
	hasAmount bool
	visible   bool
	testErr   error
	clicked   []string
	attached  atomic.Int32
	detached  atomic.Int32
	refreshed atomic.Int32
}

func newFakePage() *fakePage {
	return &fakePage{engine: alert.NewEngine(nil), history: history.NewBuffer()}
}

func (p *fakePage) Attach()  { p.attached.Add(1) }
func (p *fakePage) Detach()  { p.detached.Add(1) }
func (p *fakePage) Refresh() { p.refreshed.Add(1) }
func (p *fakePage) SetVisible(v bool) {
	p.mu.Lock()
	p.visible = v
	p.mu.Unlock()
}

func (p *fakePage) ClickNotification(tag string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicked = append(p.clicked, tag)
	return true
}

func (p *fakePage) Quote() (quote.Quote, quote.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.previous
}

func (p *fakePage) setQuote(v string) {
	q := quote.Quote{Value: decimal.RequireFromString(v), Timestamp: time.Now()}
	p.mu.Lock()
	p.previous, p.current = p.current, q
	p.mu.Unlock()
	p.history.Push(history.FromQuote(q))
}

func (p *fakePage) History() []history.Entry { return p.history.Snapshot() }
func (p *fakePage) Rules() []alert.Rule      { return p.engine.Rules() }

func (p *fakePage) AddRule(d alert.Direction, t decimal.Decimal) (alert.Rule, error) {
	return p.engine.Add(d, t)
}

func (p *fakePage) RemoveRule(id int64) (bool, error) { return p.engine.Remove(id), nil }

func (p *fakePage) Conversion() (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.amount, p.hasAmount
}

func (p *fakePage) SetConversion(amount decimal.Decimal) error {
	p.mu.Lock()
	p.amount, p.hasAmount = amount, true
	p.mu.Unlock()
	return nil
}

func (p *fakePage) ClearConversion() error {
	p.mu.Lock()
	p.amount, p.hasAmount = decimal.Zero, false
	p.mu.Unlock()
	return nil
}

func (p *fakePage) TestNotify(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.testErr
}

func newTestServer(t *testing.T, page *fakePage) (*Server, *Hub) {
	t.Helper()
	hub := NewHub(nil, zerolog.Nop())
	srv := New(Options{
		ChartWidth:    400,
		ChartHeight:   200,
		PreviewSpread: decimal.RequireFromString("0.02"),
	}, page, hub, chart.NewRenderer(chart.DefaultBreakpoint), metrics.New(), zerolog.Nop())
	return srv, hub
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQuoteEndpoint(t *testing.T) {
	page := newFakePage()
	srv, _ := newTestServer(t, page)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/quote", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"available":false`) {
		t.Fatalf("expected unavailable quote, got %d %s", rec.Code, rec.Body.String())
	}

	page.setQuote("5.40")
	page.setQuote("5.42")
	if rec := do(t, h, http.MethodPut, "/api/conversion", `{"value": 100}`); rec.Code != http.StatusOK {
		t.Fatalf("set conversion: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/quote", "")
	var view QuoteView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.Available || view.Value.String() != "5.42" {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Trend != "up" {
		t.Fatalf("expected trend up, got %q", view.Trend)
	}
	if view.Converted != "R$ 540,00" {
		t.Fatalf("expected converted R$ 540,00, got %q", view.Converted)
	}
}

func TestConversionValidation(t *testing.T) {
	page := newFakePage()
	srv, _ := newTestServer(t, page)
	h := srv.Handler()

	for _, body := range []string{`{"value": 0}`, `{"value": -3}`, `{"value": "abc"}`, `nope`} {
		if rec := do(t, h, http.MethodPut, "/api/conversion", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodDelete, "/api/conversion", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("clear: expected 204, got %d", rec.Code)
	}
}

func TestAlertsCRUD(t *testing.T) {
	page := newFakePage()
	srv, _ := newTestServer(t, page)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/alerts", `{"type":"above","value":5.5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
	}
	var created alert.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Type != alert.Above || !created.Value.Equal(decimal.RequireFromString("5.5")) {
		t.Fatalf("unexpected record %+v", created)
	}

	for _, body := range []string{`{"type":"sideways","value":5}`, `{"type":"below","value":0}`, `{"type":"below"}`} {
		if rec := do(t, h, http.MethodPost, "/api/alerts", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}

	rec = do(t, h, http.MethodGet, "/api/alerts", "")
	var list []alert.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("expected one alert, got %s (%v)", rec.Body.String(), err)
	}

	path := "/api/alerts/" + jsonInt(created.ID)
	if rec := do(t, h, http.MethodDelete, path, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, path, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/alerts/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rec.Code)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestTestNotificationStatus(t *testing.T) {
	page := newFakePage()
	srv, _ := newTestServer(t, page)
	h := srv.Handler()

	if rec := do(t, h, http.MethodPost, "/api/notifications/test", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	page.testErr = notify.ErrPermissionDenied
	if rec := do(t, h, http.MethodPost, "/api/notifications/test", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRefreshTriggersPage(t *testing.T) {
	page := newFakePage()
	srv, _ := newTestServer(t, page)
	if rec := do(t, srv.Handler(), http.MethodPost, "/api/quote/refresh", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if page.refreshed.Load() != 1 {
		t.Fatal("refresh not forwarded to the page")
	}
}

func TestChartAndReport(t *testing.T) {
	page := newFakePage()
	srv, _ := newTestServer(t, page)
	h := srv.Handler()

	page.setQuote("5.40")
	if rec := do(t, h, http.MethodGet, "/report.png", ""); rec.Code != http.StatusConflict {
		t.Fatalf("report with one entry: expected 409, got %d", rec.Code)
	}

	page.setQuote("5.50")
	page.setQuote("5.45")

	rec := do(t, h, http.MethodGet, "/chart.png?w=300&h=150&hover=1", "")
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("chart: %d", rec.Code)
	}
	if rec.Header().Get("X-Chart-Compact") != "true" {
		t.Fatalf("300px chart should be compact")
	}

	rec = do(t, h, http.MethodGet, "/report.png", "")
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("report: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/history.csv", "")
	if lines := strings.Count(strings.TrimSpace(rec.Body.String()), "\n"); lines != 3 {
		t.Fatalf("expected header plus 3 rows, got %q", rec.Body.String())
	}
}

func TestChartHit(t *testing.T) {
	page := newFakePage()
	srv, _ := newTestServer(t, page)
	h := srv.Handler()

	page.setQuote("5.00")
	page.setQuote("5.10")
	page.setQuote("5.05")

	points := srv.renderer.Points(page.History(), 800, 300)
	body, _ := json.Marshal(hitRequest{X: points[1].X + 2, Y: points[1].Y - 2, Width: 800, Height: 300})
	rec := do(t, h, http.MethodPost, "/api/chart/hit", string(body))
	var hit hitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &hit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hit.Index != 1 || hit.Value != "5.1" {
		t.Fatalf("expected entry 1, got %+v", hit)
	}

	body, _ = json.Marshal(hitRequest{X: 1, Y: 1, Width: 800, Height: 300})
	rec = do(t, h, http.MethodPost, "/api/chart/hit", string(body))
	if err := json.Unmarshal(rec.Body.Bytes(), &hit); err != nil || hit.Index != chart.NoMatch {
		t.Fatalf("expected no match, got %+v (%v)", hit, err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, newFakePage())
	h := srv.Handler()
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) bridge.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg bridge.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketSession(t *testing.T) {
	page := newFakePage()
	srv, hub := newTestServer(t, page)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if msg := readMessage(t, conn); msg.Type != MsgRequestPermission {
		t.Fatalf("expected permission request, got %s", msg.Type)
	}
	waitFor(t, "attach", func() bool { return page.attached.Load() == 1 })

	send := func(tp bridge.Type, data any) {
		msg, err := bridge.NewMessage(tp, data)
		if err != nil {
			t.Fatal(err)
		}
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(MsgPermission, "granted")
	waitFor(t, "permission", func() bool { return hub.State() == notify.PermissionGranted })

	handle, err := hub.Show(context.Background(), notify.Notification{Title: "t", Body: "b", Tag: "alert-1"})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MsgNotification || !strings.Contains(string(msg.Data), `"tag":"alert-1"`) {
		t.Fatalf("unexpected notification message %s %s", msg.Type, msg.Data)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MsgNotificationClose {
		t.Fatalf("expected close, got %s", msg.Type)
	}

	hub.QuoteUpdated(quote.Quote{Value: decimal.RequireFromString("5.42"), Timestamp: time.Now()})
	if msg := readMessage(t, conn); msg.Type != bridge.QuoteUpdated || !strings.Contains(string(msg.Data), `"formatted":"R$ 5,420"`) {
		t.Fatalf("unexpected quote message %s %s", msg.Type, msg.Data)
	}

	send(MsgVisibility, map[string]bool{"visible": false})
	waitFor(t, "hidden", func() bool {
		page.mu.Lock()
		defer page.mu.Unlock()
		return !page.visible
	})

	send(MsgNotificationClick, map[string]string{"tag": "alert-1"})
	send(bridge.ForceUpdate, nil)
	waitFor(t, "refresh", func() bool { return page.refreshed.Load() == 1 })

	conn.Close()
	waitFor(t, "detach", func() bool { return page.detached.Load() == 1 })
	if hub.Sessions() != 0 {
		t.Fatalf("expected no sessions, got %d", hub.Sessions())
	}
	if _, err := hub.Show(context.Background(), notify.Notification{Tag: "x"}); err != ErrNoSessions {
		t.Fatalf("expected ErrNoSessions, got %v", err)
	}
}

func TestPermissionRequestWithoutSessions(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	state, err := hub.Request(context.Background())
	if err != nil || state != notify.PermissionDefault {
		t.Fatalf("expected default state, got %s %v", state, err)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://dolar.example/"})
	cases := map[string]bool{
		"":                      true,
		"https://dolar.example": true,
		"https://evil.example":  false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if got := check(req); got != want {
			t.Fatalf("origin %q: got %v want %v", origin, got, want)
		}
	}
}
