package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/chart"
	"dollarnow/internal/history"
	"dollarnow/internal/money"
	"dollarnow/internal/notify"
	"dollarnow/internal/quote"
	"dollarnow/internal/version"
)

const maxChartSide = 4000

// QuoteView is the quote as the page displays it.
type QuoteView struct {
	Available bool        `json:"available"`
	Value     json.Number `json:"value,omitempty"`
	Formatted string      `json:"formatted,omitempty"`
	Change    json.Number `json:"change,omitempty"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
	Trend     string      `json:"trend,omitempty"`
	Converted string      `json:"converted,omitempty"`
}

// View builds the display form of q, including trend and converted preview.
func (s *Server) View(q quote.Quote) QuoteView {
	if q.IsZero() {
		return QuoteView{}
	}
	ts := q.Timestamp
	v := QuoteView{
		Available: true,
		Value:     json.Number(q.Value.String()),
		Formatted: money.BRL(q.Value, 3),
		Change:    json.Number(q.ChangePct.String()),
		Timestamp: &ts,
	}

	_, previous := s.page.Quote()
	if !previous.IsZero() {
		switch q.Value.Cmp(previous.Value) {
		case 1:
			v.Trend = "up"
		case -1:
			v.Trend = "down"
		default:
			v.Trend = "flat"
		}
	}

	if amount, ok := s.page.Conversion(); ok {
		v.Converted = money.BRL(money.Convert(amount, q.Value.Sub(s.opts.PreviewSpread)), 2)
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, http.StatusOK, map[string]any{
		"ok":       true,
		"version":  version.Version,
		"sessions": s.hub.Sessions(),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, _ *http.Request) {
	current, _ := s.page.Quote()
	jsonOK(w, http.StatusOK, s.View(current))
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.page.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, http.StatusOK, alert.Records(s.page.Rules()))
}

func (s *Server) handleAddAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type  string      `json:"type"`
		Value json.Number `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	direction, err := alert.ParseDirection(body.Type)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	threshold, err := decimal.NewFromString(body.Value.String())
	if err != nil {
		jsonErr(w, http.StatusBadRequest, alert.ErrInvalidThreshold.Error())
		return
	}
	rule, err := s.page.AddRule(direction, threshold)
	switch {
	case errors.Is(err, alert.ErrInvalidThreshold), errors.Is(err, alert.ErrInvalidDirection):
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("add alert")
		jsonErr(w, http.StatusInternalServerError, "could not save alert")
		return
	}
	jsonOK(w, http.StatusCreated, rule.ToRecord())
}

func (s *Server) handleRemoveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	removed, err := s.page.RemoveRule(id)
	if err != nil {
		s.logger.Error().Err(err).Int64("rule_id", id).Msg("remove alert")
		jsonErr(w, http.StatusInternalServerError, "could not save alerts")
		return
	}
	if !removed {
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetConversion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value json.Number `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	amount, err := decimal.NewFromString(body.Value.String())
	if err != nil || !amount.IsPositive() {
		jsonErr(w, http.StatusBadRequest, "conversion amount must be greater than zero")
		return
	}
	if err := s.page.SetConversion(amount); err != nil {
		s.logger.Error().Err(err).Msg("set conversion")
		jsonErr(w, http.StatusInternalServerError, "could not save conversion")
		return
	}
	current, _ := s.page.Quote()
	jsonOK(w, http.StatusOK, map[string]any{
		"value": json.Number(amount.String()),
		"quote": s.View(current),
	})
}

func (s *Server) handleClearConversion(w http.ResponseWriter, _ *http.Request) {
	if err := s.page.ClearConversion(); err != nil {
		s.logger.Error().Err(err).Msg("clear conversion")
		jsonErr(w, http.StatusInternalServerError, "could not clear conversion")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	err := s.page.TestNotify(r.Context())
	switch {
	case errors.Is(err, notify.ErrPermissionDenied):
		jsonErr(w, http.StatusForbidden, "Permissão de notificação negada")
	case errors.Is(err, ErrNoSessions):
		jsonErr(w, http.StatusConflict, "no page session attached")
	case err != nil:
		s.logger.Warn().Err(err).Msg("test notification")
		jsonErr(w, http.StatusBadGateway, "notification failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, http.StatusOK, s.page.History())
}

func (s *Server) handleHistoryCSV(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="usd-brl-history.csv"`)
	if err := history.WriteCSV(w, s.page.History()); err != nil {
		s.logger.Warn().Err(err).Msg("write history csv")
	}
}

func (s *Server) chartSize(r *http.Request) (int, int) {
	return queryInt(r, "w", s.opts.ChartWidth, maxChartSide), queryInt(r, "h", s.opts.ChartHeight, maxChartSide)
}

func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	width, height := s.chartSize(r)
	hovered := chart.NoMatch
	if raw := r.URL.Query().Get("hover"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			hovered = v
		}
	}

	var buf bytes.Buffer
	if _, err := s.renderer.RenderPNG(&buf, s.page.History(), width, height, hovered); err != nil {
		s.logger.Error().Err(err).Msg("render chart")
		jsonErr(w, http.StatusInternalServerError, "could not render chart")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Chart-Compact", strconv.FormatBool(s.renderer.Compact(width)))
	_, _ = w.Write(buf.Bytes())
}

type hitRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

type hitResponse struct {
	Index     int        `json:"index"`
	Value     string     `json:"value,omitempty"`
	Formatted string     `json:"formatted,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (s *Server) handleChartHit(w http.ResponseWriter, r *http.Request) {
	var req hitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Width <= 0 {
		req.Width = s.opts.ChartWidth
	}
	if req.Height <= 0 {
		req.Height = s.opts.ChartHeight
	}

	entries := s.page.History()
	points := s.renderer.Points(entries, req.Width, req.Height)
	idx := chart.HitTest(points, req.X, req.Y, s.renderer.Compact(req.Width))
	if idx == chart.NoMatch || idx >= len(entries) {
		jsonOK(w, http.StatusOK, hitResponse{Index: chart.NoMatch})
		return
	}
	e := entries[idx]
	ts := e.Timestamp
	jsonOK(w, http.StatusOK, hitResponse{
		Index:     idx,
		Value:     e.Value.String(),
		Formatted: money.BRL(e.Value, 3),
		Timestamp: &ts,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	width, height := s.chartSize(r)
	var buf bytes.Buffer
	err := history.WriteReportPNG(&buf, s.page.History(), width, height)
	switch {
	case errors.Is(err, history.ErrTooFewEntries):
		jsonErr(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("render report")
		jsonErr(w, http.StatusInternalServerError, "could not render report")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
