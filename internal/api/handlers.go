package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mkoziy/finsync/internal/audit"
	"github.com/mkoziy/finsync/internal/models"
	"github.com/mkoziy/finsync/internal/sources/fmp"
	"github.com/mkoziy/finsync/internal/store"
)

const maxLimit = 5000

type rangeFunc func(ctx context.Context, s *store.Store, ticker string, f store.Filter) (any, int, error)

type pointFunc func(ctx context.Context, s *store.Store, ticker, date string, periods []models.Period) (any, error)

func rangeOf[T any](ctx context.Context, s *store.Store, ticker string, f store.Filter) (any, int, error) {
	rows, err := store.Range[T](ctx, s, ticker, f)
	return rows, len(rows), err
}

// badRequest marks errors caused by the request itself.
type badRequest string

func (e badRequest) Error() string { return string(e) }

func pointOf[T any](ctx context.Context, s *store.Store, ticker, date string, periods []models.Period) (any, error) {
	d, err := models.ParseDay(date)
	if err != nil {
		return nil, badRequest(fmt.Sprintf("invalid date %q", date))
	}
	return store.Point[T](ctx, s, ticker, d, periods...)
}

var ranges = map[fmp.Dataset]rangeFunc{
	fmp.DatasetPrices:    rangeOf[models.StockPrice],
	fmp.DatasetIncome:    rangeOf[models.IncomeStatement],
	fmp.DatasetBalance:   rangeOf[models.BalanceSheet],
	fmp.DatasetCashFlow:  rangeOf[models.CashFlowStatement],
	fmp.DatasetEstimates: rangeOf[models.AnalystEstimate],
	fmp.DatasetSurprises: rangeOf[models.EarningsSurprise],
	fmp.DatasetGrades:    rangeOf[models.AnalystGrade],

	fmp.DatasetIncomeAnnual:    rangeOf[models.IncomeStatement],
	fmp.DatasetBalanceAnnual:   rangeOf[models.BalanceSheet],
	fmp.DatasetCashFlowAnnual:  rangeOf[models.CashFlowStatement],
	fmp.DatasetEstimatesAnnual: rangeOf[models.AnalystEstimate],
	fmp.DatasetConsensus:       rangeOf[models.AnalystConsensus],
	fmp.DatasetPriceTargets:    rangeOf[models.PriceTargetConsensus],
}

var points = map[fmp.Dataset]pointFunc{
	fmp.DatasetPrices:    pointOf[models.StockPrice],
	fmp.DatasetIncome:    pointOf[models.IncomeStatement],
	fmp.DatasetBalance:   pointOf[models.BalanceSheet],
	fmp.DatasetCashFlow:  pointOf[models.CashFlowStatement],
	fmp.DatasetEstimates: pointOf[models.AnalystEstimate],
	fmp.DatasetSurprises: pointOf[models.EarningsSurprise],
	fmp.DatasetGrades:    pointOf[models.AnalystGrade],

	fmp.DatasetIncomeAnnual:    pointOf[models.IncomeStatement],
	fmp.DatasetBalanceAnnual:   pointOf[models.BalanceSheet],
	fmp.DatasetCashFlowAnnual:  pointOf[models.CashFlowStatement],
	fmp.DatasetEstimatesAnnual: pointOf[models.AnalystEstimate],
	fmp.DatasetConsensus:       pointOf[models.AnalystConsensus],
	fmp.DatasetPriceTargets:    pointOf[models.PriceTargetConsensus],
}

// ListResponse wraps range reads.
type ListResponse struct {
	Dataset string `json:"dataset"`
	Ticker  string `json:"ticker,omitempty"`
	Count   int    `json:"count"`
	Data    any    `json:"data"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRange serves GET /v1/{dataset}/{ticker}?from=&to=&period=&limit=
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dataset := fmp.Dataset(vars["dataset"])
	ticker := models.NormalizeTicker(vars["ticker"])

	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ep, _ := fmp.Lookup(string(dataset))
	f.Periods = ep.StoredPeriods()
	rows, n, err := ranges[dataset](r.Context(), s.store, ticker, f)
	if err != nil {
		s.logger.WithError(err).WithField("dataset", dataset).Error("range read failed")
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Dataset: string(dataset), Ticker: ticker, Count: n, Data: rows})
}

// handlePoint serves GET /v1/{dataset}/{ticker}/{date}?period=
// Without a period, quarterly and annual datasets only match their own rows.
func (s *Server) handlePoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dataset := fmp.Dataset(vars["dataset"])
	ep, _ := fmp.Lookup(string(dataset))
	periods := ep.StoredPeriods()
	if p := models.NormalizePeriod(r.URL.Query().Get("period")); p != "" {
		periods = []models.Period{p}
	}

	row, err := points[dataset](r.Context(), s.store, vars["ticker"], vars["date"], periods)
	var bad badRequest
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &bad):
		writeError(w, http.StatusBadRequest, bad.Error())
	case err != nil:
		s.logger.WithError(err).WithField("dataset", dataset).Error("point read failed")
		writeError(w, http.StatusInternalServerError, "read failed")
	default:
		writeJSON(w, http.StatusOK, row)
	}
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	ep, _ := fmp.Lookup(mux.Vars(r)["dataset"])
	tickers, err := s.store.Tickers(r.Context(), ep.Table)
	if err != nil {
		s.logger.WithError(err).Error("ticker listing failed")
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Dataset: string(ep.Dataset), Count: len(tickers), Data: tickers})
}

// handleLogs serves GET /v1/sync/logs?entity=&limit=
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var logs []models.SyncLog
	if entity := r.URL.Query().Get("entity"); entity != "" {
		logs, err = s.audit.ForEntity(r.Context(), entity, limit)
	} else {
		logs, err = s.audit.Recent(r.Context(), limit)
	}
	if err != nil {
		s.logger.WithError(err).Error("audit read failed")
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Dataset: "sync_logs", Count: len(logs), Data: logs})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := s.audit.RecentSessions(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("session read failed")
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Dataset: "fetch_sessions", Count: len(sessions), Data: sessions})
}

// SessionResponse is one session with its attempt rows.
type SessionResponse struct {
	Session *models.FetchSession `json:"session"`
	Logs    []models.SyncLog     `json:"logs"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, err := s.audit.SessionSummary(r.Context(), id)
	if errors.Is(err, audit.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("session read failed")
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	logs, err := s.audit.ForSession(r.Context(), id)
	if err != nil {
		s.logger.WithError(err).Error("session logs read failed")
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: session, Logs: logs})
}

func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = models.ParseDay(v); err != nil {
			return f, fmt.Errorf("invalid from date %q", v)
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = models.ParseDay(v); err != nil {
			return f, fmt.Errorf("invalid to date %q", v)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("to %s is before from %s", q.Get("to"), q.Get("from"))
	}
	f.Period = models.NormalizePeriod(q.Get("period"))
	if f.Limit, err = parseLimit(r); err != nil {
		return f, err
	}
	return f, nil
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return min(n, maxLimit), nil
}
