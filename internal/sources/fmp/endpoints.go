// Package fmp describes the Financial Modeling Prep stable API: which path
// serves each dataset, the query parameters it takes, and how its rows map onto
// canonical records.
package fmp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mkoziy/finsync/internal/fetch"
	"github.com/mkoziy/finsync/internal/models"
	"github.com/mkoziy/finsync/internal/transform"
)

// Provider is the provider name used for config lookup and provenance.
const Provider = "fmp"

// DefaultBaseURL is the FMP stable API root.
const DefaultBaseURL = "https://financialmodelingprep.com/stable"

// Dataset names one synchronized record family.
type Dataset string

const (
	DatasetPrices    Dataset = "prices"
	DatasetIncome    Dataset = "income"
	DatasetBalance   Dataset = "balance"
	DatasetCashFlow  Dataset = "cashflow"
	DatasetEstimates Dataset = "estimates"
	DatasetSurprises Dataset = "surprises"
	DatasetGrades    Dataset = "grades"

	DatasetIncomeAnnual    Dataset = "income_annual"
	DatasetBalanceAnnual   Dataset = "balance_annual"
	DatasetCashFlowAnnual  Dataset = "cashflow_annual"
	DatasetEstimatesAnnual Dataset = "estimates_annual"
	DatasetConsensus       Dataset = "consensus"
	DatasetPriceTargets    Dataset = "price_targets"
)

// Endpoint binds a dataset to its provider path and mapping table.
type Endpoint struct {
	Dataset Dataset
	Path    string
	Table   string
	// Daily datasets have one record per trading day and are gap-detected
	// against the calendar. The rest refresh by age.
	Daily bool
	// Period is requested from the provider and fills records that omit it.
	Period models.Period
	Limit  int
	// Window sends from/to instead of relying on Limit.
	Window bool
	Schema transform.Schema
}

// Params builds the query for one symbol. The API key is added by the fetch client.
func (e Endpoint) Params(symbol string, from, to time.Time) url.Values {
	q := url.Values{}
	q.Set("symbol", models.NormalizeTicker(symbol))
	if e.Window {
		if !from.IsZero() {
			q.Set("from", from.Format(models.DateLayout))
		}
		if !to.IsZero() {
			q.Set("to", to.Format(models.DateLayout))
		}
	}
	switch e.Period {
	case models.PeriodQuarter:
		q.Set("period", "quarter")
	case models.PeriodFY:
		q.Set("period", "annual")
	}
	if e.Limit > 0 {
		q.Set("limit", strconv.Itoa(e.Limit))
	}
	return q
}

// Request builds the fetch request for one symbol and window.
func (e Endpoint) Request(symbol string, from, to time.Time) fetch.Request {
	return fetch.Request{
		Entity:  models.NormalizeTicker(symbol),
		Dataset: string(e.Dataset),
		Path:    e.Path,
		Params:  e.Params(symbol, from, to),
	}
}

// Provenance returns the transform metadata for a response fetched at t.
func (e Endpoint) Provenance(symbol string, t time.Time) transform.Provenance {
	return transform.Provenance{
		Source:    string(models.SourceFMP),
		FetchedAt: t,
		Entity:    models.NormalizeTicker(symbol),
		Period:    e.Period,
	}
}

// StoredPeriods lists the period labels rows of this endpoint carry once
// stored, so quarterly and annual variants sharing a table stay apart. Nil
// when the dataset has no period.
func (e Endpoint) StoredPeriods() []models.Period {
	switch e.Period {
	case models.PeriodQuarter:
		return []models.Period{models.PeriodQ1, models.PeriodQ2, models.PeriodQ3, models.PeriodQ4, models.PeriodQuarter}
	case models.PeriodFY:
		return []models.Period{models.PeriodFY}
	}
	return nil
}

// TaskName is the audit task name for symbol, e.g. "prices_AAPL".
func (e Endpoint) TaskName(symbol string) string {
	return string(e.Dataset) + "_" + models.NormalizeTicker(symbol)
}

var endpoints = []Endpoint{
	{Dataset: DatasetPrices, Path: "historical-price-eod/full", Table: models.TableStockPrices, Daily: true, Window: true, Schema: PriceSchema},
	{Dataset: DatasetIncome, Path: "income-statement", Table: models.TableIncomeStatements, Period: models.PeriodQuarter, Limit: 20, Schema: IncomeSchema},
	{Dataset: DatasetBalance, Path: "balance-sheet-statement", Table: models.TableBalanceSheets, Period: models.PeriodQuarter, Limit: 20, Schema: BalanceSchema},
	{Dataset: DatasetCashFlow, Path: "cash-flow-statement", Table: models.TableCashFlowStatements, Period: models.PeriodQuarter, Limit: 20, Schema: CashFlowSchema},
	{Dataset: DatasetEstimates, Path: "analyst-estimates", Table: models.TableAnalystEstimates, Period: models.PeriodQuarter, Limit: 8, Schema: EstimateSchema},
	{Dataset: DatasetSurprises, Path: "earnings", Table: models.TableEarningsSurprises, Schema: SurpriseSchema},
	{Dataset: DatasetGrades, Path: "grades", Table: models.TableAnalystGrades, Schema: GradeSchema},

	// Annual variants share their quarterly table; rows are told apart by period.
	{Dataset: DatasetIncomeAnnual, Path: "income-statement", Table: models.TableIncomeStatements, Period: models.PeriodFY, Limit: 5, Schema: IncomeSchema},
	{Dataset: DatasetBalanceAnnual, Path: "balance-sheet-statement", Table: models.TableBalanceSheets, Period: models.PeriodFY, Limit: 5, Schema: BalanceSchema},
	{Dataset: DatasetCashFlowAnnual, Path: "cash-flow-statement", Table: models.TableCashFlowStatements, Period: models.PeriodFY, Limit: 5, Schema: CashFlowSchema},
	{Dataset: DatasetEstimatesAnnual, Path: "analyst-estimates", Table: models.TableAnalystEstimates, Period: models.PeriodFY, Limit: 5, Schema: EstimateSchema},

	{Dataset: DatasetConsensus, Path: "grades-consensus", Table: models.TableAnalystConsensus, Schema: ConsensusSchema},
	{Dataset: DatasetPriceTargets, Path: "price-target-consensus", Table: models.TablePriceTargets, Schema: PriceTargetSchema},
}

// Endpoints lists every dataset in sync order.
func Endpoints() []Endpoint {
	return append([]Endpoint(nil), endpoints...)
}

// Lookup finds an endpoint by dataset name.
func Lookup(name string) (Endpoint, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, e := range endpoints {
		if string(e.Dataset) == name {
			return e, true
		}
	}
	return Endpoint{}, false
}

// Select resolves dataset names, keeping sync order and dropping duplicates.
// No names selects everything; "all" does too.
func Select(names []string) ([]Endpoint, error) {
	want := make(map[Dataset]bool)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if n == "all" {
			return Endpoints(), nil
		}
		e, ok := Lookup(n)
		if !ok {
			return nil, fmt.Errorf("unknown dataset %q", n)
		}
		want[e.Dataset] = true
	}
	if len(want) == 0 {
		return Endpoints(), nil
	}
	var out []Endpoint
	for _, e := range endpoints {
		if want[e.Dataset] {
			out = append(out, e)
		}
	}
	return out, nil
}

// Names lists the dataset names of eps.
func Names(eps []Endpoint) []string {
	out := make([]string, len(eps))
	for i, e := range eps {
		out[i] = string(e.Dataset)
	}
	return out
}
