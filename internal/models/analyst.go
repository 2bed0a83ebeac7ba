package models

import (
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const (
	TableAnalystEstimates  = "analyst_estimates"
	TableEarningsSurprises = "earnings_surprises"
	TableAnalystGrades     = "analyst_grades"
	TableAnalystConsensus  = "analyst_consensus"
	TablePriceTargets      = "price_target_consensus"
)

// Estimates are nullable: a missing consensus is not a zero consensus.

// AnalystEstimate is the consensus forecast for one fiscal period.
type AnalystEstimate struct {
	bun.BaseModel `bun:"table:analyst_estimates,alias:ae"`

	ID                 int64     `bun:"id,pk,autoincrement" json:"id"`
	Ticker             string    `bun:"ticker,notnull,unique:uq_analyst_estimates_key" json:"ticker"`
	Date               time.Time `bun:"date,type:date,notnull,unique:uq_analyst_estimates_key" json:"date"`
	Period             Period    `bun:"period,notnull,unique:uq_analyst_estimates_key" json:"period"`
	RevenueLow         *float64  `bun:"revenue_low" json:"revenue_low,omitempty"`
	RevenueAvg         *float64  `bun:"revenue_avg" json:"revenue_avg,omitempty"`
	RevenueHigh        *float64  `bun:"revenue_high" json:"revenue_high,omitempty"`
	EPSLow             *float64  `bun:"eps_low" json:"eps_low,omitempty"`
	EPSAvg             *float64  `bun:"eps_avg" json:"eps_avg,omitempty"`
	EPSHigh            *float64  `bun:"eps_high" json:"eps_high,omitempty"`
	EBITAvg            *float64  `bun:"ebit_avg" json:"ebit_avg,omitempty"`
	NetIncomeAvg       *float64  `bun:"net_income_avg" json:"net_income_avg,omitempty"`
	AnalystsRevenue    *int64    `bun:"analysts_revenue" json:"analysts_revenue,omitempty"`
	AnalystsEPS        *int64    `bun:"analysts_eps" json:"analysts_eps,omitempty"`
	ForecastDispersion *float64  `bun:"forecast_dispersion" json:"forecast_dispersion,omitempty"`
	ActualEPS          *float64  `bun:"actual_eps" json:"actual_eps,omitempty"`
	Source             string    `bun:"source,notnull" json:"source"`
	FetchedAt          time.Time `bun:"fetched_at,notnull" json:"fetched_at"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

func (e *AnalystEstimate) NaturalKey() NaturalKey {
	return NaturalKey{Table: TableAnalystEstimates, Ticker: e.Ticker, Date: dateKey(e.Date), Period: string(e.Period)}
}

func (e *AnalystEstimate) ConflictColumns() []string { return []string{"ticker", "date", "period"} }

func (e *AnalystEstimate) Validate() error {
	return validatePeriodic(e.Ticker, e.Date, e.Period)
}

// HighDispersion reports analyst disagreement above the threshold.
func (e *AnalystEstimate) HighDispersion(threshold float64) bool {
	return e.ForecastDispersion != nil && *e.ForecastDispersion > threshold
}

// EarningsSurprise compares reported results to the consensus on the report date.
type EarningsSurprise struct {
	bun.BaseModel `bun:"table:earnings_surprises,alias:es"`

	ID               int64     `bun:"id,pk,autoincrement" json:"id"`
	Ticker           string    `bun:"ticker,notnull,unique:uq_earnings_surprises_key" json:"ticker"`
	Date             time.Time `bun:"date,type:date,notnull,unique:uq_earnings_surprises_key" json:"date"`
	EPSActual        *float64  `bun:"eps_actual" json:"eps_actual,omitempty"`
	EPSEstimated     *float64  `bun:"eps_estimated" json:"eps_estimated,omitempty"`
	RevenueActual    *float64  `bun:"revenue_actual" json:"revenue_actual,omitempty"`
	RevenueEstimated *float64  `bun:"revenue_estimated" json:"revenue_estimated,omitempty"`
	SurprisePercent  *float64  `bun:"surprise_percent" json:"surprise_percent,omitempty"`
	Source           string    `bun:"source,notnull" json:"source"`
	FetchedAt        time.Time `bun:"fetched_at,notnull" json:"fetched_at"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

func (e *EarningsSurprise) NaturalKey() NaturalKey {
	return NaturalKey{Table: TableEarningsSurprises, Ticker: e.Ticker, Date: dateKey(e.Date)}
}

func (e *EarningsSurprise) ConflictColumns() []string { return []string{"ticker", "date"} }

func (e *EarningsSurprise) Validate() error {
	if e.Ticker == "" {
		return errors.New("ticker is required")
	}
	if e.Date.IsZero() {
		return errors.New("date is required")
	}
	return nil
}

// Beat reports whether actual EPS exceeded the estimate. Unknown when either is missing.
func (e *EarningsSurprise) Beat() (beat bool, known bool) {
	if e.EPSActual == nil || e.EPSEstimated == nil {
		return false, false
	}
	return *e.EPSActual > *e.EPSEstimated, true
}

// GradeAction classifies an analyst grade change.
type GradeAction string

const (
	ActionUpgrade   GradeAction = "Upgrade"
	ActionDowngrade GradeAction = "Downgrade"
	ActionInitiate  GradeAction = "Initiate"
	ActionMaintain  GradeAction = "Maintain"
)

// NormalizeAction maps free-form provider actions onto GradeAction.
// Unrecognized actions pass through trimmed.
func NormalizeAction(action string) GradeAction {
	a := strings.ToLower(strings.TrimSpace(action))
	switch {
	case a == "":
		return ""
	case strings.Contains(a, "upgrade"):
		return ActionUpgrade
	case strings.Contains(a, "downgrade"):
		return ActionDowngrade
	case strings.Contains(a, "initiate"):
		return ActionInitiate
	case strings.Contains(a, "maintain"), strings.Contains(a, "reiterate"):
		return ActionMaintain
	default:
		return GradeAction(strings.TrimSpace(action))
	}
}

// AnalystGrade is one grade change published by a research firm.
type AnalystGrade struct {
	bun.BaseModel `bun:"table:analyst_grades,alias:ag"`

	ID             int64       `bun:"id,pk,autoincrement" json:"id"`
	Ticker         string      `bun:"ticker,notnull,unique:uq_analyst_grades_key" json:"ticker"`
	Date           time.Time   `bun:"date,type:date,notnull,unique:uq_analyst_grades_key" json:"date"`
	GradingCompany string      `bun:"grading_company,notnull,unique:uq_analyst_grades_key" json:"grading_company"`
	PreviousGrade  string      `bun:"previous_grade" json:"previous_grade,omitempty"`
	NewGrade       string      `bun:"new_grade" json:"new_grade,omitempty"`
	Action         GradeAction `bun:"action" json:"action,omitempty"`
	Source         string      `bun:"source,notnull" json:"source"`
	FetchedAt      time.Time   `bun:"fetched_at,notnull" json:"fetched_at"`
	CreatedAt      time.Time   `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time   `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

func (g *AnalystGrade) NaturalKey() NaturalKey {
	return NaturalKey{Table: TableAnalystGrades, Ticker: g.Ticker, Date: dateKey(g.Date), Extra: g.GradingCompany}
}

func (g *AnalystGrade) ConflictColumns() []string {
	return []string{"ticker", "date", "grading_company"}
}

func (g *AnalystGrade) Validate() error {
	if g.Ticker == "" {
		return errors.New("ticker is required")
	}
	if g.Date.IsZero() {
		return errors.New("date is required")
	}
	if g.GradingCompany == "" {
		return errors.New("grading company is required")
	}
	return nil
}

// AnalystConsensus is the rating distribution across covering analysts as of
// Date, the day it was fetched.
type AnalystConsensus struct {
	bun.BaseModel `bun:"table:analyst_consensus,alias:ac"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	Ticker     string    `bun:"ticker,notnull,unique:uq_analyst_consensus_key" json:"ticker"`
	Date       time.Time `bun:"date,type:date,notnull,unique:uq_analyst_consensus_key" json:"date"`
	StrongBuy  *int64    `bun:"strong_buy" json:"strong_buy,omitempty"`
	Buy        *int64    `bun:"buy" json:"buy,omitempty"`
	Hold       *int64    `bun:"hold" json:"hold,omitempty"`
	Sell       *int64    `bun:"sell" json:"sell,omitempty"`
	StrongSell *int64    `bun:"strong_sell" json:"strong_sell,omitempty"`
	Consensus  string    `bun:"consensus" json:"consensus,omitempty"`
	Source     string    `bun:"source,notnull" json:"source"`
	FetchedAt  time.Time `bun:"fetched_at,notnull" json:"fetched_at"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

func (c *AnalystConsensus) NaturalKey() NaturalKey {
	return NaturalKey{Table: TableAnalystConsensus, Ticker: c.Ticker, Date: dateKey(c.Date)}
}

func (c *AnalystConsensus) ConflictColumns() []string { return []string{"ticker", "date"} }

func (c *AnalystConsensus) Validate() error {
	if c.Ticker == "" {
		return errors.New("ticker is required")
	}
	if c.Date.IsZero() {
		return errors.New("date is required")
	}
	return nil
}

// Ratings is the number of analysts counted in the distribution.
func (c *AnalystConsensus) Ratings() int64 {
	var n int64
	for _, v := range []*int64{c.StrongBuy, c.Buy, c.Hold, c.Sell, c.StrongSell} {
		if v != nil {
			n += *v
		}
	}
	return n
}

// PriceTargetConsensus summarizes published price targets as of Date.
type PriceTargetConsensus struct {
	bun.BaseModel `bun:"table:price_target_consensus,alias:ptc"`

	ID              int64     `bun:"id,pk,autoincrement" json:"id"`
	Ticker          string    `bun:"ticker,notnull,unique:uq_price_target_consensus_key" json:"ticker"`
	Date            time.Time `bun:"date,type:date,notnull,unique:uq_price_target_consensus_key" json:"date"`
	TargetHigh      *float64  `bun:"target_high" json:"target_high,omitempty"`
	TargetLow       *float64  `bun:"target_low" json:"target_low,omitempty"`
	TargetConsensus *float64  `bun:"target_consensus" json:"target_consensus,omitempty"`
	TargetMedian    *float64  `bun:"target_median" json:"target_median,omitempty"`
	// TargetSpread is (high - low) / consensus.
	TargetSpread *float64  `bun:"target_spread" json:"target_spread,omitempty"`
	Source       string    `bun:"source,notnull" json:"source"`
	FetchedAt    time.Time `bun:"fetched_at,notnull" json:"fetched_at"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

func (p *PriceTargetConsensus) NaturalKey() NaturalKey {
	return NaturalKey{Table: TablePriceTargets, Ticker: p.Ticker, Date: dateKey(p.Date)}
}

func (p *PriceTargetConsensus) ConflictColumns() []string { return []string{"ticker", "date"} }

func (p *PriceTargetConsensus) Validate() error {
	if p.Ticker == "" {
		return errors.New("ticker is required")
	}
	if p.Date.IsZero() {
		return errors.New("date is required")
	}
	return nil
}
