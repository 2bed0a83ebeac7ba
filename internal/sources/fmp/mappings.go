package fmp

import (
	"time"

	"github.com/mkoziy/finsync/internal/models"
	"github.com/mkoziy/finsync/internal/transform"
)

// GradeLookback bounds how far back analyst grades are kept.
const GradeLookback = 2 * 365 * 24 * time.Hour

// Field lists put the current stable name first and older v3 names after it.

var PriceSchema = transform.Schema{
	Name:    "fmp_prices",
	Version: 1,
	Model:   func() models.Record { return &models.StockPrice{} },
	Fields: []transform.Field{
		{Column: "ticker", Sources: []string{"symbol"}, Kind: transform.KindText},
		{Column: "date", Sources: []string{"date"}, Kind: transform.KindDate},
		{Column: "open", Sources: []string{"open"}, Kind: transform.KindTotal},
		{Column: "high", Sources: []string{"high"}, Kind: transform.KindTotal},
		{Column: "low", Sources: []string{"low"}, Kind: transform.KindTotal},
		{Column: "close", Sources: []string{"close"}, Kind: transform.KindTotal},
		{Column: "adj_close", Sources: []string{"adjClose"}, Kind: transform.KindEstimate},
		{Column: "volume", Sources: []string{"volume"}, Kind: transform.KindInteger},
		{Column: "change", Sources: []string{"change"}, Kind: transform.KindEstimate},
		{Column: "change_percent", Sources: []string{"changePercent"}, Kind: transform.KindEstimate},
		{Column: "vwap", Sources: []string{"vwap"}, Kind: transform.KindEstimate},
	},
}

var IncomeSchema = transform.Schema{
	Name:    "fmp_income",
	Version: 1,
	Model:   func() models.Record { return &models.IncomeStatement{} },
	Fields: []transform.Field{
		{Column: "ticker", Sources: []string{"symbol"}, Kind: transform.KindText},
		{Column: "date", Sources: []string{"date"}, Kind: transform.KindDate},
		{Column: "period", Sources: []string{"period"}, Kind: transform.KindPeriod},
		{Column: "fiscal_year", Sources: []string{"fiscalYear", "calendarYear"}, Kind: transform.KindText},
		{Column: "revenue", Sources: []string{"revenue"}, Kind: transform.KindTotal},
		{Column: "cost_of_revenue", Sources: []string{"costOfRevenue"}, Kind: transform.KindTotal},
		{Column: "gross_profit", Sources: []string{"grossProfit"}, Kind: transform.KindTotal},
		{Column: "operating_expenses", Sources: []string{"operatingExpenses"}, Kind: transform.KindTotal},
		{Column: "operating_income", Sources: []string{"operatingIncome"}, Kind: transform.KindTotal},
		{Column: "interest_expense", Sources: []string{"interestExpense"}, Kind: transform.KindTotal},
		{Column: "income_tax_expense", Sources: []string{"incomeTaxExpense"}, Kind: transform.KindTotal},
		{Column: "net_income", Sources: []string{"netIncome"}, Kind: transform.KindTotal},
		{Column: "eps", Sources: []string{"eps"}, Kind: transform.KindTotal},
		{Column: "eps_diluted", Sources: []string{"epsDiluted", "epsdiluted"}, Kind: transform.KindTotal},
		{Column: "ebitda", Sources: []string{"ebitda"}, Kind: transform.KindTotal},
	},
}

var BalanceSchema = transform.Schema{
	Name:    "fmp_balance",
	Version: 1,
	Model:   func() models.Record { return &models.BalanceSheet{} },
	Fields: []transform.Field{
		{Column: "ticker", Sources: []string{"symbol"}, Kind: transform.KindText},
		{Column: "date", Sources: []string{"date"}, Kind: transform.KindDate},
		{Column: "period", Sources: []string{"period"}, Kind: transform.KindPeriod},
		{Column: "fiscal_year", Sources: []string{"fiscalYear", "calendarYear"}, Kind: transform.KindText},
		{Column: "total_assets", Sources: []string{"totalAssets"}, Kind: transform.KindTotal},
		{Column: "total_liabilities", Sources: []string{"totalLiabilities"}, Kind: transform.KindTotal},
		{Column: "total_equity", Sources: []string{"totalStockholdersEquity", "totalEquity"}, Kind: transform.KindTotal},
		{Column: "cash_and_equivalents", Sources: []string{"cashAndCashEquivalents"}, Kind: transform.KindTotal},
		{Column: "short_term_investments", Sources: []string{"shortTermInvestments"}, Kind: transform.KindTotal},
		{Column: "total_debt", Sources: []string{"totalDebt"}, Kind: transform.KindTotal},
		{Column: "long_term_debt", Sources: []string{"longTermDebt"}, Kind: transform.KindTotal},
		{Column: "short_term_debt", Sources: []string{"shortTermDebt"}, Kind: transform.KindTotal},
		{Column: "inventory", Sources: []string{"inventory"}, Kind: transform.KindTotal},
		{Column: "accounts_receivable", Sources: []string{"netReceivables", "accountsReceivables"}, Kind: transform.KindTotal},
		{Column: "accounts_payable", Sources: []string{"accountPayables", "accountsPayable"}, Kind: transform.KindTotal},
		{Column: "retained_earnings", Sources: []string{"retainedEarnings"}, Kind: transform.KindTotal},
	},
}

var CashFlowSchema = transform.Schema{
	Name:    "fmp_cashflow",
	Version: 1,
	Model:   func() models.Record { return &models.CashFlowStatement{} },
	Fields: []transform.Field{
		{Column: "ticker", Sources: []string{"symbol"}, Kind: transform.KindText},
		{Column: "date", Sources: []string{"date"}, Kind: transform.KindDate},
		{Column: "period", Sources: []string{"period"}, Kind: transform.KindPeriod},
		{Column: "fiscal_year", Sources: []string{"fiscalYear", "calendarYear"}, Kind: transform.KindText},
		{Column: "operating_cash_flow", Sources: []string{"operatingCashFlow", "netCashProvidedByOperatingActivities"}, Kind: transform.KindTotal},
		{Column: "investing_cash_flow", Sources: []string{"netCashProvidedByInvestingActivities", "netCashUsedForInvestingActivites"}, Kind: transform.KindTotal},
		{Column: "financing_cash_flow", Sources: []string{"netCashProvidedByFinancingActivities", "netCashUsedProvidedByFinancingActivities"}, Kind: transform.KindTotal},
		{Column: "free_cash_flow", Sources: []string{"freeCashFlow"}, Kind: transform.KindTotal},
		{Column: "capital_expenditure", Sources: []string{"capitalExpenditure"}, Kind: transform.KindTotal},
		{Column: "dividends_paid", Sources: []string{"commonDividendsPaid", "netDividendsPaid", "dividendsPaid"}, Kind: transform.KindTotal},
		{Column: "stock_repurchased", Sources: []string{"commonStockRepurchased"}, Kind: transform.KindTotal},
		{Column: "debt_repayment", Sources: []string{"netDebtIssuance", "debtRepayment"}, Kind: transform.KindTotal},
	},
}

var EstimateSchema = transform.Schema{
	Name:    "fmp_estimates",
	Version: 1,
	Model:   func() models.Record { return &models.AnalystEstimate{} },
	Fields: []transform.Field{
		{Column: "ticker", Sources: []string{"symbol"}, Kind: transform.KindText},
		{Column: "date", Sources: []string{"date"}, Kind: transform.KindDate},
		{Column: "period", Sources: []string{"period"}, Kind: transform.KindPeriod},
		{Column: "revenue_low", Sources: []string{"revenueLow", "estimatedRevenueLow"}, Kind: transform.KindEstimate},
		{Column: "revenue_avg", Sources: []string{"revenueAvg", "estimatedRevenueAvg"}, Kind: transform.KindEstimate},
		{Column: "revenue_high", Sources: []string{"revenueHigh", "estimatedRevenueHigh"}, Kind: transform.KindEstimate},
		{Column: "eps_low", Sources: []string{"epsLow", "estimatedEpsLow"}, Kind: transform.KindEstimate},
		{Column: "eps_avg", Sources: []string{"epsAvg", "estimatedEpsAvg"}, Kind: transform.KindEstimate},
		{Column: "eps_high", Sources: []string{"epsHigh", "estimatedEpsHigh"}, Kind: transform.KindEstimate},
		{Column: "ebit_avg", Sources: []string{"ebitAvg", "estimatedEbitAvg"}, Kind: transform.KindEstimate},
		{Column: "net_income_avg", Sources: []string{"netIncomeAvg", "estimatedNetIncomeAvg"}, Kind: transform.KindEstimate},
		{Column: "analysts_revenue", Sources: []string{"numAnalystsRevenue", "numberAnalystEstimatedRevenue"}, Kind: transform.KindCount},
		{Column: "analysts_eps", Sources: []string{"numAnalystsEps", "numberAnalystsEstimatedEps"}, Kind: transform.KindCount},
		{Column: "actual_eps", Sources: []string{"actualEps"}, Kind: transform.KindEstimate},
	},
	Derive: func(r models.Record) {
		e := r.(*models.AnalystEstimate)
		e.ForecastDispersion = transform.Dispersion(e.EPSHigh, e.EPSLow, e.EPSAvg)
	},
}

var SurpriseSchema = transform.Schema{
	Name:    "fmp_surprises",
	Version: 1,
	Model:   func() models.Record { return &models.EarningsSurprise{} },
	Fields: []transform.Field{
		{Column: "ticker", Sources: []string{"symbol"}, Kind: transform.KindText},
		{Column: "date", Sources: []string{"date"}, Kind: transform.KindDate},
		{Column: "eps_actual", Sources: []string{"epsActual", "actualEarningResult"}, Kind: transform.KindEstimate},
		{Column: "eps_estimated", Sources: []string{"epsEstimated", "estimatedEarning"}, Kind: transform.KindEstimate},
		{Column: "revenue_actual", Sources: []string{"revenueActual"}, Kind: transform.KindEstimate},
		{Column: "revenue_estimated", Sources: []string{"revenueEstimated"}, Kind: transform.KindEstimate},
	},
	Derive: func(r models.Record) {
		s := r.(*models.EarningsSurprise)
		s.SurprisePercent = transform.SurprisePercent(s.EPSActual, s.EPSEstimated)
	},
	// The earnings feed also lists scheduled reports; keep only reported quarters.
	Keep: func(r models.Record, _ transform.Provenance) bool {
		s := r.(*models.EarningsSurprise)
		return s.EPSActual != nil && s.EPSEstimated != nil
	},
}

var GradeSchema = transform.Schema{
	Name:    "fmp_grades",
	Version: 1,
	Model:   func() models.Record { return &models.AnalystGrade{} },
	Fields: []transform.Field{
		{Column: "ticker", Sources: []string{"symbol"}, Kind: transform.KindText},
		{Column: "date", Sources: []string{"date"}, Kind: transform.KindDate},
		{Column: "grading_company", Sources: []string{"gradingCompany"}, Kind: transform.KindText},
		{Column: "previous_grade", Sources: []string{"previousGrade"}, Kind: transform.KindText},
		{Column: "new_grade", Sources: []string{"newGrade"}, Kind: transform.KindText},
		{Column: "action", Sources: []string{"action"}, Kind: transform.KindText},
	},
	Derive: func(r models.Record) {
		g := r.(*models.AnalystGrade)
		g.Action = models.NormalizeAction(string(g.Action))
	},
	Keep: func(r models.Record, meta transform.Provenance) bool {
		g := r.(*models.AnalystGrade)
		if meta.FetchedAt.IsZero() {
			return true
		}
		return !g.Date.Before(models.Day(meta.FetchedAt.Add(-GradeLookback)))
	},
}

var ConsensusSchema = transform.Schema{
	Name:    "fmp_consensus",
	Version: 1,
	Model:   func() models.Record { return &models.AnalystConsensus{} },
	AsOf:    true,
	Fields: []transform.Field{
		{Column: "ticker", Sources: []string{"symbol"}, Kind: transform.KindText},
		{Column: "strong_buy", Sources: []string{"strongBuy"}, Kind: transform.KindCount},
		{Column: "buy", Sources: []string{"buy"}, Kind: transform.KindCount},
		{Column: "hold", Sources: []string{"hold"}, Kind: transform.KindCount},
		{Column: "sell", Sources: []string{"sell"}, Kind: transform.KindCount},
		{Column: "strong_sell", Sources: []string{"strongSell"}, Kind: transform.KindCount},
		{Column: "consensus", Sources: []string{"consensus"}, Kind: transform.KindText},
	},
}

var PriceTargetSchema = transform.Schema{
	Name:    "fmp_price_targets",
	Version: 1,
	Model:   func() models.Record { return &models.PriceTargetConsensus{} },
	AsOf:    true,
	Fields: []transform.Field{
		{Column: "ticker", Sources: []string{"symbol"}, Kind: transform.KindText},
		{Column: "target_high", Sources: []string{"targetHigh"}, Kind: transform.KindEstimate},
		{Column: "target_low", Sources: []string{"targetLow"}, Kind: transform.KindEstimate},
		{Column: "target_consensus", Sources: []string{"targetConsensus"}, Kind: transform.KindEstimate},
		{Column: "target_median", Sources: []string{"targetMedian"}, Kind: transform.KindEstimate},
	},
	Derive: func(r models.Record) {
		p := r.(*models.PriceTargetConsensus)
		p.TargetSpread = transform.Dispersion(p.TargetHigh, p.TargetLow, p.TargetConsensus)
	},
}
