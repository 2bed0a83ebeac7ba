package models

import (
	"errors"
	"time"

	"github.com/uptrace/bun"
)

const (
	TableIncomeStatements   = "income_statements"
	TableBalanceSheets      = "balance_sheets"
	TableCashFlowStatements = "cash_flow_statements"
)

// Statement totals default to 0.0 so aggregates never see NULL.

// IncomeStatement is one reported income statement period.
type IncomeStatement struct {
	bun.BaseModel `bun:"table:income_statements,alias:inc"`

	ID                int64     `bun:"id,pk,autoincrement" json:"id"`
	Ticker            string    `bun:"ticker,notnull,unique:uq_income_statements_key" json:"ticker"`
	Date              time.Time `bun:"date,type:date,notnull,unique:uq_income_statements_key" json:"date"`
	Period            Period    `bun:"period,notnull,unique:uq_income_statements_key" json:"period"`
	FiscalYear        string    `bun:"fiscal_year" json:"fiscal_year,omitempty"`
	Revenue           float64   `bun:"revenue,notnull,default:0" json:"revenue"`
	CostOfRevenue     float64   `bun:"cost_of_revenue,notnull,default:0" json:"cost_of_revenue"`
	GrossProfit       float64   `bun:"gross_profit,notnull,default:0" json:"gross_profit"`
	OperatingExpenses float64   `bun:"operating_expenses,notnull,default:0" json:"operating_expenses"`
	OperatingIncome   float64   `bun:"operating_income,notnull,default:0" json:"operating_income"`
	InterestExpense   float64   `bun:"interest_expense,notnull,default:0" json:"interest_expense"`
	IncomeTaxExpense  float64   `bun:"income_tax_expense,notnull,default:0" json:"income_tax_expense"`
	NetIncome         float64   `bun:"net_income,notnull,default:0" json:"net_income"`
	EPS               float64   `bun:"eps,notnull,default:0" json:"eps"`
	EPSDiluted        float64   `bun:"eps_diluted,notnull,default:0" json:"eps_diluted"`
	EBITDA            float64   `bun:"ebitda,notnull,default:0" json:"ebitda"`
	Source            string    `bun:"source,notnull" json:"source"`
	FetchedAt         time.Time `bun:"fetched_at,notnull" json:"fetched_at"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

func (s *IncomeStatement) NaturalKey() NaturalKey {
	return NaturalKey{Table: TableIncomeStatements, Ticker: s.Ticker, Date: dateKey(s.Date), Period: string(s.Period)}
}

func (s *IncomeStatement) ConflictColumns() []string { return []string{"ticker", "date", "period"} }

func (s *IncomeStatement) Validate() error {
	return validatePeriodic(s.Ticker, s.Date, s.Period)
}

// GrossMargin returns gross profit over revenue, or false when revenue is zero.
func (s *IncomeStatement) GrossMargin() (float64, bool) {
	if s.Revenue == 0 {
		return 0, false
	}
	return s.GrossProfit / s.Revenue, true
}

// BalanceSheet is one reported balance sheet period.
type BalanceSheet struct {
	bun.BaseModel `bun:"table:balance_sheets,alias:bal"`

	ID                   int64     `bun:"id,pk,autoincrement" json:"id"`
	Ticker               string    `bun:"ticker,notnull,unique:uq_balance_sheets_key" json:"ticker"`
	Date                 time.Time `bun:"date,type:date,notnull,unique:uq_balance_sheets_key" json:"date"`
	Period               Period    `bun:"period,notnull,unique:uq_balance_sheets_key" json:"period"`
	FiscalYear           string    `bun:"fiscal_year" json:"fiscal_year,omitempty"`
	TotalAssets          float64   `bun:"total_assets,notnull,default:0" json:"total_assets"`
	TotalLiabilities     float64   `bun:"total_liabilities,notnull,default:0" json:"total_liabilities"`
	TotalEquity          float64   `bun:"total_equity,notnull,default:0" json:"total_equity"`
	CashAndEquivalents   float64   `bun:"cash_and_equivalents,notnull,default:0" json:"cash_and_equivalents"`
	ShortTermInvestments float64   `bun:"short_term_investments,notnull,default:0" json:"short_term_investments"`
	TotalDebt            float64   `bun:"total_debt,notnull,default:0" json:"total_debt"`
	LongTermDebt         float64   `bun:"long_term_debt,notnull,default:0" json:"long_term_debt"`
	ShortTermDebt        float64   `bun:"short_term_debt,notnull,default:0" json:"short_term_debt"`
	Inventory            float64   `bun:"inventory,notnull,default:0" json:"inventory"`
	AccountsReceivable   float64   `bun:"accounts_receivable,notnull,default:0" json:"accounts_receivable"`
	AccountsPayable      float64   `bun:"accounts_payable,notnull,default:0" json:"accounts_payable"`
	RetainedEarnings     float64   `bun:"retained_earnings,notnull,default:0" json:"retained_earnings"`
	Source               string    `bun:"source,notnull" json:"source"`
	FetchedAt            time.Time `bun:"fetched_at,notnull" json:"fetched_at"`
	CreatedAt            time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt            time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

func (s *BalanceSheet) NaturalKey() NaturalKey {
	return NaturalKey{Table: TableBalanceSheets, Ticker: s.Ticker, Date: dateKey(s.Date), Period: string(s.Period)}
}

func (s *BalanceSheet) ConflictColumns() []string { return []string{"ticker", "date", "period"} }

func (s *BalanceSheet) Validate() error {
	return validatePeriodic(s.Ticker, s.Date, s.Period)
}

// DebtToEquity returns total debt over equity, or false when equity is zero.
func (s *BalanceSheet) DebtToEquity() (float64, bool) {
	if s.TotalEquity == 0 {
		return 0, false
	}
	return s.TotalDebt / s.TotalEquity, true
}

// CashFlowStatement is one reported cash flow period. Outflows keep the
// provider's sign convention (negative = cash used).
type CashFlowStatement struct {
	bun.BaseModel `bun:"table:cash_flow_statements,alias:cfs"`

	ID                 int64     `bun:"id,pk,autoincrement" json:"id"`
	Ticker             string    `bun:"ticker,notnull,unique:uq_cash_flow_statements_key" json:"ticker"`
	Date               time.Time `bun:"date,type:date,notnull,unique:uq_cash_flow_statements_key" json:"date"`
	Period             Period    `bun:"period,notnull,unique:uq_cash_flow_statements_key" json:"period"`
	FiscalYear         string    `bun:"fiscal_year" json:"fiscal_year,omitempty"`
	OperatingCashFlow  float64   `bun:"operating_cash_flow,notnull,default:0" json:"operating_cash_flow"`
	InvestingCashFlow  float64   `bun:"investing_cash_flow,notnull,default:0" json:"investing_cash_flow"`
	FinancingCashFlow  float64   `bun:"financing_cash_flow,notnull,default:0" json:"financing_cash_flow"`
	FreeCashFlow       float64   `bun:"free_cash_flow,notnull,default:0" json:"free_cash_flow"`
	CapitalExpenditure float64   `bun:"capital_expenditure,notnull,default:0" json:"capital_expenditure"`
	DividendsPaid      float64   `bun:"dividends_paid,notnull,default:0" json:"dividends_paid"`
	StockRepurchased   float64   `bun:"stock_repurchased,notnull,default:0" json:"stock_repurchased"`
	DebtRepayment      float64   `bun:"debt_repayment,notnull,default:0" json:"debt_repayment"`
	Source             string    `bun:"source,notnull" json:"source"`
	FetchedAt          time.Time `bun:"fetched_at,notnull" json:"fetched_at"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

func (s *CashFlowStatement) NaturalKey() NaturalKey {
	return NaturalKey{Table: TableCashFlowStatements, Ticker: s.Ticker, Date: dateKey(s.Date), Period: string(s.Period)}
}

func (s *CashFlowStatement) ConflictColumns() []string { return []string{"ticker", "date", "period"} }

func (s *CashFlowStatement) Validate() error {
	return validatePeriodic(s.Ticker, s.Date, s.Period)
}

func validatePeriodic(ticker string, date time.Time, period Period) error {
	if ticker == "" {
		return errors.New("ticker is required")
	}
	if date.IsZero() {
		return errors.New("date is required")
	}
	if period == "" {
		return errors.New("period is required")
	}
	return nil
}
