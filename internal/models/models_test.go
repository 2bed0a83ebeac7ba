package models

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestStockPriceValidate(t *testing.T) {
	valid := &StockPrice{
		Ticker: "AAPL",
		Date:   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Open:   248.93, High: 249.10, Low: 241.82, Close: 243.85,
		Volume: 55740731,
	}
	require.NoError(t, valid.Validate())

	assert.Error(t, (&StockPrice{}).Validate())
	assert.Error(t, (&StockPrice{Ticker: "AAPL"}).Validate())

	inverted := *valid
	inverted.High, inverted.Low = 1, 2
	assert.Error(t, inverted.Validate())
}

func TestNaturalKeys(t *testing.T) {
	day := time.Date(2024, 12, 28, 15, 30, 0, 0, time.FixedZone("EST", -5*3600))

	p := &StockPrice{Ticker: "AAPL", Date: day}
	assert.Equal(t, NaturalKey{Table: TableStockPrices, Ticker: "AAPL", Date: "2024-12-28"}, p.NaturalKey())

	s := &IncomeStatement{Ticker: "AAPL", Date: day, Period: PeriodQ4}
	assert.Equal(t, "income_statements/AAPL/2024-12-28/Q4", s.NaturalKey().String())

	g := &AnalystGrade{Ticker: "AAPL", Date: day, GradingCompany: "Morgan Stanley"}
	assert.Equal(t, "Morgan Stanley", g.NaturalKey().Extra)
	assert.NotEqual(t, g.NaturalKey(), (&AnalystGrade{Ticker: "AAPL", Date: day, GradingCompany: "UBS"}).NaturalKey())
}

func TestPeriodicValidate(t *testing.T) {
	day := time.Date(2024, 9, 28, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, (&BalanceSheet{Ticker: "AAPL", Date: day, Period: PeriodFY}).Validate())
	assert.Error(t, (&BalanceSheet{Ticker: "AAPL", Date: day}).Validate())
	assert.Error(t, (&CashFlowStatement{Date: day, Period: PeriodQ1}).Validate())
	assert.Error(t, (&AnalystGrade{Ticker: "AAPL", Date: day}).Validate())
}

func TestConsensusSnapshot(t *testing.T) {
	day := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	n := func(v int64) *int64 { return &v }

	c := &AnalystConsensus{Ticker: "AAPL", Date: day, StrongBuy: n(1), Buy: n(29), Hold: n(11), Sell: n(2)}
	assert.NoError(t, c.Validate())
	assert.Equal(t, int64(43), c.Ratings())
	assert.Equal(t, "analyst_consensus/AAPL/2025-02-03", c.NaturalKey().String())
	assert.Zero(t, (&AnalystConsensus{}).Ratings())
	assert.Error(t, (&AnalystConsensus{Ticker: "AAPL"}).Validate())

	assert.Error(t, (&PriceTargetConsensus{Date: day}).Validate())
	assert.Equal(t, TablePriceTargets, (&PriceTargetConsensus{Ticker: "AAPL", Date: day}).NaturalKey().Table)
}

func TestNormalizePeriod(t *testing.T) {
	cases := map[string]Period{
		"q1":      PeriodQ1,
		" Q4 ":    PeriodQ4,
		"FY":      PeriodFY,
		"annual":  PeriodFY,
		"quarter": PeriodQuarter,
		"":        "",
		"H1":      Period("H1"),
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePeriod(in), in)
	}
}

func TestNormalizeAction(t *testing.T) {
	assert.Equal(t, ActionUpgrade, NormalizeAction("upgrade"))
	assert.Equal(t, ActionDowngrade, NormalizeAction("Downgraded"))
	assert.Equal(t, ActionInitiate, NormalizeAction("initiated"))
	assert.Equal(t, ActionMaintain, NormalizeAction("maintain"))
	assert.Equal(t, ActionMaintain, NormalizeAction("Reiterated"))
	assert.Equal(t, GradeAction("hold"), NormalizeAction(" hold "))
}

func TestParseDay(t *testing.T) {
	for _, in := range []string{"2025-01-02", "2025-01-02T00:00:00Z", "2025-01-02 16:00:00"} {
		d, err := ParseDay(in)
		require.NoError(t, err, in)
		assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), d)
	}
	_, err := ParseDay("01/02/2025")
	assert.Error(t, err)
}

func TestSurpriseAndDispersionHelpers(t *testing.T) {
	actual, est := 2.40, 2.35
	s := &EarningsSurprise{EPSActual: &actual, EPSEstimated: &est}
	beat, known := s.Beat()
	assert.True(t, known)
	assert.True(t, beat)

	_, known = (&EarningsSurprise{}).Beat()
	assert.False(t, known)

	d := 0.2
	assert.True(t, (&AnalystEstimate{ForecastDispersion: &d}).HighDispersion(0.1))
	assert.False(t, (&AnalystEstimate{}).HighDispersion(0.1))
}

func TestColumns(t *testing.T) {
	cols := Columns(&StockPrice{})
	require.NotEmpty(t, cols)
	assert.Equal(t, "id", cols[0].Name)
	assert.True(t, cols[0].PK)

	col, ok := ColumnByName(StockPrice{}, "adj_close")
	require.True(t, ok)
	assert.Equal(t, "*float64", col.Type.String())

	_, ok = ColumnByName(&StockPrice{}, "bun_model")
	assert.False(t, ok)
}

type Stamps struct {
	CreatedAt time.Time `bun:",nullzero"`
	UpdatedAt time.Time
}

type embeddedRow struct {
	bun.BaseModel `bun:"table:embedded_rows"`

	ID         int64 `bun:",pk,autoincrement"`
	FiscalYear string
	Stamps
}

func TestColumnsFollowBunTags(t *testing.T) {
	col, ok := ColumnByName(&embeddedRow{}, "fiscal_year")
	require.True(t, ok)
	assert.False(t, col.PK)

	col, ok = ColumnByName(&embeddedRow{}, "id")
	require.True(t, ok)
	assert.True(t, col.PK)

	row := &embeddedRow{}
	f, err := FieldByColumn(row, "updated_at")
	require.NoError(t, err)
	now := time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC)
	f.Set(reflect.ValueOf(now))
	assert.Equal(t, now, row.UpdatedAt)
}

func TestUpdateColumns(t *testing.T) {
	cols := UpdateColumns(&IncomeStatement{})
	assert.NotContains(t, cols, "id")
	assert.NotContains(t, cols, "ticker")
	assert.NotContains(t, cols, "date")
	assert.NotContains(t, cols, "period")
	assert.NotContains(t, cols, "created_at")
	assert.Contains(t, cols, "revenue")
	assert.Contains(t, cols, "fetched_at")
	assert.Contains(t, cols, "updated_at")
}

func TestFieldByColumn(t *testing.T) {
	p := &StockPrice{}
	f, err := FieldByColumn(p, "close")
	require.NoError(t, err)
	f.SetFloat(101.5)
	assert.Equal(t, 101.5, p.Close)

	_, err = FieldByColumn(p, "nope")
	assert.Error(t, err)
	_, err = FieldByColumn(StockPrice{}, "close")
	assert.Error(t, err)
}
