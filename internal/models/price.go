package models

import (
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// TableStockPrices holds daily OHLCV rows.
const TableStockPrices = "stock_prices"

// StockPrice is a daily OHLCV record.
type StockPrice struct {
	bun.BaseModel `bun:"table:stock_prices,alias:sp"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Ticker        string    `bun:"ticker,notnull,unique:uq_stock_prices_key" json:"ticker"`
	Date          time.Time `bun:"date,type:date,notnull,unique:uq_stock_prices_key" json:"date"`
	Open          float64   `bun:"open,notnull,default:0" json:"open"`
	High          float64   `bun:"high,notnull,default:0" json:"high"`
	Low           float64   `bun:"low,notnull,default:0" json:"low"`
	Close         float64   `bun:"close,notnull,default:0" json:"close"`
	AdjClose      *float64  `bun:"adj_close" json:"adj_close,omitempty"`
	Volume        int64     `bun:"volume,notnull,default:0" json:"volume"`
	Change        *float64  `bun:"change" json:"change,omitempty"`
	ChangePercent *float64  `bun:"change_percent" json:"change_percent,omitempty"`
	VWAP          *float64  `bun:"vwap" json:"vwap,omitempty"`
	Source        string    `bun:"source,notnull" json:"source"`
	FetchedAt     time.Time `bun:"fetched_at,notnull" json:"fetched_at"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

func (p *StockPrice) NaturalKey() NaturalKey {
	return NaturalKey{Table: TableStockPrices, Ticker: p.Ticker, Date: dateKey(p.Date)}
}

func (p *StockPrice) ConflictColumns() []string { return []string{"ticker", "date"} }

// Validate checks required price fields.
func (p *StockPrice) Validate() error {
	if p.Ticker == "" {
		return errors.New("ticker is required")
	}
	if p.Date.IsZero() {
		return errors.New("date is required")
	}
	if p.High < p.Low {
		return errors.New("high below low")
	}
	if p.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	return nil
}
