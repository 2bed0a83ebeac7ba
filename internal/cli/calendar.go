package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mkoziy/finsync/internal/calendar"
	"github.com/mkoziy/finsync/internal/models"
)

// CalendarOptions holds flags for the calendar command.
type CalendarOptions struct {
	*RootOptions
	Date string
	Year int
}

// CalendarReport is the calendar command output.
type CalendarReport struct {
	Exchange       string             `json:"exchange"`
	Date           string             `json:"date"`
	TradingDay     bool               `json:"trading_day"`
	Holiday        string             `json:"holiday,omitempty"`
	MarketOpen     bool               `json:"market_open"`
	LastCompleted  string             `json:"last_completed_trading_day"`
	NextTradingDay string             `json:"next_trading_day"`
	Year           int                `json:"year,omitempty"`
	Holidays       []calendar.Holiday `json:"holidays,omitempty"`
}

// NewCalendarCommand inspects the trading calendar.
func NewCalendarCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CalendarOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Inspect the exchange trading calendar",
		Long: `Report whether a date is a trading day, the last completed session and,
with --year, every holiday closure of that year.

Examples:
  finsync calendar
  finsync calendar --date 2025-04-18
  finsync calendar --year 2026`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalendar(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Date, "date", "", "date to check (default today)")
	cmd.Flags().IntVar(&opts.Year, "year", 0, "list holidays for this year")
	return cmd
}

func runCalendar(cmd *cobra.Command, opts *CalendarOptions) error {
	cfg, _, err := loadConfig(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	cal, err := calendar.New(cfg.Calendar)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid calendar", err)
	}

	report, err := buildCalendarReport(cal, opts.Date, opts.Year)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid date", err)
	}
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return printJSON(out, report)
	}

	rows := [][]string{
		{"exchange", report.Exchange},
		{"date", report.Date},
		{"trading day", strconv.FormatBool(report.TradingDay)},
	}
	if report.Holiday != "" {
		rows = append(rows, []string{"holiday", report.Holiday})
	}
	rows = append(rows,
		[]string{"market open now", strconv.FormatBool(report.MarketOpen)},
		[]string{"last completed session", report.LastCompleted},
		[]string{"next trading day", report.NextTradingDay},
	)
	for _, h := range report.Holidays {
		rows = append(rows, []string{fmt.Sprintf("holiday %d", report.Year), h.Date.Format(models.DateLayout) + " " + h.Name})
	}
	return printTable(out, []string{"field", "value"}, rows)
}

func buildCalendarReport(cal *calendar.Calendar, date string, year int) (CalendarReport, error) {
	now := cal.Now()
	day := cal.Today()
	if date != "" {
		d, err := models.ParseDay(date)
		if err != nil {
			return CalendarReport{}, fmt.Errorf("invalid --date %q: %w", date, err)
		}
		day = d
	}

	r := CalendarReport{
		Exchange:       cal.Exchange(),
		Date:           day.Format(models.DateLayout),
		TradingDay:     cal.IsTradingDay(day),
		MarketOpen:     cal.IsMarketOpen(now),
		LastCompleted:  cal.LastCompletedTradingDay(now, true).Format(models.DateLayout),
		NextTradingDay: cal.NextTradingDay(day).Format(models.DateLayout),
	}
	if h, ok := cal.IsHoliday(day); ok {
		r.Holiday = h.Name
	}
	if year > 0 {
		r.Year = year
		r.Holidays = cal.Holidays(year)
	}
	return r, nil
}
