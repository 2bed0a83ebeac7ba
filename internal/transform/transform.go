package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mkoziy/finsync/internal/models"
)

// ErrProviderMessage is returned when a 200 response carries an error object.
var ErrProviderMessage = errors.New("provider returned an error message")

// Output is the result of one payload.
type Output struct {
	Records []models.Record
	// Dropped counts rows that failed validation or the schema filter.
	Dropped int
}

// Transform maps a provider payload onto canonical records using schema.
func Transform(payload []byte, schema Schema, meta Provenance) ([]models.Record, error) {
	c, err := cachedCompile(schema)
	if err != nil {
		return nil, err
	}
	out, err := c.Apply(payload, meta)
	if err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Apply maps payload, which may be an array of rows, an object wrapping a
// "historical" or "data" array, or a single row object.
func (c *Compiled) Apply(payload []byte, meta Provenance) (Output, error) {
	rows, err := decodeRows(payload)
	if err != nil {
		return Output{}, fmt.Errorf("%s: %w", c.Name(), err)
	}

	var out Output
	for _, row := range rows {
		rec := c.mapRow(row, meta)
		if c.schema.Derive != nil {
			c.schema.Derive(rec)
		}
		if c.schema.Keep != nil && !c.schema.Keep(rec, meta) {
			out.Dropped++
			continue
		}
		if err := rec.Validate(); err != nil {
			out.Dropped++
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

func (c *Compiled) mapRow(row map[string]any, meta Provenance) models.Record {
	rec := c.schema.Model()
	v := reflect.ValueOf(rec).Elem()

	for _, f := range c.fields {
		raw := firstNonNull(row, f.Sources)
		setValue(f.column.Value(v), f.Kind, raw)
	}

	if ticker, err := models.FieldByColumn(rec, "ticker"); err == nil {
		t := ticker.String()
		if t == "" {
			t = meta.Entity
		}
		ticker.SetString(models.NormalizeTicker(t))
	}
	if meta.Period != "" {
		if period, err := models.FieldByColumn(rec, "period"); err == nil && period.String() == "" {
			period.SetString(string(meta.Period))
		}
	}
	if src, err := models.FieldByColumn(rec, "source"); err == nil {
		src.SetString(meta.Source)
	}
	if fetched, err := models.FieldByColumn(rec, "fetched_at"); err == nil {
		fetched.Set(reflect.ValueOf(meta.FetchedAt.UTC()))
	}
	if c.schema.AsOf && !meta.FetchedAt.IsZero() {
		if date, err := models.FieldByColumn(rec, "date"); err == nil && date.Interface().(time.Time).IsZero() {
			date.Set(reflect.ValueOf(models.Day(meta.FetchedAt.UTC())))
		}
	}
	return rec
}

func decodeRows(payload []byte) ([]map[string]any, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	switch v := doc.(type) {
	case []any:
		return objects(v), nil
	case map[string]any:
		if msg, ok := v["Error Message"]; ok {
			return nil, fmt.Errorf("%w: %v", ErrProviderMessage, msg)
		}
		for _, key := range []string{"historical", "data"} {
			if inner, ok := v[key].([]any); ok {
				rows := objects(inner)
				if sym, ok := v["symbol"].(string); ok {
					for _, r := range rows {
						if _, has := r["symbol"]; !has {
							r["symbol"] = sym
						}
					}
				}
				return rows, nil
			}
		}
		return []map[string]any{v}, nil
	default:
		return nil, fmt.Errorf("decode payload: unexpected JSON %T", doc)
	}
}

func objects(items []any) []map[string]any {
	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows
}

func firstNonNull(row map[string]any, sources []string) any {
	for _, s := range sources {
		v, ok := row[s]
		if !ok || v == nil {
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			continue
		}
		return v
	}
	return nil
}

func setValue(dst reflect.Value, kind Kind, raw any) {
	switch kind {
	case KindTotal:
		if f, ok := toFloat(raw); ok {
			dst.SetFloat(f)
		}
	case KindEstimate:
		if f, ok := toFloat(raw); ok {
			dst.Set(reflect.ValueOf(&f))
		}
	case KindCount:
		if f, ok := toFloat(raw); ok {
			n := int64(math.Round(f))
			dst.Set(reflect.ValueOf(&n))
		}
	case KindInteger:
		if f, ok := toFloat(raw); ok {
			dst.SetInt(int64(math.Round(f)))
		}
	case KindText:
		if s, ok := toText(raw); ok {
			dst.SetString(s)
		}
	case KindDate:
		if s, ok := raw.(string); ok {
			if d, err := models.ParseDay(s); err == nil {
				dst.Set(reflect.ValueOf(d))
			}
		}
	case KindPeriod:
		if s, ok := toText(raw); ok {
			dst.SetString(string(models.NormalizePeriod(s)))
		}
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func toText(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

// SurprisePercent is (actual - estimated) / |estimated| * 100 rounded to two
// decimals; nil when either input is missing or estimated is zero.
func SurprisePercent(actual, estimated *float64) *float64 {
	if actual == nil || estimated == nil || *estimated == 0 {
		return nil
	}
	p := round2((*actual - *estimated) / math.Abs(*estimated) * 100)
	return &p
}

// Dispersion is (high - low) / |avg|; nil when a bound is missing or avg is
// missing or zero.
func Dispersion(high, low, avg *float64) *float64 {
	if high == nil || low == nil || avg == nil || *avg == 0 {
		return nil
	}
	d := (*high - *low) / math.Abs(*avg)
	return &d
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Within reports whether d lies in [from, to], ignoring time of day. Zero
// bounds are open.
func Within(d, from, to time.Time) bool {
	day := models.Day(d)
	if !from.IsZero() && day.Before(models.Day(from)) {
		return false
	}
	if !to.IsZero() && day.After(models.Day(to)) {
		return false
	}
	return true
}
