package connector

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/ingest/internal/fetch"
)

func runCSV(ctx context.Context, d Deps, t Target, c *CSVConfig, st *State) error {
	body, obj, ok := capture(ctx, d, t, st, fetch.Request{URL: c.URL}, "text/csv")
	if !ok {
		return nil
	}

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(body, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	if c.Delimiter != "" {
		r.Comma, _ = utf8.DecodeRuneInString(c.Delimiter)
	}

	header, err := r.Read()
	if err != nil {
		st.Fail(c.URL, fmt.Errorf("%w: csv header: %v", ErrParse, err))
		return nil
	}
	cols, err := resolveColumns(header, c.ColumnMapping)
	if err != nil {
		st.Fail(c.URL, err)
		return nil
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		item := fmt.Sprintf("%s:%d", c.URL, line)
		if err != nil {
			st.Fail(item, err)
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				break
			}
			continue
		}

		p, empty, err := cols.point(rec, c)
		if empty {
			st.Warn("line %d: empty value", line)
			continue
		}
		if err != nil {
			st.Fail(item, err)
			continue
		}
		st.Fetched++
		p.SourceID, p.RunID, p.RawObjectID = t.SourceID, t.RunID, obj.ID
		upsertPoint(ctx, d, st, item, p)
	}
	d.Logger.Info("connector: csv done", "fetched", st.Fetched, "errors", len(st.Errors))
	return nil
}

type csvColumns struct {
	date, value, indicator, unit, regime int
}

func resolveColumns(header []string, m FieldMap) (csvColumns, error) {
	m = m.withDefaults()
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	find := func(name string, required bool) (int, error) {
		if name == "" {
			return -1, nil
		}
		i, ok := index[strings.ToLower(name)]
		if !ok {
			if required {
				return -1, fmt.Errorf("%w: column %q not in header", ErrParse, name)
			}
			return -1, nil
		}
		return i, nil
	}

	var cols csvColumns
	var err error
	if cols.date, err = find(m.Date, true); err != nil {
		return cols, err
	}
	if cols.value, err = find(m.Value, true); err != nil {
		return cols, err
	}
	if cols.indicator, err = find(m.Indicator, m.Indicator != ""); err != nil {
		return cols, err
	}
	cols.unit, _ = find(m.Unit, false)
	cols.regime, _ = find(m.Regime, false)
	return cols, nil
}

// point converts one record. empty reports a blank value cell, which is
// a missing observation rather than a parse error.
func (cols csvColumns) point(rec []string, c *CSVConfig) (p *derived.Point, empty bool, err error) {
	cell := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	raw := cell(cols.value)
	if raw == "" || raw == ".." || raw == "-" {
		return nil, true, nil
	}
	v, perr := strconv.ParseFloat(raw, 64)
	if perr != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false, fmt.Errorf("%w: value %q is not a number", ErrParse, raw)
	}
	date := cell(cols.date)
	if date == "" {
		return nil, false, fmt.Errorf("%w: empty date", ErrParse)
	}
	indicator := c.Indicator
	if s := cell(cols.indicator); s != "" {
		indicator = s
	}
	if indicator == "" {
		return nil, false, fmt.Errorf("%w: empty indicator", ErrParse)
	}

	p = &derived.Point{IndicatorCode: indicator, Date: date, Value: v, Unit: c.Unit, Regime: c.Regime}
	if s := cell(cols.unit); s != "" {
		p.Unit = s
	}
	if s := cell(cols.regime); s != "" {
		p.Regime = s
	}
	return p, false, nil
}
