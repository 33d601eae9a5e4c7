package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/ingest/internal/fetch"
)

type restCall struct {
	url       string
	indicator string
	country   string
}

// expand returns one call per indicator and country combination present
// in the URL template.
func (c *RESTConfig) expand() []restCall {
	inds := []string{""}
	if strings.Contains(c.URL, "{indicator}") {
		inds = c.Indicators
	} else if len(c.Indicators) == 1 {
		inds = c.Indicators
	}
	countries := []string{""}
	if strings.Contains(c.URL, "{country}") {
		countries = c.Countries
	}
	var calls []restCall
	for _, ind := range inds {
		for _, cc := range countries {
			u := strings.NewReplacer(
				"{indicator}", url.PathEscape(ind),
				"{country}", url.PathEscape(cc),
			).Replace(c.URL)
			calls = append(calls, restCall{url: u, indicator: ind, country: cc})
		}
	}
	return calls
}

func runREST(ctx context.Context, d Deps, t Target, c *RESTConfig, st *State) error {
	headers := make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		headers[k] = os.Expand(v, os.Getenv)
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "application/json"
	}

	var limiter *rate.Limiter
	if c.RateLimitMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(c.RateLimitMs)*time.Millisecond), 1)
	}
	fields := c.Fields.withDefaults()

	for _, call := range c.expand() {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				st.Fail(call.url, err)
				return nil
			}
		}
		body, obj, ok := capture(ctx, d, t, st, fetch.Request{URL: call.url, Headers: headers}, "application/json")
		if !ok {
			continue
		}

		items, err := decodeItems(body, c.ResultPath)
		if err != nil {
			st.Fail(call.url, err)
			continue
		}
		for i, item := range items {
			name := fmt.Sprintf("%s#%d", call.url, i)
			p, err := normalizeItem(item, fields, call, c)
			if err != nil {
				st.Fail(name, err)
				continue
			}
			st.Fetched++
			p.SourceID, p.RunID, p.RawObjectID = t.SourceID, t.RunID, obj.ID
			upsertPoint(ctx, d, st, name, p)
		}
	}
	d.Logger.Info("connector: rest done", "fetched", st.Fetched, "errors", len(st.Errors))
	return nil
}

func decodeItems(body []byte, path string) ([]any, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: json decode: %v", ErrParse, err)
	}
	items, err := walkPath(raw, path)
	if err != nil {
		return nil, fmt.Errorf("%w: result path %q: %v", ErrParse, path, err)
	}
	return items, nil
}

// walkPath follows a dot-separated path of object keys to an array. An
// empty path requires the root to be an array.
func walkPath(v any, path string) ([]any, error) {
	current := v
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected object at %q, got %T", part, current)
			}
			if current, ok = obj[part]; !ok {
				return nil, fmt.Errorf("key %q not found", part)
			}
		}
	}
	arr, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("not an array (%T)", current)
	}
	return arr, nil
}

func normalizeItem(item any, f FieldMap, call restCall, c *RESTConfig) (*derived.Point, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: item is %T, not an object", ErrParse, item)
	}
	date, err := dateField(obj[f.Date])
	if err != nil {
		return nil, fmt.Errorf("%w: field %q: %v", ErrParse, f.Date, err)
	}
	value, err := numberField(obj[f.Value])
	if err != nil {
		return nil, fmt.Errorf("%w: field %q: %v", ErrParse, f.Value, err)
	}

	indicator := call.indicator
	if f.Indicator != "" {
		if s := scalar(obj[f.Indicator]); s != "" {
			indicator = s
		}
	}
	if indicator == "" {
		return nil, fmt.Errorf("%w: no indicator code", ErrParse)
	}
	if call.country != "" {
		indicator += "." + call.country
	}

	p := &derived.Point{
		IndicatorCode: indicator,
		Date:          date,
		Value:         value,
		Unit:          c.Unit,
		Regime:        c.Regime,
	}
	if f.Unit != "" {
		if s := scalar(obj[f.Unit]); s != "" {
			p.Unit = s
		}
	}
	if f.Regime != "" {
		if s := scalar(obj[f.Regime]); s != "" {
			p.Regime = s
		}
	}
	return p, nil
}

func dateField(v any) (string, error) {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return s, nil
		}
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10), nil
		}
	}
	return "", fmt.Errorf("missing or invalid date %v", v)
}

func numberField(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing value")
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case map[string]any:
		// {"id": "NY.GDP", "value": "GDP"} style references.
		if id, ok := x["id"]; ok {
			return scalar(id)
		}
		return ""
	}
	return fmt.Sprintf("%v", v)
}
