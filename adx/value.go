package adx

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Cell value conversion
// -----------------------------------------------------------------------------

// nanosPerTick is the service's timespan resolution: one tick is 100ns.
const nanosPerTick = 100

// timespanPattern matches the wire timespan format
// [-][d.]hh:mm:ss[.fffffff]. Fractional seconds are given in ticks.
var timespanPattern = regexp.MustCompile(`^(-?)(?:(\d+)\.)?(\d{1,2}):(\d{1,2}):(\d{1,2})(?:\.(\d{1,7}))?$`)

// convertValue maps a decoded wire cell onto its Go representation based
// on the column's declared scalar type. Nulls pass through as nil, and
// types without a dedicated representation keep their decoded form.
func convertValue(columnType string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch columnType {
	case "datetime":
		return convertDatetime(v)
	case "timespan":
		return convertTimespan(v)
	case "decimal":
		return convertDecimal(v)
	case "long", "int":
		return convertInt(v)
	case "real":
		return convertReal(v)
	default:
		return v, nil
	}
}

func convertDatetime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("datetime cell is %T, not string", v)
	}
	s = truncateFraction(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime %q: %w", s, err)
	}
	return t, nil
}

// truncateFraction trims fractional seconds beyond nanosecond precision,
// which the service can emit but time.Parse rejects.
func truncateFraction(s string) string {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s
	}
	end := dot + 1
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end-dot-1 <= 9 {
		return s
	}
	return s[:dot+1+9] + s[end:]
}

// convertTimespan accepts both wire forms: the formatted
// [-][d.]hh:mm:ss[.fffffff] string and a raw tick count.
func convertTimespan(v any) (time.Duration, error) {
	switch x := v.(type) {
	case string:
		return parseTimespan(x)
	case json.Number:
		ticks, err := x.Int64()
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil {
				return 0, fmt.Errorf("invalid timespan %q", x.String())
			}
			return time.Duration(f * nanosPerTick), nil
		}
		return time.Duration(ticks) * nanosPerTick, nil
	default:
		return 0, fmt.Errorf("timespan cell is %T, not string or number", v)
	}
}

func parseTimespan(s string) (time.Duration, error) {
	m := timespanPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid timespan %q", s)
	}
	var d time.Duration
	if m[2] != "" {
		d += time.Duration(mustAtoi(m[2])) * 24 * time.Hour
	}
	d += time.Duration(mustAtoi(m[3])) * time.Hour
	d += time.Duration(mustAtoi(m[4])) * time.Minute
	d += time.Duration(mustAtoi(m[5])) * time.Second
	if m[6] != "" {
		// Pad to seven digits so the fraction is an exact tick count.
		frac := m[6] + strings.Repeat("0", 7-len(m[6]))
		d += time.Duration(mustAtoi(frac)) * nanosPerTick
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

// mustAtoi parses digit runs already validated by timespanPattern.
func mustAtoi(s string) int64 {
	var n int64
	for _, c := range s {
		n = n*10 + int64(c-'0')
	}
	return n
}

func convertDecimal(v any) (decimal.Decimal, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case json.Number:
		s = x.String()
	default:
		return decimal.Decimal{}, fmt.Errorf("decimal cell is %T, not string or number", v)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

func convertInt(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Int64()
	case string:
		var n json.Number = json.Number(x)
		return n.Int64()
	default:
		return 0, fmt.Errorf("integer cell is %T, not number", v)
	}
}

func convertReal(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case string:
		// The service spells non-finite reals as strings.
		switch x {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		var n json.Number = json.Number(x)
		return n.Float64()
	default:
		return 0, fmt.Errorf("real cell is %T, not number", v)
	}
}

// convertRow converts every cell of a raw row against the column list.
// Rows shorter or longer than the column list are a wire defect.
func convertRow(columns []Column, raw []any) (Row, error) {
	if len(raw) != len(columns) {
		return nil, parseErrorf("row has %d cells, table has %d columns", len(raw), len(columns))
	}
	row := make(Row, len(raw))
	for i, cell := range raw {
		v, err := convertValue(columns[i].Type, cell)
		if err != nil {
			return nil, parseErrorf("column %q: %v", columns[i].Name, err)
		}
		row[i] = v
	}
	return row, nil
}
