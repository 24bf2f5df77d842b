package adx

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestConvertValue_Datetime(t *testing.T) {
	v, err := convertValue("datetime", "2023-04-01T12:30:45.1234567Z")
	if err != nil {
		t.Fatal(err)
	}
	got := v.(time.Time)
	want := time.Date(2023, 4, 1, 12, 30, 45, 123456700, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConvertValue_Datetime_ExcessPrecision(t *testing.T) {
	// More than nine fractional digits must not fail, just lose the
	// sub-nanosecond tail.
	v, err := convertValue("datetime", "2023-04-01T12:30:45.12345678901Z")
	if err != nil {
		t.Fatal(err)
	}
	got := v.(time.Time)
	if got.Nanosecond() != 123456789 {
		t.Errorf("nanoseconds = %d, want 123456789", got.Nanosecond())
	}
}

func TestConvertValue_Timespan(t *testing.T) {
	cases := []struct {
		in   any
		want time.Duration
	}{
		{"01:23:45", time.Hour + 23*time.Minute + 45*time.Second},
		{"2.01:23:45", 49*time.Hour + 23*time.Minute + 45*time.Second},
		{"-01:00:00", -time.Hour},
		{"00:00:00.5000000", 500 * time.Millisecond},
		{"00:00:00.0000001", 100 * time.Nanosecond},
		// Numeric form: ticks of 100ns.
		{json.Number("10000000"), time.Second},
	}
	for _, tc := range cases {
		v, err := convertValue("timespan", tc.in)
		if err != nil {
			t.Fatalf("%v: %v", tc.in, err)
		}
		if v.(time.Duration) != tc.want {
			t.Errorf("%v: got %v, want %v", tc.in, v, tc.want)
		}
	}
}

func TestConvertValue_Timespan_Invalid(t *testing.T) {
	if _, err := convertValue("timespan", "not-a-timespan"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestConvertValue_Decimal(t *testing.T) {
	v, err := convertValue("decimal", "123456789012345678901234567.89")
	if err != nil {
		t.Fatal(err)
	}
	want := decimal.RequireFromString("123456789012345678901234567.89")
	if !v.(decimal.Decimal).Equal(want) {
		t.Errorf("got %v, want %v", v, want)
	}
}

func TestConvertValue_Integers(t *testing.T) {
	for _, typ := range []string{"long", "int"} {
		v, err := convertValue(typ, json.Number("9007199254740993"))
		if err != nil {
			t.Fatal(err)
		}
		// Exact above 2^53: must not round through float64.
		if v.(int64) != 9007199254740993 {
			t.Errorf("%s: got %v", typ, v)
		}
	}
}

func TestConvertValue_Real(t *testing.T) {
	v, err := convertValue("real", json.Number("1.5"))
	if err != nil {
		t.Fatal(err)
	}
	if v.(float64) != 1.5 {
		t.Errorf("got %v", v)
	}

	v, err = convertValue("real", "NaN")
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(v.(float64)) {
		t.Errorf("got %v, want NaN", v)
	}

	v, err = convertValue("real", "-Infinity")
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(v.(float64), -1) {
		t.Errorf("got %v, want -Inf", v)
	}
}

func TestConvertValue_NullAndPassthrough(t *testing.T) {
	v, err := convertValue("long", nil)
	if err != nil || v != nil {
		t.Errorf("null: got %v, %v", v, err)
	}
	v, err = convertValue("string", "hello")
	if err != nil || v != "hello" {
		t.Errorf("string: got %v, %v", v, err)
	}
	v, err = convertValue("dynamic", map[string]any{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	if v.(map[string]any)["k"] != "v" {
		t.Errorf("dynamic: got %v", v)
	}
}

func TestConvertRow_CellCountMismatch(t *testing.T) {
	columns := []Column{{Name: "a", Type: "string"}, {Name: "b", Type: "long"}}
	if _, err := convertRow(columns, []any{"only-one"}); err == nil {
		t.Fatal("expected an error for a short row")
	}
}
