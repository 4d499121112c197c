package nosana

import (
	"encoding/json"
	"testing"
)

func TestNumberUnmarshal(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		want      float64
	}{
		{`12.5`, true, 12.5},
		{`"42"`, true, 42},
		{`" 7 "`, true, 7},
		{`null`, false, 0},
		{`"abc"`, false, 0},
		{`true`, false, 0},
		{`{"x":1}`, false, 0},
		{`[1]`, false, 0},
		{`"NaN"`, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var v struct {
				N Number `json:"n"`
			}
			if err := json.Unmarshal([]byte(`{"n":`+tt.input+`}`), &v); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			got, ok := v.N.Float()
			if ok != tt.wantValid || got != tt.want {
				t.Errorf("Float() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantValid)
			}
		})
	}
}

func TestTextUnmarshal(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		want      string
	}{
		{`"RUNNING"`, true, "RUNNING"},
		{`123`, true, "123"},
		{`false`, true, "false"},
		{`null`, false, ""},
		{`{"a":1}`, false, ""},
		{`["a"]`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var v struct {
				T Text `json:"t"`
			}
			if err := json.Unmarshal([]byte(`{"t":`+tt.input+`}`), &v); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if v.T.Valid() != tt.wantValid || v.T.String() != tt.want {
				t.Errorf("Text = %q (%v), want %q (%v)", v.T.String(), v.T.Valid(), tt.want, tt.wantValid)
			}
		})
	}
}

func TestTextPtrBlank(t *testing.T) {
	if NewText("  ").Ptr() != nil {
		t.Error("Ptr() of blank text should be nil")
	}
	if p := NewText("x").Ptr(); p == nil || *p != "x" {
		t.Errorf("Ptr() = %v, want x", p)
	}
}

func TestUnixSeconds(t *testing.T) {
	tests := []struct {
		in   Number
		want int64
	}{
		{NewNumber(1700000000), 1700000000},
		{NewNumber(1700000000123), 1700000000},
		{NewNumber(0), 0},
		{NewNumber(-5), 0},
		{Number{}, 0},
	}
	for _, tt := range tests {
		if got := unixSeconds(tt.in); got != tt.want {
			t.Errorf("unixSeconds(%v) = %v, want %v", tt.in.FloatPtr(), got, tt.want)
		}
	}
}
