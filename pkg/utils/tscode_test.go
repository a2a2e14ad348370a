package utils

import (
	"testing"
	"time"
)

func TestNormalizeTSCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"600519.SH", "600519.SH"},
		{"600519.sh", "600519.SH"},
		{"600519", "600519.SH"},
		{"000001", "000001.SZ"},
		{"002594", "002594.SZ"},
		{"300750", "300750.SZ"},
		{"430047", "430047.BJ"},
		{"830799", "830799.BJ"},
		{"900901", "900901.SH"},
		{"贵州茅台", "600519.SH"},
		{"  茅台  ", "600519.SH"},
		{"moutai", "600519.SH"},
		{"宁德时代", "300750.SZ"},
		{"AAPL", "AAPL"},
		{"12345", "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizeTSCode(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeTSCode(%q) = %s, want %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFromTSCode(t *testing.T) {
	if got := FromTSCode("600519.SH"); got != "600519" {
		t.Errorf("FromTSCode(600519.SH) = %s, want 600519", got)
	}
	if got := FromTSCode("600519"); got != "600519" {
		t.Errorf("FromTSCode(600519) = %s, want 600519", got)
	}
}

func TestTradeDate(t *testing.T) {
	d := time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)
	if got := TradeDate(d); got != "20230105" {
		t.Errorf("TradeDate = %s, want 20230105", got)
	}

	parsed, err := ParseTradeDate("20230105")
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(d) {
		t.Errorf("ParseTradeDate = %v, want %v", parsed, d)
	}
}

func TestPrevBusinessDay(t *testing.T) {
	// 2023-01-07 is a Saturday; the previous weekday is Friday the 6th.
	sat := time.Date(2023, 1, 7, 0, 0, 0, 0, time.UTC)
	if got := PrevBusinessDay(sat); got.Day() != 6 {
		t.Errorf("PrevBusinessDay(sat) = %v, want Jan 6", got)
	}

	// A weekday maps to itself.
	wed := time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC)
	if got := PrevBusinessDay(wed); !got.Equal(wed) {
		t.Errorf("PrevBusinessDay(wed) = %v, want itself", got)
	}
}

func TestBusinessDaysAgo(t *testing.T) {
	// Walking 5 weekdays back from Monday 2023-01-09 lands on the prior Monday.
	mon := time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC)
	got := BusinessDaysAgo(mon, 5)
	want := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("BusinessDaysAgo(mon, 5) = %v, want %v", got, want)
	}
}
