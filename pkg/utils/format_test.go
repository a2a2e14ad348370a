package utils

import "testing"

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
		{102340.7, "102,341"},
		{-51234.2, "-51,234"},
		{999.5, "1,000"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatAmount(tt.input)
			if result != tt.expected {
				t.Errorf("FormatAmount(%f) = %s, want %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatSignedAmount(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{0, "+0"},
		{2340.2, "+2,340"},
		{-512.6, "-513"},
		{1000000, "+1,000,000"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatSignedAmount(tt.input)
			if result != tt.expected {
				t.Errorf("FormatSignedAmount(%f) = %s, want %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatSignedF2(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{0, "+0.00"},
		{1234.567, "+1,234.57"},
		{-87.2, "-87.20"},
		{999.999, "+1,000.00"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatSignedF2(tt.input)
			if result != tt.expected {
				t.Errorf("FormatSignedF2(%f) = %s, want %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatCount(t *testing.T) {
	if got := FormatCount(48213); got != "48,213" {
		t.Errorf("FormatCount(48213) = %s, want 48,213", got)
	}
	if got := FormatCount(999); got != "999" {
		t.Errorf("FormatCount(999) = %s, want 999", got)
	}
	if got := FormatCount(-1200); got != "-1,200" {
		t.Errorf("FormatCount(-1200) = %s, want -1,200", got)
	}
}

func TestFormatPct(t *testing.T) {
	if got := FormatPct(2.45); got != "+2.45%" {
		t.Errorf("FormatPct(2.45) = %s, want +2.45%%", got)
	}
	if got := FormatPct(-1.23); got != "-1.23%" {
		t.Errorf("FormatPct(-1.23) = %s, want -1.23%%", got)
	}
	if got := FormatPct(0); got != "+0.00%" {
		t.Errorf("FormatPct(0) = %s, want +0.00%%", got)
	}
}
