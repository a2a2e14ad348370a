// Package utils provides formatting and symbol helpers shared by the
// report renderer and the datasource layer.
package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatAmount formats a number with thousands grouping and no decimals.
// e.g., 102340.7 → "102,341"
func FormatAmount(amount float64) string {
	s := fmt.Sprintf("%.0f", math.Abs(amount))
	s = groupThousands(s)
	if amount < 0 {
		return "-" + s
	}
	return s
}

// FormatSignedAmount is FormatAmount with an explicit sign.
// e.g., 2340.2 → "+2,340", -512.6 → "-513"
func FormatSignedAmount(amount float64) string {
	if amount < 0 {
		return FormatAmount(amount)
	}
	return "+" + FormatAmount(amount)
}

// FormatSignedF2 formats with sign, thousands grouping and two decimals.
// e.g., 1234.567 → "+1,234.57"
func FormatSignedF2(amount float64) string {
	s := fmt.Sprintf("%.2f", math.Abs(amount))
	dot := strings.IndexByte(s, '.')
	s = groupThousands(s[:dot]) + s[dot:]
	if amount < 0 {
		return "-" + s
	}
	return "+" + s
}

// FormatCount formats an integer with thousands grouping.
// e.g., 48213 → "48,213"
func FormatCount(n int) string {
	s := groupThousands(strconv.Itoa(abs(n)))
	if n < 0 {
		return "-" + s
	}
	return s
}

// FormatPct formats a percentage value with sign and suffix.
// e.g., 2.45 → "+2.45%", -1.23 → "-1.23%"
func FormatPct(pct float64) string {
	if pct >= 0 {
		return fmt.Sprintf("+%.2f%%", pct)
	}
	return fmt.Sprintf("%.2f%%", pct)
}

// groupThousands inserts commas into a bare digit string, in groups of
// three from the right.
func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}

	result := s[len(s)-3:]
	remaining := s[:len(s)-3]

	for len(remaining) > 0 {
		if len(remaining) > 3 {
			result = remaining[len(remaining)-3:] + "," + result
			remaining = remaining[:len(remaining)-3]
		} else {
			result = remaining + "," + result
			remaining = ""
		}
	}

	return result
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
