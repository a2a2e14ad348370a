package utils

import "time"

// tradeDateLayout is the compact date format the Tushare API expects.
const tradeDateLayout = "20060102"

// TradeDate formats t as a Tushare trade date, e.g. "20230105".
func TradeDate(t time.Time) string {
	return t.Format(tradeDateLayout)
}

// ParseTradeDate parses a Tushare trade date string.
func ParseTradeDate(s string) (time.Time, error) {
	return time.Parse(tradeDateLayout, s)
}

// PrevBusinessDay returns t itself when it is a weekday, otherwise the
// closest weekday before it.
func PrevBusinessDay(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// BusinessDaysAgo walks n weekdays back from t. Used to turn a bar count
// into a default download range.
func BusinessDaysAgo(t time.Time, n int) time.Time {
	d := PrevBusinessDay(t)
	for i := 0; i < n; i++ {
		d = d.AddDate(0, 0, -1)
		d = PrevBusinessDay(d)
	}
	return d
}
