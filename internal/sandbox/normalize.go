package sandbox

import (
	"math"

	"github.com/lyeka/agentic-bt/internal/frame"
)

// Normalization caps. Results are summarised so a payload stays small enough
// to hand back to the model regardless of what the code produced.
const (
	maxListItems = 200
	maxDictItems = 100
	maxStrLen    = 2000
	dfTailRows   = 5
	dfMaxCols    = 8
	maxDepth     = 6
)

// Normalize converts an interpreter value into a JSON-ready structure.
// Series collapse to their latest value, frames to a shape-and-tail summary,
// and oversized containers are truncated with an explicit marker.
func Normalize(v Value) interface{} {
	return normalizeValue(v, 0)
}

func normalizeValue(v Value, depth int) interface{} {
	if depth > maxDepth {
		return capString(pyStr(v))
	}

	switch v.Kind {
	case KindNone:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return normalizeFloat(v.Float)
	case KindStr:
		return capString(v.Str)

	case KindSeries:
		f, ok := v.Series.Last()
		if !ok {
			return nil
		}
		return normalizeFloat(f)
	case KindBoolSeries:
		b, ok := v.BoolSeries.Last()
		if !ok {
			return nil
		}
		return b

	case KindFrame:
		return frameSummary(v.Frame)
	case KindTable:
		return tableSummary(v.Table)

	case KindList, KindTuple:
		return normalizeList(v.List.Elts, depth)

	case KindDict:
		return normalizeDict(v.Dict, depth)

	case KindTime:
		return v.Time.Format("2006-01-02T15:04:05")

	case KindRange:
		elts := make([]Value, 0, v.Range.Len())
		r := v.Range
		if r.Step > 0 {
			for i := r.Start; i < r.Stop && len(elts) <= maxListItems; i += r.Step {
				elts = append(elts, IntValue(i))
			}
		} else {
			for i := r.Start; i > r.Stop && len(elts) <= maxListItems; i += r.Step {
				elts = append(elts, IntValue(i))
			}
		}
		return normalizeList(elts, depth)
	}
	return capString(pyStr(v))
}

// normalizeFloat maps NaN and infinities to null so the payload always
// marshals to valid JSON.
func normalizeFloat(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func capString(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStrLen {
		return s
	}
	return string(runes[:maxStrLen]) + "..."
}

func normalizeList(elts []Value, depth int) interface{} {
	if len(elts) > maxListItems {
		tail := elts[len(elts)-maxListItems:]
		out := make([]interface{}, len(tail))
		for i, elt := range tail {
			out[i] = normalizeValue(elt, depth+1)
		}
		return map[string]interface{}{
			"_type":     "array",
			"len":       len(elts),
			"tail":      out,
			"truncated": true,
		}
	}
	out := make([]interface{}, len(elts))
	for i, elt := range elts {
		out[i] = normalizeValue(elt, depth+1)
	}
	return out
}

func normalizeDict(d *DictValue, depth int) interface{} {
	if d.Len() > maxDictItems {
		items := make(map[string]interface{}, maxDictItems)
		for _, idx := range d.SortedKeyIndexes()[:maxDictItems] {
			items[pyStr(d.Keys[idx])] = normalizeValue(d.Vals[idx], depth+1)
		}
		return map[string]interface{}{
			"_type":     "dict",
			"len":       d.Len(),
			"items":     items,
			"truncated": true,
		}
	}
	out := make(map[string]interface{}, d.Len())
	for i, key := range d.Keys {
		out[pyStr(key)] = normalizeValue(d.Vals[i], depth+1)
	}
	return out
}

// frameSummary reports shape, column names, and the last few rows of an
// OHLCV window.
func frameSummary(f *frame.Frame) map[string]interface{} {
	cols := f.Columns()
	truncated := f.Len() > dfTailRows || len(cols) > dfMaxCols
	if len(cols) > dfMaxCols {
		cols = cols[:dfMaxCols]
	}

	tailFrame := f.Tail(dfTailRows)
	rows := make([]map[string]interface{}, tailFrame.Len())
	for i, bar := range tailFrame.Bars() {
		row := make(map[string]interface{}, len(cols))
		for _, col := range cols {
			switch col {
			case "date":
				row[col] = bar.Datetime.Format("2006-01-02T15:04:05")
			case "open":
				row[col] = normalizeFloat(bar.Open)
			case "high":
				row[col] = normalizeFloat(bar.High)
			case "low":
				row[col] = normalizeFloat(bar.Low)
			case "close":
				row[col] = normalizeFloat(bar.Close)
			case "volume":
				row[col] = normalizeFloat(bar.Volume)
			}
		}
		rows[i] = row
	}

	return map[string]interface{}{
		"_type":     "dataframe",
		"shape":     []int{f.Len(), len(f.Columns())},
		"columns":   cols,
		"tail":      rows,
		"truncated": truncated,
	}
}

// tableSummary reports an indicator table the same way as a frame summary.
func tableSummary(t *TableValue) map[string]interface{} {
	cols := t.Columns
	truncated := t.Rows > dfTailRows || len(cols) > dfMaxCols
	if len(cols) > dfMaxCols {
		cols = cols[:dfMaxCols]
	}

	start := t.Rows - dfTailRows
	if start < 0 {
		start = 0
	}
	rows := make([]map[string]interface{}, 0, t.Rows-start)
	for i := start; i < t.Rows; i++ {
		row := make(map[string]interface{}, len(cols))
		for _, col := range cols {
			f, err := t.Cols[col].At(i)
			if err != nil {
				continue
			}
			row[col] = normalizeFloat(f)
		}
		rows = append(rows, row)
	}

	return map[string]interface{}{
		"_type":     "dataframe",
		"shape":     []int{t.Rows, len(t.Columns)},
		"columns":   cols,
		"tail":      rows,
		"truncated": truncated,
	}
}
