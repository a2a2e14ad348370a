package sandbox

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lyeka/agentic-bt/internal/frame"
	"github.com/lyeka/agentic-bt/pkg/models"
)

// IndexerValue is the receiver produced by the .iloc attribute. Exactly one
// field is set.
type IndexerValue struct {
	Series *frame.Series
	Bools  *frame.BoolSeries
	Frame  *frame.Frame
	Table  *TableValue
}

// errHere builds a runtime error whose line is stamped by the call site.
func errHere(cat Category, format string, args ...interface{}) *RuntimeError {
	return errAt(cat, 0, format, args...)
}

// method wraps an implementation as a builtin bound to its receiver.
func method(name string, impl BuiltinImpl) Value {
	return BuiltinOf(name, impl)
}

// ════════════════════════════════════════════════════════════════════
// Attribute dispatch
// ════════════════════════════════════════════════════════════════════

func (ev *Evaluator) getAttr(recv Value, attr string, line int) (Value, error) {
	var (
		v   Value
		err error
	)
	switch recv.Kind {
	case KindFrame:
		v, err = frameAttr(recv, attr)
	case KindTable:
		v, err = tableAttr(recv, attr)
	case KindSeries:
		v, err = seriesAttr(recv, attr)
	case KindBoolSeries:
		v, err = boolSeriesAttr(recv, attr)
	case KindDict:
		v, err = dictAttr(recv, attr)
	case KindList:
		v, err = listAttr(recv, attr)
	case KindStr:
		v, err = strAttr(recv, attr)
	case KindTime:
		v, err = timeAttr(recv, attr)
	case KindRolling:
		v, err = rollingAttr(recv, attr)
	case KindModule:
		mv, ok := recv.Module.Attrs[attr]
		if !ok {
			err = errHere(CatAttribute, "module '%s' has no attribute '%s'", recv.Module.Name, attr)
		} else {
			v = mv
		}
	default:
		err = errHere(CatAttribute, "'%s' object has no attribute '%s'", recv.Kind, attr)
	}
	if err != nil {
		if re, ok := err.(*RuntimeError); ok && re.LineNo == 0 {
			re.LineNo = line
		}
		return NoneValue(), err
	}
	return v, nil
}

// ────────────────────────────────────────────────────────────────────
// DataFrame attributes
// ────────────────────────────────────────────────────────────────────

func frameAttr(recv Value, attr string) (Value, error) {
	f := recv.Frame
	switch attr {
	case "date":
		return dateListValue(f), nil
	case "open", "high", "low", "close", "volume":
		s, ok := f.Column(attr)
		if !ok {
			return NoneValue(), errHere(CatAttribute, "'DataFrame' object has no attribute '%s'", attr)
		}
		return SeriesValue(s), nil
	case "columns":
		cols := f.Columns()
		elts := make([]Value, len(cols))
		for i, c := range cols {
			elts[i] = StrValue(c)
		}
		return ListOf(elts...), nil
	case "empty":
		return BoolValue(f.Len() == 0), nil
	case "shape":
		return TupleOf(IntValue(f.Len()), IntValue(len(f.Columns()))), nil
	case "iloc":
		return Value{Kind: KindIndexer, Indexer: &IndexerValue{Frame: f}}, nil
	case "tail":
		return method("tail", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n, err := optIntArg(args, kwargs, 0, "n", 5)
			if err != nil {
				return NoneValue(), err
			}
			return FrameValue(f.Tail(n)), nil
		}), nil
	case "head":
		return method("head", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n, err := optIntArg(args, kwargs, 0, "n", 5)
			if err != nil {
				return NoneValue(), err
			}
			bars := f.Bars()
			if n > len(bars) {
				n = len(bars)
			}
			if n < 0 {
				n = 0
			}
			return FrameValue(frame.New(f.Symbol(), bars[:n])), nil
		}), nil
	}
	return NoneValue(), errHere(CatAttribute, "'DataFrame' object has no attribute '%s'", attr)
}

func dateListValue(f *frame.Frame) Value {
	dates := f.Dates()
	elts := make([]Value, len(dates))
	for i, d := range dates {
		elts[i] = TimeValue(d)
	}
	return ListOf(elts...)
}

// ────────────────────────────────────────────────────────────────────
// Indicator table attributes
// ────────────────────────────────────────────────────────────────────

func tableAttr(recv Value, attr string) (Value, error) {
	t := recv.Table
	switch attr {
	case "columns":
		elts := make([]Value, len(t.Columns))
		for i, c := range t.Columns {
			elts[i] = StrValue(c)
		}
		return ListOf(elts...), nil
	case "empty":
		return BoolValue(t.Rows == 0), nil
	case "shape":
		return TupleOf(IntValue(t.Rows), IntValue(len(t.Columns))), nil
	case "iloc":
		return Value{Kind: KindIndexer, Indexer: &IndexerValue{Table: t}}, nil
	case "tail":
		return method("tail", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n, err := optIntArg(args, kwargs, 0, "n", 5)
			if err != nil {
				return NoneValue(), err
			}
			return tableTail(t, n), nil
		}), nil
	}
	if s, ok := t.Cols[attr]; ok {
		return SeriesValue(s), nil
	}
	return NoneValue(), errHere(CatAttribute, "'DataFrame' object has no attribute '%s'", attr)
}

func tableTail(t *TableValue, n int) Value {
	if n < 0 {
		n = 0
	}
	if n > t.Rows {
		n = t.Rows
	}
	cols := make(map[string]*frame.Series, len(t.Cols))
	for name, s := range t.Cols {
		cols[name] = s.Tail(n)
	}
	return TableValueOf(&TableValue{
		Columns: append([]string{}, t.Columns...),
		Cols:    cols,
		Rows:    n,
	})
}

// ────────────────────────────────────────────────────────────────────
// Series attributes
// ────────────────────────────────────────────────────────────────────

func seriesAttr(recv Value, attr string) (Value, error) {
	s := recv.Series
	switch attr {
	case "values", "tolist":
		list := func() Value {
			vals := s.Values()
			elts := make([]Value, len(vals))
			for i, f := range vals {
				elts[i] = FloatValue(f)
			}
			return ListOf(elts...)
		}
		if attr == "values" {
			return list(), nil
		}
		return method("tolist", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return list(), nil
		}), nil
	case "empty":
		return BoolValue(s.Len() == 0), nil
	case "name":
		if s.Name() == "" {
			return NoneValue(), nil
		}
		return StrValue(s.Name()), nil
	case "shape":
		return TupleOf(IntValue(s.Len())), nil
	case "index":
		return Value{Kind: KindRange, Range: RangeValue{Start: 0, Stop: s.Len(), Step: 1}}, nil
	case "dtype":
		return StrValue("float64"), nil
	case "iloc":
		return Value{Kind: KindIndexer, Indexer: &IndexerValue{Series: s}}, nil

	case "mean":
		return method("mean", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return FloatValue(nanMean(s.Values())), nil
		}), nil
	case "median":
		return method("median", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return FloatValue(nanMedian(s.Values())), nil
		}), nil
	case "std":
		return method("std", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			ddof, err := optIntArg(args, kwargs, 0, "ddof", 1)
			if err != nil {
				return NoneValue(), err
			}
			return FloatValue(nanStd(s.Values(), ddof)), nil
		}), nil
	case "min":
		return method("min", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return FloatValue(nanMin(s.Values())), nil
		}), nil
	case "max":
		return method("max", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return FloatValue(nanMax(s.Values())), nil
		}), nil
	case "sum":
		return method("sum", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return FloatValue(nanSum(s.Values())), nil
		}), nil
	case "count":
		return method("count", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n := 0
			for _, v := range s.Values() {
				if !math.IsNaN(v) {
					n++
				}
			}
			return IntValue(n), nil
		}), nil
	case "abs":
		return method("abs", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return SeriesValue(s.Map(math.Abs)), nil
		}), nil
	case "round":
		return method("round", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n, err := optIntArg(args, kwargs, 0, "decimals", 0)
			if err != nil {
				return NoneValue(), err
			}
			return SeriesValue(s.Map(func(f float64) float64 { return roundHalfEven(f, n) })), nil
		}), nil
	case "rolling":
		return method("rolling", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			w, err := optIntArg(args, kwargs, 0, "window", -1)
			if err != nil {
				return NoneValue(), err
			}
			if w < 1 {
				return NoneValue(), errHere(CatValue, "window must be an integer 1 or greater")
			}
			return Value{Kind: KindRolling, Rolling: s, RollWindow: w}, nil
		}), nil
	case "shift":
		return method("shift", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n, err := optIntArg(args, kwargs, 0, "periods", 1)
			if err != nil {
				return NoneValue(), err
			}
			return SeriesValue(s.Shift(n)), nil
		}), nil
	case "diff":
		return method("diff", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n, err := optIntArg(args, kwargs, 0, "periods", 1)
			if err != nil {
				return NoneValue(), err
			}
			return SeriesValue(s.Diff(n)), nil
		}), nil
	case "pct_change":
		return method("pct_change", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n, err := optIntArg(args, kwargs, 0, "periods", 1)
			if err != nil {
				return NoneValue(), err
			}
			return SeriesValue(s.PctChange(n)), nil
		}), nil
	case "cumsum":
		return method("cumsum", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return SeriesValue(s.CumSum()), nil
		}), nil
	case "tail":
		return method("tail", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n, err := optIntArg(args, kwargs, 0, "n", 5)
			if err != nil {
				return NoneValue(), err
			}
			return SeriesValue(s.Tail(n)), nil
		}), nil
	case "head":
		return method("head", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n, err := optIntArg(args, kwargs, 0, "n", 5)
			if err != nil {
				return NoneValue(), err
			}
			return SeriesValue(frame.NewSeries(s.Name(), s.Slice(0, n))), nil
		}), nil
	case "dropna":
		return method("dropna", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			var kept []float64
			for _, v := range s.Values() {
				if !math.IsNaN(v) {
					kept = append(kept, v)
				}
			}
			return SeriesValue(frame.NewSeries(s.Name(), kept)), nil
		}), nil
	case "isna", "isnull":
		return method(attr, func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return BoolSeriesValue(s.MapBool(math.IsNaN)), nil
		}), nil
	case "notna", "notnull":
		return method(attr, func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return BoolSeriesValue(s.MapBool(func(f float64) bool { return !math.IsNaN(f) })), nil
		}), nil
	case "any":
		return method("any", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			for _, v := range s.Values() {
				if !math.IsNaN(v) && v != 0 {
					return BoolValue(true), nil
				}
			}
			return BoolValue(false), nil
		}), nil
	case "all":
		return method("all", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			for _, v := range s.Values() {
				if !math.IsNaN(v) && v == 0 {
					return BoolValue(false), nil
				}
			}
			return BoolValue(true), nil
		}), nil
	case "item":
		return method("item", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if s.Len() != 1 {
				return NoneValue(), errHere(CatValue, "can only convert an array of size 1 to a Python scalar")
			}
			f, _ := s.At(0)
			return FloatValue(f), nil
		}), nil
	case "idxmax":
		return method("idxmax", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return argExtreme(s, true)
		}), nil
	case "idxmin":
		return method("idxmin", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return argExtreme(s, false)
		}), nil
	case "apply":
		return method("apply", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) != 1 {
				return NoneValue(), errHere(CatType, "apply() takes exactly 1 argument (%d given)", len(args))
			}
			fn := args[0]
			out := make([]float64, s.Len())
			for i, f := range s.Values() {
				res, err := ev.callValue(fn, []Value{FloatValue(f)}, nil, 0)
				if err != nil {
					return NoneValue(), err
				}
				if !isNumeric(res) {
					return NoneValue(), errHere(CatType, "apply function must return a number, got %s", res.Kind)
				}
				out[i] = asFloat(res)
			}
			return SeriesValue(frame.NewSeries(s.Name(), out)), nil
		}), nil
	case "astype":
		return method("astype", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return recv, nil
		}), nil
	}
	return NoneValue(), errHere(CatAttribute, "'Series' object has no attribute '%s'", attr)
}

func argExtreme(s *frame.Series, wantMax bool) (Value, error) {
	best := math.NaN()
	idx := -1
	for i, v := range s.Values() {
		if math.IsNaN(v) {
			continue
		}
		if idx < 0 || (wantMax && v > best) || (!wantMax && v < best) {
			best, idx = v, i
		}
	}
	if idx < 0 {
		return NoneValue(), errHere(CatValue, "attempt to get argmax of an empty sequence")
	}
	return IntValue(idx), nil
}

// ────────────────────────────────────────────────────────────────────
// Boolean series attributes
// ────────────────────────────────────────────────────────────────────

func boolSeriesAttr(recv Value, attr string) (Value, error) {
	bs := recv.BoolSeries
	switch attr {
	case "empty":
		return BoolValue(bs.Len() == 0), nil
	case "dtype":
		return StrValue("bool"), nil
	case "iloc":
		return Value{Kind: KindIndexer, Indexer: &IndexerValue{Bools: bs}}, nil
	case "any":
		return method("any", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return BoolValue(bs.Any()), nil
		}), nil
	case "all":
		return method("all", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return BoolValue(bs.All()), nil
		}), nil
	case "sum":
		return method("sum", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			n := 0
			for _, b := range bs.Values() {
				if b {
					n++
				}
			}
			return IntValue(n), nil
		}), nil
	case "mean":
		return method("mean", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if bs.Len() == 0 {
				return FloatValue(math.NaN()), nil
			}
			n := 0
			for _, b := range bs.Values() {
				if b {
					n++
				}
			}
			return FloatValue(float64(n) / float64(bs.Len())), nil
		}), nil
	case "tolist":
		return method("tolist", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			elts := make([]Value, bs.Len())
			for i, b := range bs.Values() {
				elts[i] = BoolValue(b)
			}
			return ListOf(elts...), nil
		}), nil
	case "astype":
		return method("astype", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			out := make([]float64, bs.Len())
			for i, b := range bs.Values() {
				if b {
					out[i] = 1
				}
			}
			return SeriesValue(frame.NewSeries(bs.Name(), out)), nil
		}), nil
	}
	return NoneValue(), errHere(CatAttribute, "'Series' object has no attribute '%s'", attr)
}

// ────────────────────────────────────────────────────────────────────
// Dict, list, and string attributes
// ────────────────────────────────────────────────────────────────────

func dictAttr(recv Value, attr string) (Value, error) {
	d := recv.Dict
	switch attr {
	case "keys":
		return method("keys", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return ListOf(append([]Value{}, d.Keys...)...), nil
		}), nil
	case "values":
		return method("values", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return ListOf(append([]Value{}, d.Vals...)...), nil
		}), nil
	case "items":
		return method("items", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			elts := make([]Value, d.Len())
			for i := range d.Keys {
				elts[i] = TupleOf(d.Keys[i], d.Vals[i])
			}
			return ListOf(elts...), nil
		}), nil
	case "get":
		return method("get", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) < 1 || len(args) > 2 {
				return NoneValue(), errHere(CatType, "get() takes 1 or 2 arguments (%d given)", len(args))
			}
			if v, ok := d.Get(args[0]); ok {
				return v, nil
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return NoneValue(), nil
		}), nil
	case "pop":
		return method("pop", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) < 1 || len(args) > 2 {
				return NoneValue(), errHere(CatType, "pop() takes 1 or 2 arguments (%d given)", len(args))
			}
			for i, key := range d.Keys {
				if keyEqual(key, args[0]) {
					v := d.Vals[i]
					d.Keys = append(d.Keys[:i], d.Keys[i+1:]...)
					d.Vals = append(d.Vals[:i], d.Vals[i+1:]...)
					return v, nil
				}
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return NoneValue(), errHere(CatKey, "%s", pyRepr(args[0]))
		}), nil
	case "update":
		return method("update", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) != 1 || args[0].Kind != KindDict {
				return NoneValue(), errHere(CatType, "update() takes a dict argument")
			}
			other := args[0].Dict
			for i := range other.Keys {
				d.Set(other.Keys[i], other.Vals[i])
			}
			return NoneValue(), nil
		}), nil
	}
	return NoneValue(), errHere(CatAttribute, "'dict' object has no attribute '%s'", attr)
}

func listAttr(recv Value, attr string) (Value, error) {
	l := recv.List
	switch attr {
	case "append":
		return method("append", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) != 1 {
				return NoneValue(), errHere(CatType, "append() takes exactly one argument (%d given)", len(args))
			}
			l.Elts = append(l.Elts, args[0])
			return NoneValue(), nil
		}), nil
	case "extend":
		return method("extend", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) != 1 {
				return NoneValue(), errHere(CatType, "extend() takes exactly one argument (%d given)", len(args))
			}
			items, err := ev.iterateValue(args[0], 0)
			if err != nil {
				return NoneValue(), err
			}
			l.Elts = append(l.Elts, items...)
			return NoneValue(), nil
		}), nil
	case "pop":
		return method("pop", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(l.Elts) == 0 {
				return NoneValue(), errHere(CatIndex, "pop from empty list")
			}
			i := len(l.Elts) - 1
			if len(args) == 1 {
				j, err := optIntArg(args, nil, 0, "index", i)
				if err != nil {
					return NoneValue(), err
				}
				i = j
				if i < 0 {
					i += len(l.Elts)
				}
				if i < 0 || i >= len(l.Elts) {
					return NoneValue(), errHere(CatIndex, "pop index out of range")
				}
			}
			v := l.Elts[i]
			l.Elts = append(l.Elts[:i], l.Elts[i+1:]...)
			return v, nil
		}), nil
	case "sort":
		return method("sort", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			key := NoneValue()
			reverse := false
			if k, ok := kwargs["key"]; ok {
				key = k
			}
			if r, ok := kwargs["reverse"]; ok {
				t, err := ev.truthy(r, 0)
				if err != nil {
					return NoneValue(), err
				}
				reverse = t
			}
			if err := ev.sortValues(l.Elts, key, reverse); err != nil {
				return NoneValue(), err
			}
			return NoneValue(), nil
		}), nil
	case "reverse":
		return method("reverse", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			for i, j := 0, len(l.Elts)-1; i < j; i, j = i+1, j-1 {
				l.Elts[i], l.Elts[j] = l.Elts[j], l.Elts[i]
			}
			return NoneValue(), nil
		}), nil
	case "count":
		return method("count", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) != 1 {
				return NoneValue(), errHere(CatType, "count() takes exactly one argument (%d given)", len(args))
			}
			n := 0
			for _, elt := range l.Elts {
				if valueEqual(elt, args[0]) {
					n++
				}
			}
			return IntValue(n), nil
		}), nil
	case "index":
		return method("index", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) != 1 {
				return NoneValue(), errHere(CatType, "index() takes exactly one argument (%d given)", len(args))
			}
			for i, elt := range l.Elts {
				if valueEqual(elt, args[0]) {
					return IntValue(i), nil
				}
			}
			return NoneValue(), errHere(CatValue, "%s is not in list", pyRepr(args[0]))
		}), nil
	case "remove":
		return method("remove", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) != 1 {
				return NoneValue(), errHere(CatType, "remove() takes exactly one argument (%d given)", len(args))
			}
			for i, elt := range l.Elts {
				if valueEqual(elt, args[0]) {
					l.Elts = append(l.Elts[:i], l.Elts[i+1:]...)
					return NoneValue(), nil
				}
			}
			return NoneValue(), errHere(CatValue, "list.remove(x): x not in list")
		}), nil
	}
	return NoneValue(), errHere(CatAttribute, "'list' object has no attribute '%s'", attr)
}

func strAttr(recv Value, attr string) (Value, error) {
	s := recv.Str
	strArg := func(args []Value, pos int, name string) (string, error) {
		if pos >= len(args) || args[pos].Kind != KindStr {
			return "", errHere(CatType, "%s() argument must be str", name)
		}
		return args[pos].Str, nil
	}
	switch attr {
	case "upper":
		return method("upper", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return StrValue(strings.ToUpper(s)), nil
		}), nil
	case "lower":
		return method("lower", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return StrValue(strings.ToLower(s)), nil
		}), nil
	case "strip":
		return method("strip", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) == 1 && args[0].Kind == KindStr {
				return StrValue(strings.Trim(s, args[0].Str)), nil
			}
			return StrValue(strings.TrimSpace(s)), nil
		}), nil
	case "split":
		return method("split", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			var parts []string
			if len(args) == 0 || args[0].Kind == KindNone {
				parts = strings.Fields(s)
			} else if args[0].Kind == KindStr {
				parts = strings.Split(s, args[0].Str)
			} else {
				return NoneValue(), errHere(CatType, "split() separator must be str or None")
			}
			elts := make([]Value, len(parts))
			for i, p := range parts {
				elts[i] = StrValue(p)
			}
			return ListOf(elts...), nil
		}), nil
	case "join":
		return method("join", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) != 1 {
				return NoneValue(), errHere(CatType, "join() takes exactly one argument (%d given)", len(args))
			}
			items, err := ev.iterateValue(args[0], 0)
			if err != nil {
				return NoneValue(), err
			}
			parts := make([]string, len(items))
			for i, item := range items {
				if item.Kind != KindStr {
					return NoneValue(), errHere(CatType, "sequence item %d: expected str instance, %s found", i, item.Kind)
				}
				parts[i] = item.Str
			}
			return StrValue(strings.Join(parts, s)), nil
		}), nil
	case "startswith":
		return method("startswith", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			prefix, err := strArg(args, 0, "startswith")
			if err != nil {
				return NoneValue(), err
			}
			return BoolValue(strings.HasPrefix(s, prefix)), nil
		}), nil
	case "endswith":
		return method("endswith", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			suffix, err := strArg(args, 0, "endswith")
			if err != nil {
				return NoneValue(), err
			}
			return BoolValue(strings.HasSuffix(s, suffix)), nil
		}), nil
	case "replace":
		return method("replace", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			old, err := strArg(args, 0, "replace")
			if err != nil {
				return NoneValue(), err
			}
			neu, err := strArg(args, 1, "replace")
			if err != nil {
				return NoneValue(), err
			}
			return StrValue(strings.ReplaceAll(s, old, neu)), nil
		}), nil
	case "find":
		return method("find", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			sub, err := strArg(args, 0, "find")
			if err != nil {
				return NoneValue(), err
			}
			return IntValue(strings.Index(s, sub)), nil
		}), nil
	case "count":
		return method("count", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			sub, err := strArg(args, 0, "count")
			if err != nil {
				return NoneValue(), err
			}
			return IntValue(strings.Count(s, sub)), nil
		}), nil
	}
	return NoneValue(), errHere(CatAttribute, "'str' object has no attribute '%s'", attr)
}

// ────────────────────────────────────────────────────────────────────
// Datetime attributes
// ────────────────────────────────────────────────────────────────────

var strftimeReplacer = strings.NewReplacer(
	"%Y", "2006", "%m", "01", "%d", "02",
	"%H", "15", "%M", "04", "%S", "05",
	"%A", "Monday", "%a", "Mon", "%B", "January", "%b", "Jan",
	"%%", "%",
)

func timeAttr(recv Value, attr string) (Value, error) {
	t := recv.Time
	switch attr {
	case "year":
		return IntValue(t.Year()), nil
	case "month":
		return IntValue(int(t.Month())), nil
	case "day":
		return IntValue(t.Day()), nil
	case "hour":
		return IntValue(t.Hour()), nil
	case "minute":
		return IntValue(t.Minute()), nil
	case "second":
		return IntValue(t.Second()), nil
	case "isoformat":
		return method("isoformat", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return StrValue(t.Format("2006-01-02T15:04:05")), nil
		}), nil
	case "strftime":
		return method("strftime", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) != 1 || args[0].Kind != KindStr {
				return NoneValue(), errHere(CatType, "strftime() argument must be str")
			}
			return StrValue(t.Format(strftimeReplacer.Replace(args[0].Str))), nil
		}), nil
	case "weekday":
		return method("weekday", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return IntValue((int(t.Weekday()) + 6) % 7), nil
		}), nil
	case "date":
		return method("date", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			y, m, d := t.Date()
			return TimeValue(time.Date(y, m, d, 0, 0, 0, 0, t.Location())), nil
		}), nil
	}
	return NoneValue(), errHere(CatAttribute, "'datetime' object has no attribute '%s'", attr)
}

// ────────────────────────────────────────────────────────────────────
// Rolling window attributes
// ────────────────────────────────────────────────────────────────────

func rollingAttr(recv Value, attr string) (Value, error) {
	s, w := recv.Rolling, recv.RollWindow
	agg := func(name string, f func(frame.Rolling) *frame.Series) (Value, error) {
		return method(name, func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			return SeriesValue(f(s.Rolling(w))), nil
		}), nil
	}
	switch attr {
	case "mean":
		return agg("mean", frame.Rolling.Mean)
	case "std":
		return agg("std", frame.Rolling.Std)
	case "sum":
		return agg("sum", frame.Rolling.Sum)
	case "min":
		return agg("min", frame.Rolling.Min)
	case "max":
		return agg("max", frame.Rolling.Max)
	}
	return NoneValue(), errHere(CatAttribute, "'Rolling' object has no attribute '%s'", attr)
}

// ════════════════════════════════════════════════════════════════════
// Positional indexers
// ════════════════════════════════════════════════════════════════════

func ilocLen(ix *IndexerValue) int {
	switch {
	case ix.Series != nil:
		return ix.Series.Len()
	case ix.Bools != nil:
		return ix.Bools.Len()
	case ix.Frame != nil:
		return ix.Frame.Len()
	case ix.Table != nil:
		return ix.Table.Rows
	}
	return 0
}

func ilocGetItem(ix *IndexerValue, i int, line int) (Value, error) {
	n := ilocLen(ix)
	j := i
	if j < 0 {
		j += n
	}
	if j < 0 || j >= n {
		return NoneValue(), errAt(CatIndex, line, "single positional indexer is out-of-bounds")
	}
	switch {
	case ix.Series != nil:
		f, _ := ix.Series.At(j)
		return FloatValue(f), nil
	case ix.Bools != nil:
		b, _ := ix.Bools.At(j)
		return BoolValue(b), nil
	case ix.Frame != nil:
		bar := ix.Frame.Bars()[j]
		row := DictOf()
		row.Dict.SetStr("date", TimeValue(bar.Datetime))
		row.Dict.SetStr("open", FloatValue(bar.Open))
		row.Dict.SetStr("high", FloatValue(bar.High))
		row.Dict.SetStr("low", FloatValue(bar.Low))
		row.Dict.SetStr("close", FloatValue(bar.Close))
		row.Dict.SetStr("volume", FloatValue(bar.Volume))
		return row, nil
	case ix.Table != nil:
		row := DictOf()
		for _, col := range ix.Table.Columns {
			f, _ := ix.Table.Cols[col].At(j)
			row.Dict.SetStr(col, FloatValue(f))
		}
		return row, nil
	}
	return NoneValue(), errAt(CatIndex, line, "single positional indexer is out-of-bounds")
}

func ilocSlice(ix *IndexerValue, idxs []int, line int) (Value, error) {
	switch {
	case ix.Series != nil:
		vals := ix.Series.Values()
		out := make([]float64, len(idxs))
		for i, j := range idxs {
			out[i] = vals[j]
		}
		return SeriesValue(frame.NewSeries(ix.Series.Name(), out)), nil
	case ix.Bools != nil:
		vals := ix.Bools.Values()
		out := make([]bool, len(idxs))
		for i, j := range idxs {
			out[i] = vals[j]
		}
		return BoolSeriesValue(frame.NewBoolSeries(ix.Bools.Name(), out)), nil
	case ix.Frame != nil:
		bars := ix.Frame.Bars()
		kept := make([]models.Bar, len(idxs))
		for i, j := range idxs {
			kept[i] = bars[j]
		}
		return FrameValue(frame.New(ix.Frame.Symbol(), kept)), nil
	case ix.Table != nil:
		cols := make(map[string]*frame.Series, len(ix.Table.Cols))
		for name, s := range ix.Table.Cols {
			vals := s.Values()
			out := make([]float64, len(idxs))
			for i, j := range idxs {
				out[i] = vals[j]
			}
			cols[name] = frame.NewSeries(name, out)
		}
		return TableValueOf(&TableValue{
			Columns: append([]string{}, ix.Table.Columns...),
			Cols:    cols,
			Rows:    len(idxs),
		}), nil
	}
	return NoneValue(), errAt(CatType, line, "iloc slicing is not supported here")
}

// ════════════════════════════════════════════════════════════════════
// Sorting and formatting
// ════════════════════════════════════════════════════════════════════

// valueLess orders two values for sorting. Mixed incomparable kinds raise
// the usual TypeError.
func valueLess(a, b Value) (bool, error) {
	if isNumeric(a) && isNumeric(b) {
		return asFloat(a) < asFloat(b), nil
	}
	if a.Kind == KindStr && b.Kind == KindStr {
		return a.Str < b.Str, nil
	}
	if a.Kind == KindTime && b.Kind == KindTime {
		return a.Time.Before(b.Time), nil
	}
	if (a.Kind == KindList || a.Kind == KindTuple) && a.Kind == b.Kind {
		ae, be := a.List.Elts, b.List.Elts
		for i := 0; i < len(ae) && i < len(be); i++ {
			if valueEqual(ae[i], be[i]) {
				continue
			}
			return valueLess(ae[i], be[i])
		}
		return len(ae) < len(be), nil
	}
	return false, errHere(CatType, "'<' not supported between instances of '%s' and '%s'", a.Kind, b.Kind)
}

// sortValues sorts in place, applying an optional key function.
func (ev *Evaluator) sortValues(vals []Value, key Value, reverse bool) error {
	keys := vals
	if key.Kind != KindNone {
		keys = make([]Value, len(vals))
		for i, v := range vals {
			k, err := ev.callValue(key, []Value{v}, nil, 0)
			if err != nil {
				return err
			}
			keys[i] = k
		}
	}

	idxs := make([]int, len(vals))
	for i := range idxs {
		idxs[i] = i
	}
	var sortErr error
	sort.SliceStable(idxs, func(x, y int) bool {
		if sortErr != nil {
			return false
		}
		less, err := valueLess(keys[idxs[x]], keys[idxs[y]])
		if err != nil {
			sortErr = err
			return false
		}
		if reverse {
			return !less && !valueEqual(keys[idxs[x]], keys[idxs[y]])
		}
		return less
	})
	if sortErr != nil {
		return sortErr
	}

	sorted := make([]Value, len(vals))
	for i, j := range idxs {
		sorted[i] = vals[j]
	}
	copy(vals, sorted)
	return nil
}

// formatValue renders a value under a Python format spec. Supported verbs
// are f, e, g, d, and %, with optional precision and comma grouping.
func formatValue(v Value, spec string, line int) (string, error) {
	if spec == "" {
		return pyStr(v), nil
	}
	if v.Kind == KindStr {
		return v.Str, nil
	}
	if !isNumeric(v) {
		return pyStr(v), nil
	}

	comma := strings.Contains(spec, ",")
	spec = strings.ReplaceAll(spec, ",", "")

	prec := -1
	verb := byte(0)
	if len(spec) > 0 {
		last := spec[len(spec)-1]
		if last == 'f' || last == 'F' || last == 'e' || last == 'E' || last == 'g' || last == 'G' || last == 'd' || last == '%' {
			verb = last
			spec = spec[:len(spec)-1]
		}
	}
	if strings.HasPrefix(spec, ".") {
		p, err := strconv.Atoi(spec[1:])
		if err != nil {
			return "", errAt(CatValue, line, "invalid format specifier")
		}
		prec = p
	} else if spec != "" {
		// width and alignment are accepted but ignored
		if _, err := strconv.Atoi(strings.TrimLeft(spec, "<>^")); err != nil {
			return "", errAt(CatValue, line, "invalid format specifier")
		}
	}

	f := asFloat(v)
	switch verb {
	case 'f', 'F':
		if prec < 0 {
			prec = 6
		}
		out := strconv.FormatFloat(f, 'f', prec, 64)
		if comma {
			out = groupThousands(out)
		}
		return out, nil
	case 'e', 'E':
		if prec < 0 {
			prec = 6
		}
		out := strconv.FormatFloat(f, byte(verb|0x20), prec, 64)
		if verb == 'E' {
			out = strings.ToUpper(out)
		}
		return out, nil
	case 'g', 'G':
		if prec < 0 {
			prec = 6
		}
		out := strconv.FormatFloat(f, 'g', prec, 64)
		if verb == 'G' {
			out = strings.ToUpper(out)
		}
		return out, nil
	case 'd':
		if v.Kind == KindFloat {
			return "", errAt(CatValue, line, "Unknown format code 'd' for object of type 'float'")
		}
		out := strconv.Itoa(intOf(v))
		if comma {
			out = groupThousands(out)
		}
		return out, nil
	case '%':
		if prec < 0 {
			prec = 6
		}
		return strconv.FormatFloat(f*100, 'f', prec, 64) + "%", nil
	case 0:
		if prec >= 0 {
			return strconv.FormatFloat(f, 'g', prec, 64), nil
		}
		out := pyStr(v)
		if comma {
			out = groupThousands(out)
		}
		return out, nil
	}
	return "", errAt(CatValue, line, "invalid format specifier")
}

// groupThousands inserts commas into the integer part of a decimal string.
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}
	var sb strings.Builder
	n := len(intPart)
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(c)
	}
	out := sb.String() + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// percentFormat implements old-style "%" string interpolation for the common
// directives %s, %d, and %f.
func percentFormat(template string, arg Value, line int) (Value, error) {
	args := []Value{arg}
	if arg.Kind == KindTuple {
		args = arg.List.Elts
	}
	var sb strings.Builder
	next := 0
	i := 0
	runes := []rune(template)
	for i < len(runes) {
		c := runes[i]
		if c != '%' {
			sb.WriteRune(c)
			i++
			continue
		}
		if i+1 < len(runes) && runes[i+1] == '%' {
			sb.WriteByte('%')
			i += 2
			continue
		}
		j := i + 1
		for j < len(runes) && (runes[j] == '.' || (runes[j] >= '0' && runes[j] <= '9')) {
			j++
		}
		if j >= len(runes) {
			return NoneValue(), errAt(CatValue, line, "incomplete format")
		}
		verb := runes[j]
		if next >= len(args) {
			return NoneValue(), errAt(CatType, line, "not enough arguments for format string")
		}
		v := args[next]
		next++
		spec := string(runes[i+1 : j])
		switch verb {
		case 's':
			sb.WriteString(pyStr(v))
		case 'd':
			if !isNumeric(v) {
				return NoneValue(), errAt(CatType, line, "%%d format: a real number is required, not %s", v.Kind)
			}
			sb.WriteString(strconv.Itoa(int(asFloat(v))))
		case 'f':
			if !isNumeric(v) {
				return NoneValue(), errAt(CatType, line, "must be real number, not %s", v.Kind)
			}
			prec := 6
			if strings.HasPrefix(spec, ".") {
				if p, err := strconv.Atoi(spec[1:]); err == nil {
					prec = p
				}
			}
			sb.WriteString(strconv.FormatFloat(asFloat(v), 'f', prec, 64))
		default:
			return NoneValue(), errAt(CatValue, line, "unsupported format character '%c'", verb)
		}
		i = j + 1
	}
	if next < len(args) {
		return NoneValue(), errAt(CatType, line, "not all arguments converted during string formatting")
	}
	return StrValue(sb.String()), nil
}

// ════════════════════════════════════════════════════════════════════
// NaN-aware statistics
// ════════════════════════════════════════════════════════════════════

func dropNaN(vals []float64) []float64 {
	out := vals[:0:0]
	for _, v := range vals {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func nanMean(vals []float64) float64 {
	clean := dropNaN(vals)
	if len(clean) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range clean {
		sum += v
	}
	return sum / float64(len(clean))
}

func nanStd(vals []float64, ddof int) float64 {
	clean := dropNaN(vals)
	if len(clean) <= ddof {
		return math.NaN()
	}
	mean := 0.0
	for _, v := range clean {
		mean += v
	}
	mean /= float64(len(clean))
	sq := 0.0
	for _, v := range clean {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(clean)-ddof))
}

func nanMin(vals []float64) float64 {
	clean := dropNaN(vals)
	if len(clean) == 0 {
		return math.NaN()
	}
	min := clean[0]
	for _, v := range clean[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func nanMax(vals []float64) float64 {
	clean := dropNaN(vals)
	if len(clean) == 0 {
		return math.NaN()
	}
	max := clean[0]
	for _, v := range clean[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func nanSum(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		if !math.IsNaN(v) {
			sum += v
		}
	}
	return sum
}

func nanMedian(vals []float64) float64 {
	clean := append([]float64{}, dropNaN(vals)...)
	if len(clean) == 0 {
		return math.NaN()
	}
	sort.Float64s(clean)
	mid := len(clean) / 2
	if len(clean)%2 == 1 {
		return clean[mid]
	}
	return (clean[mid-1] + clean[mid]) / 2
}

// roundHalfEven rounds to n decimal places with banker's rounding, matching
// round() in Python and numpy.
func roundHalfEven(x float64, n int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	scale := math.Pow(10, float64(n))
	return math.RoundToEven(x*scale) / scale
}

// optIntArg fetches an optional int argument by position or keyword.
func optIntArg(args []Value, kwargs map[string]Value, pos int, name string, def int) (int, error) {
	var v Value
	ok := false
	if pos < len(args) {
		v, ok = args[pos], true
	} else if kw, present := kwargs[name]; present {
		v, ok = kw, true
	}
	if !ok {
		return def, nil
	}
	switch v.Kind {
	case KindInt:
		return v.Int, nil
	case KindBool:
		return intOf(v), nil
	case KindFloat:
		if v.Float == math.Trunc(v.Float) {
			return int(v.Float), nil
		}
	}
	return 0, errHere(CatType, "'%s' must be an integer, got %s", name, v.Kind)
}
