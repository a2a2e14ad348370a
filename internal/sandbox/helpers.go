package sandbox

import "math"

// installHelpers binds the strategy helper vocabulary: latest, prev,
// crossover, crossunder, above, below, bbands, macd, tail, and nz. These
// cover the patterns agents reach for most, so short snippets stay short.
func installHelpers(g *Scope) {
	g.Set("latest", BuiltinOf("latest", helperLatest))
	g.Set("prev", BuiltinOf("prev", helperPrev))
	g.Set("crossover", BuiltinOf("crossover", helperCrossover))
	g.Set("crossunder", BuiltinOf("crossunder", helperCrossunder))
	g.Set("above", BuiltinOf("above", helperAbove))
	g.Set("below", BuiltinOf("below", helperBelow))
	g.Set("bbands", BuiltinOf("bbands", helperBBands))
	g.Set("macd", BuiltinOf("macd", helperMACD))
	g.Set("tail", BuiltinOf("tail", helperTail))
	g.Set("nz", BuiltinOf("nz", helperNZ))
}

// floatOrNone maps NaN to None the way pandas isna does.
func floatOrNone(f float64) Value {
	if math.IsNaN(f) {
		return NoneValue()
	}
	return FloatValue(f)
}

// helperLatest reduces a series to its final value. Scalars pass through,
// NaN becomes None, so latest(x) is always safe to wrap around a result.
func helperLatest(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("latest", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	v := args[0]
	switch v.Kind {
	case KindSeries:
		f, ok := v.Series.Last()
		if !ok {
			return NoneValue(), nil
		}
		return floatOrNone(f), nil
	case KindBoolSeries:
		b, ok := v.BoolSeries.Last()
		if !ok {
			return NoneValue(), nil
		}
		return BoolValue(b), nil
	case KindFloat:
		return floatOrNone(v.Float), nil
	}
	return v, nil
}

// helperPrev returns the value n bars before the latest, None when that
// value is missing.
func helperPrev(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("prev", args, 1, 2); err != nil {
		return NoneValue(), err
	}
	n, err := optIntArg(args, kwargs, 1, "n", 1)
	if err != nil {
		return NoneValue(), err
	}
	v := args[0]
	if v.Kind != KindSeries {
		return NoneValue(), errHere(CatAttribute, "'%s' object has no attribute 'iloc'", v.Kind)
	}
	f, aerr := v.Series.At(-1 - n)
	if aerr != nil {
		return NoneValue(), errHere(CatIndex, "single positional indexer is out-of-bounds")
	}
	return floatOrNone(f), nil
}

// lastTwo extracts the final and prior values of a series.
func lastTwo(v Value) (last, before float64, err error) {
	if v.Kind != KindSeries {
		return 0, 0, errHere(CatAttribute, "'%s' object has no attribute 'iloc'", v.Kind)
	}
	if v.Series.Len() < 2 {
		return 0, 0, errHere(CatIndex, "single positional indexer is out-of-bounds")
	}
	a, _ := v.Series.At(-1)
	b, _ := v.Series.At(-2)
	return a, b, nil
}

func helperCrossover(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("crossover", args, 2, 2); err != nil {
		return NoneValue(), err
	}
	a1, a2, err := lastTwo(args[0])
	if err != nil {
		return NoneValue(), err
	}
	b1, b2, err := lastTwo(args[1])
	if err != nil {
		return NoneValue(), err
	}
	return BoolValue(a1 > b1 && a2 <= b2), nil
}

func helperCrossunder(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("crossunder", args, 2, 2); err != nil {
		return NoneValue(), err
	}
	a1, a2, err := lastTwo(args[0])
	if err != nil {
		return NoneValue(), err
	}
	b1, b2, err := lastTwo(args[1])
	if err != nil {
		return NoneValue(), err
	}
	return BoolValue(a1 < b1 && a2 >= b2), nil
}

// thresholdPair pulls the final value of a series and a scalar threshold.
// A series threshold reduces to its final value too.
func thresholdPair(args []Value) (float64, float64, error) {
	v := args[0]
	if v.Kind != KindSeries {
		return 0, 0, errHere(CatAttribute, "'%s' object has no attribute 'iloc'", v.Kind)
	}
	a, ok := v.Series.Last()
	if !ok {
		return 0, 0, errHere(CatIndex, "single positional indexer is out-of-bounds")
	}
	t := args[1]
	switch {
	case isNumeric(t):
		return a, asFloat(t), nil
	case t.Kind == KindSeries:
		b, ok := t.Series.Last()
		if !ok {
			return 0, 0, errHere(CatIndex, "single positional indexer is out-of-bounds")
		}
		return a, b, nil
	}
	return 0, 0, errHere(CatType, "'>' not supported between instances of 'float' and '%s'", t.Kind)
}

func helperAbove(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("above", args, 2, 2); err != nil {
		return NoneValue(), err
	}
	a, b, err := thresholdPair(args)
	if err != nil {
		return NoneValue(), err
	}
	return BoolValue(a > b), nil
}

func helperBelow(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("below", args, 2, 2); err != nil {
		return NoneValue(), err
	}
	a, b, err := thresholdPair(args)
	if err != nil {
		return NoneValue(), err
	}
	return BoolValue(a < b), nil
}

// lastCell reads the final value of a named table column, None when NaN.
func lastCell(t *TableValue, col string) Value {
	s, ok := t.Cols[col]
	if !ok {
		return NoneValue()
	}
	f, ok := s.Last()
	if !ok {
		return NoneValue()
	}
	return floatOrNone(f)
}

// helperBBands unpacks Bollinger bands into the latest (upper, middle,
// lower) values, or a tuple of None when the window does not fit.
func helperBBands(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("bbands", args, 1, 3); err != nil {
		return NoneValue(), err
	}
	s, err := wantSeriesArg("bbands", args, 0)
	if err != nil {
		return NoneValue(), err
	}
	length, err := optIntArg(args, kwargs, 1, "length", 20)
	if err != nil {
		return NoneValue(), err
	}
	std := 2.0
	if len(args) > 2 && isNumeric(args[2]) {
		std = asFloat(args[2])
	} else if v, ok := kwargs["std"]; ok && isNumeric(v) {
		std = asFloat(v)
	}
	if length < 1 || s.Len() < length {
		return TupleOf(NoneValue(), NoneValue(), NoneValue()), nil
	}
	table := bbandsTable(s, length, std).Table
	// column order is BBL, BBM, BBU; unpacked as (upper, middle, lower)
	return TupleOf(
		lastCell(table, table.Columns[2]),
		lastCell(table, table.Columns[1]),
		lastCell(table, table.Columns[0]),
	), nil
}

// helperMACD unpacks MACD into the latest (macd, signal, histogram) values,
// or a tuple of None when the slow window does not fit.
func helperMACD(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("macd", args, 1, 4); err != nil {
		return NoneValue(), err
	}
	s, err := wantSeriesArg("macd", args, 0)
	if err != nil {
		return NoneValue(), err
	}
	fast, err := optIntArg(args, kwargs, 1, "fast", 12)
	if err != nil {
		return NoneValue(), err
	}
	slow, err := optIntArg(args, kwargs, 2, "slow", 26)
	if err != nil {
		return NoneValue(), err
	}
	signal, err := optIntArg(args, kwargs, 3, "signal", 9)
	if err != nil {
		return NoneValue(), err
	}
	if slow < 1 || s.Len() < slow {
		return TupleOf(NoneValue(), NoneValue(), NoneValue()), nil
	}
	table := macdTable(s, fast, slow, signal).Table
	// column order is MACD_, MACDh_, MACDs_; unpacked as (macd, signal, hist)
	return TupleOf(
		lastCell(table, table.Columns[0]),
		lastCell(table, table.Columns[2]),
		lastCell(table, table.Columns[1]),
	), nil
}

// helperTail returns the last n entries of any window-shaped value as a
// plain list. Scalars wrap into a single-element list.
func helperTail(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("tail", args, 1, 2); err != nil {
		return NoneValue(), err
	}
	n, err := optIntArg(args, kwargs, 1, "n", 20)
	if err != nil {
		return NoneValue(), err
	}
	if n <= 0 {
		n = 1
	}
	if n > maxListItems {
		n = maxListItems
	}
	v := args[0]
	switch v.Kind {
	case KindNone:
		return ListOf(), nil
	case KindSeries:
		vals := v.Series.Tail(n).Values()
		elts := make([]Value, len(vals))
		for i, f := range vals {
			elts[i] = floatOrNone(f)
		}
		return ListOf(elts...), nil
	case KindBoolSeries:
		vals := v.BoolSeries.Values()
		if n < len(vals) {
			vals = vals[len(vals)-n:]
		}
		elts := make([]Value, len(vals))
		for i, b := range vals {
			elts[i] = BoolValue(b)
		}
		return ListOf(elts...), nil
	case KindList, KindTuple:
		elts := v.List.Elts
		if n < len(elts) {
			elts = elts[len(elts)-n:]
		}
		return ListOf(elts...), nil
	}
	return ListOf(v), nil
}

// helperNZ substitutes a default for missing values. A series reduces to
// its final value first; None, NaN, and infinities all count as missing.
func helperNZ(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("nz", args, 1, 2); err != nil {
		return NoneValue(), err
	}
	def := FloatValue(0)
	if len(args) == 2 {
		def = args[1]
	} else if v, ok := kwargs["default"]; ok {
		def = v
	}
	v := args[0]
	if v.Kind == KindSeries {
		f, ok := v.Series.Last()
		if !ok {
			return def, nil
		}
		v = FloatValue(f)
	}
	if v.Kind == KindNone {
		return def, nil
	}
	if v.Kind == KindFloat && (math.IsNaN(v.Float) || math.IsInf(v.Float, 0)) {
		return def, nil
	}
	return v, nil
}
