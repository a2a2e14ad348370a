package sandbox

import (
	"math"
	"strconv"
	"strings"

	"github.com/lyeka/agentic-bt/internal/frame"
	"github.com/lyeka/agentic-bt/internal/indicators"
)

// installBuiltins binds the callable vocabulary into the global scope. The
// set is fixed: introspection, I/O, and dynamic evaluation builtins are
// deliberately absent, so referencing them fails with a NameError.
func installBuiltins(g *Scope) {
	g.Set("abs", BuiltinOf("abs", builtinAbs))
	g.Set("all", BuiltinOf("all", builtinAll))
	g.Set("any", BuiltinOf("any", builtinAny))
	g.Set("bool", BuiltinOf("bool", builtinBool))
	g.Set("dict", BuiltinOf("dict", builtinDict))
	g.Set("enumerate", BuiltinOf("enumerate", builtinEnumerate))
	g.Set("float", BuiltinOf("float", builtinFloat))
	g.Set("int", BuiltinOf("int", builtinInt))
	g.Set("len", BuiltinOf("len", builtinLen))
	g.Set("list", BuiltinOf("list", builtinList))
	g.Set("max", BuiltinOf("max", builtinMax))
	g.Set("min", BuiltinOf("min", builtinMin))
	g.Set("print", BuiltinOf("print", builtinPrint))
	g.Set("range", BuiltinOf("range", builtinRange))
	g.Set("round", BuiltinOf("round", builtinRound))
	g.Set("sorted", BuiltinOf("sorted", builtinSorted))
	g.Set("str", BuiltinOf("str", builtinStr))
	g.Set("sum", BuiltinOf("sum", builtinSum))
	g.Set("tuple", BuiltinOf("tuple", builtinTuple))
	g.Set("zip", BuiltinOf("zip", builtinZip))
}

func needArgs(name string, args []Value, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		if min == max {
			return errHere(CatType, "%s() takes exactly %d argument(s) (%d given)", name, min, len(args))
		}
		return errHere(CatType, "%s() takes %d to %d arguments (%d given)", name, min, max, len(args))
	}
	return nil
}

func builtinAbs(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("abs", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	v := args[0]
	switch v.Kind {
	case KindInt:
		if v.Int < 0 {
			return IntValue(-v.Int), nil
		}
		return v, nil
	case KindFloat:
		return FloatValue(math.Abs(v.Float)), nil
	case KindBool:
		return IntValue(intOf(v)), nil
	case KindSeries:
		return SeriesValue(v.Series.Map(math.Abs)), nil
	}
	return NoneValue(), errHere(CatType, "bad operand type for abs(): '%s'", v.Kind)
}

func builtinAll(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("all", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	items, err := ev.iterateValue(args[0], 0)
	if err != nil {
		return NoneValue(), err
	}
	for _, item := range items {
		t, err := ev.truthy(item, 0)
		if err != nil {
			return NoneValue(), err
		}
		if !t {
			return BoolValue(false), nil
		}
	}
	return BoolValue(true), nil
}

func builtinAny(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("any", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	items, err := ev.iterateValue(args[0], 0)
	if err != nil {
		return NoneValue(), err
	}
	for _, item := range items {
		t, err := ev.truthy(item, 0)
		if err != nil {
			return NoneValue(), err
		}
		if t {
			return BoolValue(true), nil
		}
	}
	return BoolValue(false), nil
}

func builtinBool(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) == 0 {
		return BoolValue(false), nil
	}
	if err := needArgs("bool", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	t, err := ev.truthy(args[0], 0)
	if err != nil {
		return NoneValue(), err
	}
	return BoolValue(t), nil
}

func builtinDict(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	out := DictOf()
	if len(args) == 1 {
		switch args[0].Kind {
		case KindDict:
			src := args[0].Dict
			for i := range src.Keys {
				out.Dict.Set(src.Keys[i], src.Vals[i])
			}
		case KindList, KindTuple:
			for _, elt := range args[0].List.Elts {
				if (elt.Kind != KindList && elt.Kind != KindTuple) || len(elt.List.Elts) != 2 {
					return NoneValue(), errHere(CatValue, "dictionary update sequence element is not a length-2 sequence")
				}
				out.Dict.Set(elt.List.Elts[0], elt.List.Elts[1])
			}
		default:
			return NoneValue(), errHere(CatType, "'%s' object is not iterable", args[0].Kind)
		}
	} else if len(args) > 1 {
		return NoneValue(), errHere(CatType, "dict expected at most 1 argument, got %d", len(args))
	}
	for name, v := range kwargs {
		out.Dict.SetStr(name, v)
	}
	return out, nil
}

func builtinEnumerate(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("enumerate", args, 1, 2); err != nil {
		return NoneValue(), err
	}
	start := 0
	if len(args) == 2 || kwargs["start"].Kind == KindInt {
		n, err := optIntArg(args, kwargs, 1, "start", 0)
		if err != nil {
			return NoneValue(), err
		}
		start = n
	}
	items, err := ev.iterateValue(args[0], 0)
	if err != nil {
		return NoneValue(), err
	}
	elts := make([]Value, len(items))
	for i, item := range items {
		elts[i] = TupleOf(IntValue(start+i), item)
	}
	return ListOf(elts...), nil
}

func builtinFloat(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) == 0 {
		return FloatValue(0), nil
	}
	if err := needArgs("float", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	v := args[0]
	switch v.Kind {
	case KindInt, KindFloat, KindBool:
		return FloatValue(asFloat(v)), nil
	case KindStr:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return NoneValue(), errHere(CatValue, "could not convert string to float: '%s'", v.Str)
		}
		return FloatValue(f), nil
	}
	return NoneValue(), errHere(CatType, "float() argument must be a string or a real number, not '%s'", v.Kind)
}

func builtinInt(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) == 0 {
		return IntValue(0), nil
	}
	if err := needArgs("int", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	v := args[0]
	switch v.Kind {
	case KindInt:
		return v, nil
	case KindBool:
		return IntValue(intOf(v)), nil
	case KindFloat:
		if math.IsNaN(v.Float) {
			return NoneValue(), errHere(CatValue, "cannot convert float NaN to integer")
		}
		if math.IsInf(v.Float, 0) {
			return NoneValue(), errHere(CatValue, "cannot convert float infinity to integer")
		}
		return IntValue(int(math.Trunc(v.Float))), nil
	case KindStr:
		n, err := strconv.Atoi(strings.TrimSpace(v.Str))
		if err != nil {
			return NoneValue(), errHere(CatValue, "invalid literal for int() with base 10: '%s'", v.Str)
		}
		return IntValue(n), nil
	}
	return NoneValue(), errHere(CatType, "int() argument must be a string or a number, not '%s'", v.Kind)
}

func builtinLen(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("len", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	v := args[0]
	switch v.Kind {
	case KindStr:
		return IntValue(len([]rune(v.Str))), nil
	case KindList, KindTuple:
		return IntValue(len(v.List.Elts)), nil
	case KindDict:
		return IntValue(v.Dict.Len()), nil
	case KindSeries:
		return IntValue(v.Series.Len()), nil
	case KindBoolSeries:
		return IntValue(v.BoolSeries.Len()), nil
	case KindFrame:
		return IntValue(v.Frame.Len()), nil
	case KindTable:
		return IntValue(v.Table.Rows), nil
	case KindRange:
		return IntValue(v.Range.Len()), nil
	}
	return NoneValue(), errHere(CatType, "object of type '%s' has no len()", v.Kind)
}

func builtinList(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) == 0 {
		return ListOf(), nil
	}
	if err := needArgs("list", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	items, err := ev.iterateValue(args[0], 0)
	if err != nil {
		return NoneValue(), err
	}
	return ListOf(items...), nil
}

func extremeOf(ev *Evaluator, name string, args []Value, kwargs map[string]Value, wantMax bool) (Value, error) {
	if len(args) == 0 {
		return NoneValue(), errHere(CatType, "%s expected at least 1 argument, got 0", name)
	}
	items := args
	if len(args) == 1 {
		var err error
		items, err = ev.iterateValue(args[0], 0)
		if err != nil {
			return NoneValue(), err
		}
		if len(items) == 0 {
			return NoneValue(), errHere(CatValue, "%s() arg is an empty sequence", name)
		}
	}
	key, hasKey := kwargs["key"]
	best := items[0]
	bestKey := best
	if hasKey {
		k, err := ev.callValue(key, []Value{best}, nil, 0)
		if err != nil {
			return NoneValue(), err
		}
		bestKey = k
	}
	for _, item := range items[1:] {
		cand := item
		if hasKey {
			k, err := ev.callValue(key, []Value{item}, nil, 0)
			if err != nil {
				return NoneValue(), err
			}
			cand = k
		}
		less, err := valueLess(cand, bestKey)
		if err != nil {
			return NoneValue(), err
		}
		if (wantMax && !less && !valueEqual(cand, bestKey)) || (!wantMax && less) {
			best, bestKey = item, cand
		}
	}
	return best, nil
}

func builtinMax(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	return extremeOf(ev, "max", args, kwargs, true)
}

func builtinMin(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	return extremeOf(ev, "min", args, kwargs, false)
}

func builtinPrint(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	sep := " "
	end := "\n"
	if v, ok := kwargs["sep"]; ok && v.Kind == KindStr {
		sep = v.Str
	}
	if v, ok := kwargs["end"]; ok && v.Kind == KindStr {
		end = v.Str
	}
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = pyStr(arg)
	}
	ev.stdout.WriteString(strings.Join(parts, sep))
	ev.stdout.WriteString(end)
	return NoneValue(), nil
}

func builtinRange(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("range", args, 1, 3); err != nil {
		return NoneValue(), err
	}
	ints := make([]int, len(args))
	for i, arg := range args {
		if arg.Kind != KindInt {
			return NoneValue(), errHere(CatType, "'%s' object cannot be interpreted as an integer", arg.Kind)
		}
		ints[i] = arg.Int
	}
	r := RangeValue{Start: 0, Stop: ints[0], Step: 1}
	if len(ints) >= 2 {
		r.Start, r.Stop = ints[0], ints[1]
	}
	if len(ints) == 3 {
		if ints[2] == 0 {
			return NoneValue(), errHere(CatValue, "range() arg 3 must not be zero")
		}
		r.Step = ints[2]
	}
	return Value{Kind: KindRange, Range: r}, nil
}

func builtinRound(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("round", args, 1, 2); err != nil {
		return NoneValue(), err
	}
	v := args[0]
	if !isNumeric(v) {
		return NoneValue(), errHere(CatType, "type %s doesn't define __round__ method", v.Kind)
	}
	if len(args) == 1 {
		f := asFloat(v)
		if math.IsNaN(f) {
			return NoneValue(), errHere(CatValue, "cannot convert float NaN to integer")
		}
		if math.IsInf(f, 0) {
			return NoneValue(), errHere(CatValue, "cannot convert float infinity to integer")
		}
		return IntValue(int(math.RoundToEven(f))), nil
	}
	n, err := optIntArg(args, kwargs, 1, "ndigits", 0)
	if err != nil {
		return NoneValue(), err
	}
	if v.Kind == KindInt {
		return v, nil
	}
	return FloatValue(roundHalfEven(asFloat(v), n)), nil
}

func builtinSorted(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("sorted", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	items, err := ev.iterateValue(args[0], 0)
	if err != nil {
		return NoneValue(), err
	}
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
	if err := ev.sortValues(items, key, reverse); err != nil {
		return NoneValue(), err
	}
	return ListOf(items...), nil
}

func builtinStr(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) == 0 {
		return StrValue(""), nil
	}
	if err := needArgs("str", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	return StrValue(pyStr(args[0])), nil
}

func builtinSum(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if err := needArgs("sum", args, 1, 2); err != nil {
		return NoneValue(), err
	}
	items, err := ev.iterateValue(args[0], 0)
	if err != nil {
		return NoneValue(), err
	}
	allInt := true
	total := 0.0
	if len(args) == 2 {
		if !isNumeric(args[1]) {
			return NoneValue(), errHere(CatType, "unsupported operand type(s) for +: '%s' and '%s'", args[1].Kind, "int")
		}
		if args[1].Kind != KindInt {
			allInt = false
		}
		total = asFloat(args[1])
	}
	for _, item := range items {
		if !isNumeric(item) {
			return NoneValue(), errHere(CatType, "unsupported operand type(s) for +: '%s' and '%s'", "int", item.Kind)
		}
		if item.Kind == KindFloat {
			allInt = false
		}
		total += asFloat(item)
	}
	if allInt {
		return IntValue(int(total)), nil
	}
	return FloatValue(total), nil
}

func builtinTuple(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) == 0 {
		return TupleOf(), nil
	}
	if err := needArgs("tuple", args, 1, 1); err != nil {
		return NoneValue(), err
	}
	items, err := ev.iterateValue(args[0], 0)
	if err != nil {
		return NoneValue(), err
	}
	return TupleOf(items...), nil
}

func builtinZip(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) == 0 {
		return ListOf(), nil
	}
	lists := make([][]Value, len(args))
	shortest := -1
	for i, arg := range args {
		items, err := ev.iterateValue(arg, 0)
		if err != nil {
			return NoneValue(), err
		}
		lists[i] = items
		if shortest < 0 || len(items) < shortest {
			shortest = len(items)
		}
	}
	elts := make([]Value, shortest)
	for i := 0; i < shortest; i++ {
		row := make([]Value, len(lists))
		for j := range lists {
			row[j] = lists[j][i]
		}
		elts[i] = TupleOf(row...)
	}
	return ListOf(elts...), nil
}

// ════════════════════════════════════════════════════════════════════
// Preloaded modules
// ════════════════════════════════════════════════════════════════════

func scalarFn(name string, f func(float64) (float64, error)) Value {
	return BuiltinOf(name, func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
		if err := needArgs(name, args, 1, 1); err != nil {
			return NoneValue(), err
		}
		if !isNumeric(args[0]) {
			return NoneValue(), errHere(CatType, "must be real number, not %s", args[0].Kind)
		}
		out, err := f(asFloat(args[0]))
		if err != nil {
			return NoneValue(), err
		}
		return FloatValue(out), nil
	})
}

func domainChecked(f func(float64) float64, valid func(float64) bool) func(float64) (float64, error) {
	return func(x float64) (float64, error) {
		if !valid(x) {
			return 0, errHere(CatValue, "math domain error")
		}
		return f(x), nil
	}
}

func mathModule() Value {
	return ModuleOf("math", map[string]Value{
		"pi":  FloatValue(math.Pi),
		"e":   FloatValue(math.E),
		"inf": FloatValue(math.Inf(1)),
		"nan": FloatValue(math.NaN()),
		"sqrt": scalarFn("sqrt", domainChecked(math.Sqrt, func(x float64) bool {
			return x >= 0 || math.IsNaN(x)
		})),
		"log": scalarFn("log", domainChecked(math.Log, func(x float64) bool {
			return x > 0 || math.IsNaN(x)
		})),
		"log10": scalarFn("log10", domainChecked(math.Log10, func(x float64) bool {
			return x > 0 || math.IsNaN(x)
		})),
		"log2": scalarFn("log2", domainChecked(math.Log2, func(x float64) bool {
			return x > 0 || math.IsNaN(x)
		})),
		"exp": scalarFn("exp", func(x float64) (float64, error) { return math.Exp(x), nil }),
		"fabs": scalarFn("fabs", func(x float64) (float64, error) {
			return math.Abs(x), nil
		}),
		"pow": BuiltinOf("pow", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if err := needArgs("pow", args, 2, 2); err != nil {
				return NoneValue(), err
			}
			if !isNumeric(args[0]) || !isNumeric(args[1]) {
				return NoneValue(), errHere(CatType, "must be real number")
			}
			return FloatValue(math.Pow(asFloat(args[0]), asFloat(args[1]))), nil
		}),
		"floor": intUnary("floor", math.Floor),
		"ceil":  intUnary("ceil", math.Ceil),
		"isnan": predicate("isnan", math.IsNaN),
		"isinf": predicate("isinf", func(x float64) bool { return math.IsInf(x, 0) }),
		"isfinite": predicate("isfinite", func(x float64) bool {
			return !math.IsNaN(x) && !math.IsInf(x, 0)
		}),
	})
}

func intUnary(name string, f func(float64) float64) Value {
	return BuiltinOf(name, func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
		if err := needArgs(name, args, 1, 1); err != nil {
			return NoneValue(), err
		}
		if !isNumeric(args[0]) {
			return NoneValue(), errHere(CatType, "must be real number, not %s", args[0].Kind)
		}
		x := asFloat(args[0])
		if math.IsNaN(x) {
			return NoneValue(), errHere(CatValue, "cannot convert float NaN to integer")
		}
		if math.IsInf(x, 0) {
			return NoneValue(), errHere(CatValue, "cannot convert float infinity to integer")
		}
		return IntValue(int(f(x))), nil
	})
}

func predicate(name string, f func(float64) bool) Value {
	return BuiltinOf(name, func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
		if err := needArgs(name, args, 1, 1); err != nil {
			return NoneValue(), err
		}
		v := args[0]
		if v.Kind == KindSeries {
			return BoolSeriesValue(v.Series.MapBool(f)), nil
		}
		if !isNumeric(v) {
			if v.Kind == KindNone {
				return NoneValue(), errHere(CatType, "must be real number, not NoneType")
			}
			return NoneValue(), errHere(CatType, "must be real number, not %s", v.Kind)
		}
		return BoolValue(f(asFloat(v))), nil
	})
}

// asNumericSeries coerces a series or a numeric list into a series.
func asNumericSeries(v Value) (*frame.Series, bool) {
	switch v.Kind {
	case KindSeries:
		return v.Series, true
	case KindList, KindTuple:
		vals := make([]float64, len(v.List.Elts))
		for i, elt := range v.List.Elts {
			switch {
			case isNumeric(elt):
				vals[i] = asFloat(elt)
			case elt.Kind == KindNone:
				vals[i] = math.NaN()
			default:
				return nil, false
			}
		}
		return frame.NewSeries("", vals), true
	}
	return nil, false
}

// statFn reduces a series or list to a scalar. NaN propagates unless the
// skipping variant is requested, matching numpy.
func statFn(name string, reduce func(vals []float64) float64) Value {
	return BuiltinOf(name, func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
		if err := needArgs(name, args, 1, 1); err != nil {
			return NoneValue(), err
		}
		s, ok := asNumericSeries(args[0])
		if !ok {
			if isNumeric(args[0]) {
				return FloatValue(asFloat(args[0])), nil
			}
			return NoneValue(), errHere(CatType, "cannot perform reduce with flexible type")
		}
		return FloatValue(reduce(s.Values())), nil
	})
}

func plainMean(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func plainStd(vals []float64, ddof int) float64 {
	if len(vals) <= ddof {
		return math.NaN()
	}
	mean := plainMean(vals)
	sq := 0.0
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vals)-ddof))
}

func elementwiseFn(name string, f func(float64) float64) Value {
	return BuiltinOf(name, func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
		if err := needArgs(name, args, 1, 1); err != nil {
			return NoneValue(), err
		}
		v := args[0]
		if isNumeric(v) {
			return FloatValue(f(asFloat(v))), nil
		}
		if s, ok := asNumericSeries(v); ok {
			return SeriesValue(s.Map(f)), nil
		}
		return NoneValue(), errHere(CatType, "ufunc '%s' not supported for the input types", name)
	})
}

func npModule() Value {
	return ModuleOf("numpy", map[string]Value{
		"nan": FloatValue(math.NaN()),
		"inf": FloatValue(math.Inf(1)),
		"pi":  FloatValue(math.Pi),
		"e":   FloatValue(math.E),

		"mean": statFn("mean", plainMean),
		"std": BuiltinOf("std", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if err := needArgs("std", args, 1, 1); err != nil {
				return NoneValue(), err
			}
			ddof, err := optIntArg(nil, kwargs, 0, "ddof", 0)
			if err != nil {
				return NoneValue(), err
			}
			s, ok := asNumericSeries(args[0])
			if !ok {
				return NoneValue(), errHere(CatType, "cannot perform reduce with flexible type")
			}
			return FloatValue(plainStd(s.Values(), ddof)), nil
		}),
		"sum": statFn("sum", func(vals []float64) float64 {
			sum := 0.0
			for _, v := range vals {
				sum += v
			}
			return sum
		}),
		"min": statFn("min", func(vals []float64) float64 {
			if len(vals) == 0 {
				return math.NaN()
			}
			min := vals[0]
			for _, v := range vals[1:] {
				if math.IsNaN(v) {
					return math.NaN()
				}
				if v < min {
					min = v
				}
			}
			return min
		}),
		"max": statFn("max", func(vals []float64) float64 {
			if len(vals) == 0 {
				return math.NaN()
			}
			max := vals[0]
			for _, v := range vals[1:] {
				if math.IsNaN(v) {
					return math.NaN()
				}
				if v > max {
					max = v
				}
			}
			return max
		}),
		"nanmean": statFn("nanmean", nanMean),
		"nanstd": statFn("nanstd", func(vals []float64) float64 {
			return nanStd(vals, 0)
		}),
		"nanmin": statFn("nanmin", nanMin),
		"nanmax": statFn("nanmax", nanMax),
		"nansum": statFn("nansum", nanSum),

		"abs":  elementwiseFn("absolute", math.Abs),
		"sqrt": elementwiseFn("sqrt", math.Sqrt),
		"log":  elementwiseFn("log", math.Log),
		"exp":  elementwiseFn("exp", math.Exp),

		"isnan": predicate("isnan", math.IsNaN),

		"diff": BuiltinOf("diff", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if err := needArgs("diff", args, 1, 2); err != nil {
				return NoneValue(), err
			}
			n, err := optIntArg(args, kwargs, 1, "n", 1)
			if err != nil {
				return NoneValue(), err
			}
			s, ok := asNumericSeries(args[0])
			if !ok {
				return NoneValue(), errHere(CatType, "diff requires an array or series")
			}
			vals := s.Values()
			if n < 0 {
				return NoneValue(), errHere(CatValue, "order must be non-negative but got %d", n)
			}
			if n >= len(vals) {
				return SeriesValue(frame.NewSeries(s.Name(), nil)), nil
			}
			out := make([]float64, len(vals)-n)
			for i := range out {
				out[i] = vals[i+n] - vals[i]
			}
			return SeriesValue(frame.NewSeries(s.Name(), out)), nil
		}),
		"cumsum": BuiltinOf("cumsum", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if err := needArgs("cumsum", args, 1, 1); err != nil {
				return NoneValue(), err
			}
			s, ok := asNumericSeries(args[0])
			if !ok {
				return NoneValue(), errHere(CatType, "cumsum requires an array or series")
			}
			return SeriesValue(s.CumSum()), nil
		}),
		"where": BuiltinOf("where", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if err := needArgs("where", args, 3, 3); err != nil {
				return NoneValue(), err
			}
			cond := args[0]
			if cond.Kind == KindBool {
				if cond.Bool {
					return args[1], nil
				}
				return args[2], nil
			}
			if cond.Kind != KindBoolSeries {
				return NoneValue(), errHere(CatType, "where condition must be boolean")
			}
			pick := func(v Value, i int) (float64, error) {
				switch v.Kind {
				case KindSeries:
					f, err := v.Series.At(i)
					if err != nil {
						return 0, errHere(CatValue, "operands could not be broadcast together")
					}
					return f, nil
				case KindInt, KindFloat, KindBool:
					return asFloat(v), nil
				}
				return 0, errHere(CatType, "where operands must be numbers or series")
			}
			n := cond.BoolSeries.Len()
			out := make([]float64, n)
			for i, b := range cond.BoolSeries.Values() {
				src := args[2]
				if b {
					src = args[1]
				}
				f, err := pick(src, i)
				if err != nil {
					return NoneValue(), err
				}
				out[i] = f
			}
			return SeriesValue(frame.NewSeries("", out)), nil
		}),
		"maximum": pairwiseFn("maximum", math.Max),
		"minimum": pairwiseFn("minimum", math.Min),
		"array": BuiltinOf("array", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if err := needArgs("array", args, 1, 1); err != nil {
				return NoneValue(), err
			}
			s, ok := asNumericSeries(args[0])
			if !ok {
				return NoneValue(), errHere(CatValue, "could not convert input to a numeric array")
			}
			return SeriesValue(s), nil
		}),
	})
}

func pairwiseFn(name string, f func(a, b float64) float64) Value {
	return BuiltinOf(name, func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
		if err := needArgs(name, args, 2, 2); err != nil {
			return NoneValue(), err
		}
		a, b := args[0], args[1]
		switch {
		case isNumeric(a) && isNumeric(b):
			return FloatValue(f(asFloat(a), asFloat(b))), nil
		case a.Kind == KindSeries && isNumeric(b):
			x := asFloat(b)
			return SeriesValue(a.Series.Map(func(v float64) float64 { return f(v, x) })), nil
		case isNumeric(a) && b.Kind == KindSeries:
			x := asFloat(a)
			return SeriesValue(b.Series.Map(func(v float64) float64 { return f(x, v) })), nil
		case a.Kind == KindSeries && b.Kind == KindSeries:
			out, err := a.Series.Zip(b.Series, f)
			if err != nil {
				return NoneValue(), errHere(CatValue, "operands could not be broadcast together")
			}
			return SeriesValue(out), nil
		}
		return NoneValue(), errHere(CatType, "ufunc '%s' not supported for the input types", name)
	})
}

func pdModule() Value {
	return ModuleOf("pandas", map[string]Value{
		"Series": BuiltinOf("Series", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) == 0 {
				return SeriesValue(frame.NewSeries("", nil)), nil
			}
			if err := needArgs("Series", args, 1, 1); err != nil {
				return NoneValue(), err
			}
			name := ""
			if v, ok := kwargs["name"]; ok && v.Kind == KindStr {
				name = v.Str
			}
			if args[0].Kind == KindSeries {
				if name == "" {
					return args[0], nil
				}
				return SeriesValue(frame.NewSeries(name, args[0].Series.Values())), nil
			}
			s, ok := asNumericSeries(args[0])
			if !ok {
				return NoneValue(), errHere(CatType, "Series data must be numeric")
			}
			return SeriesValue(frame.NewSeries(name, s.Values())), nil
		}),
		"isna":  naPredicate("isna", false),
		"notna": naPredicate("notna", true),
	})
}

// naPredicate answers missing-value checks. None and NaN count as missing.
func naPredicate(name string, invert bool) Value {
	return BuiltinOf(name, func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
		if err := needArgs(name, args, 1, 1); err != nil {
			return NoneValue(), err
		}
		v := args[0]
		if v.Kind == KindSeries {
			return BoolSeriesValue(v.Series.MapBool(func(f float64) bool {
				return math.IsNaN(f) != invert
			})), nil
		}
		missing := v.Kind == KindNone || (v.Kind == KindFloat && math.IsNaN(v.Float))
		return BoolValue(missing != invert), nil
	})
}

// ────────────────────────────────────────────────────────────────────
// pandas_ta bridge
// ────────────────────────────────────────────────────────────────────

func wantSeriesArg(name string, args []Value, pos int) (*frame.Series, error) {
	if pos >= len(args) {
		return nil, errHere(CatType, "%s() missing required series argument", name)
	}
	s, ok := asNumericSeries(args[pos])
	if !ok {
		return nil, errHere(CatType, "%s() argument %d must be a Series", name, pos+1)
	}
	return s, nil
}

func taModule() Value {
	lengthOf := func(args []Value, kwargs map[string]Value, pos, def int) (int, error) {
		return optIntArg(args, kwargs, pos, "length", def)
	}

	return ModuleOf("pandas_ta", map[string]Value{
		"sma": BuiltinOf("sma", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			s, err := wantSeriesArg("sma", args, 0)
			if err != nil {
				return NoneValue(), err
			}
			length, err := lengthOf(args, kwargs, 1, 20)
			if err != nil {
				return NoneValue(), err
			}
			out := indicators.SMASeries(s.Values(), length)
			return SeriesValue(frame.NewSeries("SMA_"+strconv.Itoa(length), out)), nil
		}),
		"ema": BuiltinOf("ema", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			s, err := wantSeriesArg("ema", args, 0)
			if err != nil {
				return NoneValue(), err
			}
			length, err := lengthOf(args, kwargs, 1, 20)
			if err != nil {
				return NoneValue(), err
			}
			out := indicators.EMASeries(s.Values(), length)
			return SeriesValue(frame.NewSeries("EMA_"+strconv.Itoa(length), out)), nil
		}),
		"rsi": BuiltinOf("rsi", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			s, err := wantSeriesArg("rsi", args, 0)
			if err != nil {
				return NoneValue(), err
			}
			length, err := lengthOf(args, kwargs, 1, 14)
			if err != nil {
				return NoneValue(), err
			}
			out := indicators.RSISeries(s.Values(), length)
			return SeriesValue(frame.NewSeries("RSI_"+strconv.Itoa(length), out)), nil
		}),
		"atr": BuiltinOf("atr", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			high, err := wantSeriesArg("atr", args, 0)
			if err != nil {
				return NoneValue(), err
			}
			low, err := wantSeriesArg("atr", args, 1)
			if err != nil {
				return NoneValue(), err
			}
			close, err := wantSeriesArg("atr", args, 2)
			if err != nil {
				return NoneValue(), err
			}
			length, err := lengthOf(args, kwargs, 3, 14)
			if err != nil {
				return NoneValue(), err
			}
			out := indicators.ATRSeries(high.Values(), low.Values(), close.Values(), length)
			return SeriesValue(frame.NewSeries("ATR_"+strconv.Itoa(length), out)), nil
		}),
		"macd": BuiltinOf("macd", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
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
			return macdTable(s, fast, slow, signal), nil
		}),
		"bbands": BuiltinOf("bbands", func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error) {
			s, err := wantSeriesArg("bbands", args, 0)
			if err != nil {
				return NoneValue(), err
			}
			length, err := lengthOf(args, kwargs, 1, 20)
			if err != nil {
				return NoneValue(), err
			}
			std := 2.0
			if len(args) > 2 && isNumeric(args[2]) {
				std = asFloat(args[2])
			} else if v, ok := kwargs["std"]; ok && isNumeric(v) {
				std = asFloat(v)
			}
			return bbandsTable(s, length, std), nil
		}),
	})
}

// macdTable builds the three-column frame pandas_ta returns for MACD.
func macdTable(s *frame.Series, fast, slow, signal int) Value {
	macd, sig, hist := indicators.MACDSeries(s.Values(), fast, slow, signal)
	suffix := strconv.Itoa(fast) + "_" + strconv.Itoa(slow) + "_" + strconv.Itoa(signal)
	cols := []string{"MACD_" + suffix, "MACDh_" + suffix, "MACDs_" + suffix}
	return TableValueOf(&TableValue{
		Columns: cols,
		Cols: map[string]*frame.Series{
			cols[0]: frame.NewSeries(cols[0], macd),
			cols[1]: frame.NewSeries(cols[1], hist),
			cols[2]: frame.NewSeries(cols[2], sig),
		},
		Rows: len(macd),
	})
}

// bbandsTable builds the five-column frame pandas_ta returns for Bollinger
// bands: lower, middle, upper, bandwidth, and percent position.
func bbandsTable(s *frame.Series, length int, std float64) Value {
	upper, middle, lower := indicators.BollingerSeries(s.Values(), length, std)
	suffix := strconv.Itoa(length) + "_" + formatFloat(std)
	names := []string{"BBL_" + suffix, "BBM_" + suffix, "BBU_" + suffix, "BBB_" + suffix, "BBP_" + suffix}

	n := len(upper)
	bandwidth := make([]float64, n)
	percent := make([]float64, n)
	vals := s.Values()
	for i := 0; i < n; i++ {
		u, m, l := upper[i], middle[i], lower[i]
		if math.IsNaN(u) || math.IsNaN(m) || math.IsNaN(l) || m == 0 || u == l {
			bandwidth[i] = math.NaN()
			percent[i] = math.NaN()
			continue
		}
		bandwidth[i] = (u - l) / m * 100
		percent[i] = (vals[i] - l) / (u - l)
	}

	return TableValueOf(&TableValue{
		Columns: names,
		Cols: map[string]*frame.Series{
			names[0]: frame.NewSeries(names[0], lower),
			names[1]: frame.NewSeries(names[1], middle),
			names[2]: frame.NewSeries(names[2], upper),
			names[3]: frame.NewSeries(names[3], bandwidth),
			names[4]: frame.NewSeries(names[4], percent),
		},
		Rows: n,
	})
}
