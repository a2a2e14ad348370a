package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lyeka/agentic-bt/internal/frame"
)

// ════════════════════════════════════════════════════════════════════
// Value Types
// ════════════════════════════════════════════════════════════════════

// Kind enumerates the possible runtime types of a sandbox value.
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr
	KindList
	KindTuple
	KindDict
	KindSeries
	KindBoolSeries
	KindFrame
	KindTable
	KindTime
	KindRange
	KindRolling
	KindIndexer
	KindBuiltin
	KindFunc
	KindModule
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "NoneType"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "str"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	case KindDict:
		return "dict"
	case KindSeries, KindBoolSeries:
		return "Series"
	case KindFrame, KindTable:
		return "DataFrame"
	case KindTime:
		return "datetime"
	case KindRange:
		return "range"
	case KindRolling:
		return "Rolling"
	case KindIndexer:
		return "_iLocIndexer"
	case KindBuiltin, KindFunc:
		return "function"
	case KindModule:
		return "module"
	default:
		return "object"
	}
}

// BuiltinImpl is the signature of builtin functions and helpers. The
// evaluator calls it with already-evaluated positional and keyword args.
type BuiltinImpl func(ev *Evaluator, args []Value, kwargs map[string]Value) (Value, error)

// ListValue holds mutable list storage shared between references.
type ListValue struct {
	Elts []Value
}

// DictValue holds an insertion-ordered mapping.
type DictValue struct {
	Keys []Value
	Vals []Value
}

// TableValue is a column-oriented frame of named series, the shape returned
// by ta.macd and ta.bbands.
type TableValue struct {
	Columns []string
	Cols    map[string]*frame.Series
	Rows    int
}

// RangeValue is a lazily iterated integer range.
type RangeValue struct {
	Start, Stop, Step int
}

// Len returns the number of elements the range yields.
func (r RangeValue) Len() int {
	if r.Step == 0 {
		return 0
	}
	if r.Step > 0 {
		if r.Stop <= r.Start {
			return 0
		}
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	}
	if r.Stop >= r.Start {
		return 0
	}
	return (r.Start - r.Stop - r.Step - 1) / (-r.Step)
}

// FuncValue is a user-defined def or lambda with its closure.
type FuncValue struct {
	Name    string
	Params  []Param
	Body    []Stmt // nil for lambdas
	Expr    Expr   // lambda body
	Closure *Scope
}

// BuiltinValue is a named native function.
type BuiltinValue struct {
	Name string
	Impl BuiltinImpl
}

// ModuleValue is a fixed attribute namespace such as math, np, pd, or ta.
type ModuleValue struct {
	Name  string
	Attrs map[string]Value
}

// Value is the universal runtime value of the sandbox interpreter.
type Value struct {
	Kind       Kind
	Bool       bool
	Int        int
	Float      float64
	Str        string
	List       *ListValue
	Dict       *DictValue
	Series     *frame.Series
	BoolSeries *frame.BoolSeries
	Frame      *frame.Frame
	Table      *TableValue
	Time       time.Time
	Range      RangeValue
	Rolling    *frame.Series // receiver of a pending rolling window
	RollWindow int
	Indexer    *IndexerValue // receiver of .iloc
	Builtin    *BuiltinValue
	Func       *FuncValue
	Module     *ModuleValue
}

// ────────────────────────────────────────────────────────────────────
// Constructors
// ────────────────────────────────────────────────────────────────────

// NoneValue creates the None value.
func NoneValue() Value { return Value{Kind: KindNone} }

// BoolValue creates a bool value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue creates an int value.
func IntValue(i int) Value { return Value{Kind: KindInt, Int: i} }

// FloatValue creates a float value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// StrValue creates a string value.
func StrValue(s string) Value { return Value{Kind: KindStr, Str: s} }

// ListOf creates a list value over the given elements.
func ListOf(elts ...Value) Value {
	return Value{Kind: KindList, List: &ListValue{Elts: elts}}
}

// TupleOf creates a tuple value over the given elements.
func TupleOf(elts ...Value) Value {
	return Value{Kind: KindTuple, List: &ListValue{Elts: elts}}
}

// DictOf creates an empty dict value.
func DictOf() Value {
	return Value{Kind: KindDict, Dict: &DictValue{}}
}

// SeriesValue wraps a frame series.
func SeriesValue(s *frame.Series) Value { return Value{Kind: KindSeries, Series: s} }

// BoolSeriesValue wraps a frame bool series.
func BoolSeriesValue(b *frame.BoolSeries) Value { return Value{Kind: KindBoolSeries, BoolSeries: b} }

// FrameValue wraps a data frame.
func FrameValue(f *frame.Frame) Value { return Value{Kind: KindFrame, Frame: f} }

// TableValueOf wraps a column table.
func TableValueOf(t *TableValue) Value { return Value{Kind: KindTable, Table: t} }

// TimeValue wraps a datetime.
func TimeValue(t time.Time) Value { return Value{Kind: KindTime, Time: t} }

// BuiltinOf creates a named native function value.
func BuiltinOf(name string, impl BuiltinImpl) Value {
	return Value{Kind: KindBuiltin, Builtin: &BuiltinValue{Name: name, Impl: impl}}
}

// ModuleOf creates a module namespace value.
func ModuleOf(name string, attrs map[string]Value) Value {
	return Value{Kind: KindModule, Module: &ModuleValue{Name: name, Attrs: attrs}}
}

// ────────────────────────────────────────────────────────────────────
// Dict operations
// ────────────────────────────────────────────────────────────────────

// Get returns the value stored under key.
func (d *DictValue) Get(key Value) (Value, bool) {
	for i, k := range d.Keys {
		if keyEqual(k, key) {
			return d.Vals[i], true
		}
	}
	return NoneValue(), false
}

// Set stores a value under key, replacing an existing entry.
func (d *DictValue) Set(key, val Value) {
	for i, k := range d.Keys {
		if keyEqual(k, key) {
			d.Vals[i] = val
			return
		}
	}
	d.Keys = append(d.Keys, key)
	d.Vals = append(d.Vals, val)
}

// SetStr stores a value under a string key.
func (d *DictValue) SetStr(key string, val Value) {
	d.Set(StrValue(key), val)
}

// Len returns the number of entries.
func (d *DictValue) Len() int { return len(d.Keys) }

// SortedKeyIndexes returns entry indexes ordered by the string form of
// their keys, the order normalisation presents dicts in.
func (d *DictValue) SortedKeyIndexes() []int {
	idx := make([]int, len(d.Keys))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return pyStr(d.Keys[idx[a]]) < pyStr(d.Keys[idx[b]])
	})
	return idx
}

func keyEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		// int and float keys compare by numeric value, as Python
		if isNumeric(a) && isNumeric(b) {
			return asFloat(a) == asFloat(b)
		}
		return false
	}
	switch a.Kind {
	case KindStr:
		return a.Str == b.Str
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindBool:
		return a.Bool == b.Bool
	case KindNone:
		return true
	default:
		return false
	}
}

func isNumeric(v Value) bool {
	return v.Kind == KindInt || v.Kind == KindFloat || v.Kind == KindBool
}

func asFloat(v Value) float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.Int)
	case KindFloat:
		return v.Float
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	default:
		return math.NaN()
	}
}

// ────────────────────────────────────────────────────────────────────
// String forms
// ────────────────────────────────────────────────────────────────────

// pyStr renders a value the way Python's str() does.
func pyStr(v Value) string {
	switch v.Kind {
	case KindNone:
		return "None"
	case KindBool:
		if v.Bool {
			return "True"
		}
		return "False"
	case KindInt:
		return strconv.Itoa(v.Int)
	case KindFloat:
		return formatFloat(v.Float)
	case KindStr:
		return v.Str
	case KindList:
		return bracketJoin("[", "]", v.List.Elts)
	case KindTuple:
		if len(v.List.Elts) == 1 {
			return "(" + pyRepr(v.List.Elts[0]) + ",)"
		}
		return bracketJoin("(", ")", v.List.Elts)
	case KindDict:
		parts := make([]string, len(v.Dict.Keys))
		for i := range v.Dict.Keys {
			parts[i] = pyRepr(v.Dict.Keys[i]) + ": " + pyRepr(v.Dict.Vals[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindSeries:
		return fmt.Sprintf("<Series len=%d>", v.Series.Len())
	case KindBoolSeries:
		return fmt.Sprintf("<Series len=%d dtype=bool>", v.BoolSeries.Len())
	case KindFrame:
		return fmt.Sprintf("<DataFrame %dx%d>", v.Frame.Len(), len(v.Frame.Columns()))
	case KindTable:
		return fmt.Sprintf("<DataFrame %dx%d>", v.Table.Rows, len(v.Table.Columns))
	case KindTime:
		return v.Time.Format("2006-01-02 15:04:05")
	case KindRange:
		if v.Range.Step == 1 {
			return fmt.Sprintf("range(%d, %d)", v.Range.Start, v.Range.Stop)
		}
		return fmt.Sprintf("range(%d, %d, %d)", v.Range.Start, v.Range.Stop, v.Range.Step)
	case KindRolling:
		return fmt.Sprintf("Rolling [window=%d]", v.RollWindow)
	case KindIndexer:
		return "<iloc indexer>"
	case KindBuiltin:
		return fmt.Sprintf("<built-in function %s>", v.Builtin.Name)
	case KindFunc:
		name := v.Func.Name
		if name == "" {
			name = "<lambda>"
		}
		return fmt.Sprintf("<function %s>", name)
	case KindModule:
		return fmt.Sprintf("<module '%s'>", v.Module.Name)
	default:
		return "<object>"
	}
}

// pyRepr renders a value the way Python's repr() does: strings quoted,
// everything else as str().
func pyRepr(v Value) string {
	if v.Kind == KindStr {
		return "'" + strings.ReplaceAll(v.Str, "'", "\\'") + "'"
	}
	if v.Kind == KindTime {
		return "datetime(" + v.Time.Format("2006, 1, 2") + ")"
	}
	return pyStr(v)
}

func bracketJoin(open, close string, elts []Value) string {
	parts := make([]string, len(elts))
	for i, e := range elts {
		parts[i] = pyRepr(e)
	}
	return open + strings.Join(parts, ", ") + close
}

// formatFloat renders a float the way Python repr does: integral values
// keep a trailing .0 and specials spell nan/inf.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
