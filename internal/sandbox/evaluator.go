package sandbox

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/lyeka/agentic-bt/internal/frame"
	"github.com/lyeka/agentic-bt/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Runtime Errors
// ════════════════════════════════════════════════════════════════════

// Category names the Python exception class a runtime error maps to.
// Remediation hints are keyed by category.
type Category string

const (
	CatName      Category = "NameError"
	CatKey       Category = "KeyError"
	CatIndex     Category = "IndexError"
	CatType      Category = "TypeError"
	CatValue     Category = "ValueError"
	CatZeroDiv   Category = "ZeroDivisionError"
	CatImport    Category = "ImportError"
	CatAttribute Category = "AttributeError"
	CatSyntax    Category = "SyntaxError"
	CatTimeout   Category = "TimeoutError"
	CatRecursion Category = "RecursionError"
	CatMemory    Category = "MemoryError"
	CatRuntime   Category = "RuntimeError"
)

// RuntimeError is an execution failure with its exception category and the
// source line it surfaced on.
type RuntimeError struct {
	Category Category
	Message  string
	LineNo   int
}

func (e *RuntimeError) Error() string {
	return string(e.Category) + ": " + e.Message
}

func errAt(cat Category, line int, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Category: cat, Message: fmt.Sprintf(format, args...), LineNo: line}
}

// control-flow signals travel as errors and are absorbed by loops and calls
type breakSignal struct{ line int }
type continueSignal struct{ line int }
type returnSignal struct {
	value Value
	line  int
}

func (s breakSignal) Error() string    { return "'break' outside loop" }
func (s continueSignal) Error() string { return "'continue' not properly in loop" }
func (s returnSignal) Error() string   { return "'return' outside function" }

// ════════════════════════════════════════════════════════════════════
// Scope
// ════════════════════════════════════════════════════════════════════

// Scope is one lexical binding frame. Reads walk the parent chain, writes
// always bind locally.
type Scope struct {
	vars   map[string]Value
	parent *Scope
}

// NewScope creates a scope chained to parent (nil for the module scope).
func NewScope(parent *Scope) *Scope {
	return &Scope{vars: make(map[string]Value), parent: parent}
}

// Get resolves a name through the scope chain.
func (s *Scope) Get(name string) (Value, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return NoneValue(), false
}

// Set binds a name in this scope.
func (s *Scope) Set(name string, v Value) {
	s.vars[name] = v
}

// Has reports whether this scope itself binds the name.
func (s *Scope) Has(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// Names returns every name visible from this scope, parents included.
func (s *Scope) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for sc := s; sc != nil; sc = sc.parent {
		for name := range sc.vars {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// ════════════════════════════════════════════════════════════════════
// Evaluator
// ════════════════════════════════════════════════════════════════════

const (
	maxCallDepth   = 100
	maxMaterialize = 1_000_000
)

// Evaluator walks the AST against a scope chain. It polls the context
// deadline on a step budget so runaway loops are cut off.
type Evaluator struct {
	ctx       context.Context
	globals   *Scope
	stdout    strings.Builder
	steps     int
	callDepth int
}

// NewEvaluator creates an evaluator rooted at the given global scope.
func NewEvaluator(ctx context.Context, globals *Scope) *Evaluator {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Evaluator{ctx: ctx, globals: globals}
}

// Globals returns the module scope.
func (ev *Evaluator) Globals() *Scope { return ev.globals }

// Stdout returns everything print captured so far.
func (ev *Evaluator) Stdout() string { return ev.stdout.String() }

// checkBudget counts interpreter steps and polls the deadline periodically.
func (ev *Evaluator) checkBudget(line int) error {
	ev.steps++
	if ev.steps&63 != 0 {
		return nil
	}
	select {
	case <-ev.ctx.Done():
		return errAt(CatTimeout, line, "execution timed out")
	default:
		return nil
	}
}

// ExecModule executes all statements of a module in the global scope.
func (ev *Evaluator) ExecModule(m *Module) error {
	return ev.execStmts(m.Body, ev.globals)
}

// EvalExpr evaluates a single expression in the global scope.
func (ev *Evaluator) EvalExpr(e Expr) (Value, error) {
	return ev.Eval(e, ev.globals)
}

func (ev *Evaluator) execStmts(stmts []Stmt, sc *Scope) error {
	for _, stmt := range stmts {
		if err := ev.execStmt(stmt, sc); err != nil {
			return err
		}
	}
	return nil
}

func (ev *Evaluator) execStmt(stmt Stmt, sc *Scope) error {
	if err := ev.checkBudget(stmt.Line()); err != nil {
		return err
	}

	switch s := stmt.(type) {
	case *ExprStmt:
		_, err := ev.Eval(s.Value, sc)
		return err

	case *AssignStmt:
		val, err := ev.Eval(s.Value, sc)
		if err != nil {
			return err
		}
		for _, target := range s.Targets {
			if err := ev.assign(target, val, sc); err != nil {
				return err
			}
		}
		return nil

	case *AugAssignStmt:
		cur, err := ev.Eval(s.Target, sc)
		if err != nil {
			return err
		}
		rhs, err := ev.Eval(s.Value, sc)
		if err != nil {
			return err
		}
		next, err := ev.binaryOp(s.Op, cur, rhs, s.LineNo)
		if err != nil {
			return err
		}
		return ev.assign(s.Target, next, sc)

	case *IfStmt:
		cond, err := ev.Eval(s.Cond, sc)
		if err != nil {
			return err
		}
		t, err := ev.truthy(cond, s.LineNo)
		if err != nil {
			return err
		}
		if t {
			return ev.execStmts(s.Body, sc)
		}
		return ev.execStmts(s.Else, sc)

	case *WhileStmt:
		for {
			if err := ev.checkBudget(s.LineNo); err != nil {
				return err
			}
			cond, err := ev.Eval(s.Cond, sc)
			if err != nil {
				return err
			}
			t, err := ev.truthy(cond, s.LineNo)
			if err != nil {
				return err
			}
			if !t {
				return nil
			}
			if err := ev.execStmts(s.Body, sc); err != nil {
				switch err.(type) {
				case breakSignal:
					return nil
				case continueSignal:
					continue
				default:
					return err
				}
			}
		}

	case *ForStmt:
		items, err := ev.iterate(s.Iter, sc)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := ev.checkBudget(s.LineNo); err != nil {
				return err
			}
			if err := ev.assign(s.Target, item, sc); err != nil {
				return err
			}
			if err := ev.execStmts(s.Body, sc); err != nil {
				switch err.(type) {
				case breakSignal:
					return nil
				case continueSignal:
					continue
				default:
					return err
				}
			}
		}
		return nil

	case *FuncDefStmt:
		fn := &FuncValue{Name: s.Name, Params: s.Params, Body: s.Body, Closure: sc}
		sc.Set(s.Name, Value{Kind: KindFunc, Func: fn})
		return nil

	case *ReturnStmt:
		val := NoneValue()
		if s.Value != nil {
			v, err := ev.Eval(s.Value, sc)
			if err != nil {
				return err
			}
			val = v
		}
		return returnSignal{value: val, line: s.LineNo}

	case *PassStmt:
		return nil

	case *BreakStmt:
		return breakSignal{line: s.LineNo}

	case *ContinueStmt:
		return continueSignal{line: s.LineNo}

	case *ImportStmt:
		return ev.execImport(s, sc)

	case *FromImportStmt:
		return ev.execFromImport(s, sc)

	default:
		return errAt(CatRuntime, stmt.Line(), "unsupported statement %s", stmt.nodeType())
	}
}

// importable maps allowlisted module names to the binding installed for
// them. Anything else is rejected.
var importable = map[string]string{
	"math":      "math",
	"numpy":     "np",
	"pandas":    "pd",
	"pandas_ta": "ta",
}

func (ev *Evaluator) resolveImport(module string, line int) (Value, error) {
	head := module
	if i := strings.IndexByte(module, '.'); i >= 0 {
		head = module[:i]
	}
	binding, ok := importable[head]
	if !ok {
		return NoneValue(), errAt(CatImport, line, "import of module '%s' is not allowed", module)
	}
	mod, ok := ev.globals.Get(binding)
	if !ok || mod.Kind != KindModule {
		return NoneValue(), errAt(CatImport, line, "module '%s' is unavailable", module)
	}
	return mod, nil
}

func (ev *Evaluator) execImport(s *ImportStmt, sc *Scope) error {
	mod, err := ev.resolveImport(s.Module, s.LineNo)
	if err != nil {
		return err
	}
	name := s.Alias
	if name == "" {
		name = s.Module
		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[:i]
		}
	}
	sc.Set(name, mod)
	return nil
}

func (ev *Evaluator) execFromImport(s *FromImportStmt, sc *Scope) error {
	mod, err := ev.resolveImport(s.Module, s.LineNo)
	if err != nil {
		return err
	}
	for _, pair := range s.Names {
		name, alias := pair[0], pair[1]
		if name == "*" {
			for attr, val := range mod.Module.Attrs {
				sc.Set(attr, val)
			}
			continue
		}
		val, ok := mod.Module.Attrs[name]
		if !ok {
			return errAt(CatImport, s.LineNo, "cannot import name '%s' from '%s'", name, mod.Module.Name)
		}
		if alias == "" {
			alias = name
		}
		sc.Set(alias, val)
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────
// Assignment
// ────────────────────────────────────────────────────────────────────

func (ev *Evaluator) assign(target Expr, val Value, sc *Scope) error {
	switch t := target.(type) {
	case *NameExpr:
		sc.Set(t.Name, val)
		return nil

	case *TupleExpr:
		return ev.unpack(t.Elts, val, sc, t.LineNo)
	case *ListExpr:
		return ev.unpack(t.Elts, val, sc, t.LineNo)

	case *SubscriptExpr:
		recv, err := ev.Eval(t.Value, sc)
		if err != nil {
			return err
		}
		switch recv.Kind {
		case KindDict:
			key, err := ev.Eval(t.Index, sc)
			if err != nil {
				return err
			}
			recv.Dict.Set(key, val)
			return nil
		case KindList:
			idxVal, err := ev.Eval(t.Index, sc)
			if err != nil {
				return err
			}
			if idxVal.Kind != KindInt {
				return errAt(CatType, t.LineNo, "list indices must be integers, not %s", idxVal.Kind)
			}
			i := idxVal.Int
			if i < 0 {
				i += len(recv.List.Elts)
			}
			if i < 0 || i >= len(recv.List.Elts) {
				return errAt(CatIndex, t.LineNo, "list assignment index out of range")
			}
			recv.List.Elts[i] = val
			return nil
		default:
			return errAt(CatType, t.LineNo, "'%s' object does not support item assignment", recv.Kind)
		}

	case *AttributeExpr:
		return errAt(CatAttribute, t.LineNo, "cannot set attribute '%s'", t.Attr)

	default:
		return errAt(CatSyntax, target.Line(), "cannot assign to %s", target.nodeType())
	}
}

// unpack destructures an iterable across multiple targets.
func (ev *Evaluator) unpack(targets []Expr, val Value, sc *Scope, line int) error {
	items, err := ev.iterateValue(val, line)
	if err != nil {
		if re, ok := err.(*RuntimeError); ok && re.Category == CatType {
			return errAt(CatType, line, "cannot unpack non-iterable %s object", val.Kind)
		}
		return err
	}
	if len(items) < len(targets) {
		return errAt(CatValue, line, "not enough values to unpack (expected %d, got %d)", len(targets), len(items))
	}
	if len(items) > len(targets) {
		return errAt(CatValue, line, "too many values to unpack (expected %d)", len(targets))
	}
	for i, target := range targets {
		if err := ev.assign(target, items[i], sc); err != nil {
			return err
		}
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────
// Expression evaluation
// ────────────────────────────────────────────────────────────────────

// Eval evaluates an expression node to a value.
func (ev *Evaluator) Eval(expr Expr, sc *Scope) (Value, error) {
	if err := ev.checkBudget(expr.Line()); err != nil {
		return NoneValue(), err
	}

	switch e := expr.(type) {
	case *NumberLit:
		if e.IsInt {
			return IntValue(e.Int), nil
		}
		return FloatValue(e.Float), nil

	case *StringLit:
		return StrValue(e.Value), nil

	case *FStringLit:
		return ev.evalFString(e, sc)

	case *BoolLit:
		return BoolValue(e.Value), nil

	case *NoneLit:
		return NoneValue(), nil

	case *NameExpr:
		if v, ok := sc.Get(e.Name); ok {
			return v, nil
		}
		return NoneValue(), errAt(CatName, e.LineNo, "name '%s' is not defined", e.Name)

	case *TupleExpr:
		elts, err := ev.evalAll(e.Elts, sc)
		if err != nil {
			return NoneValue(), err
		}
		return TupleOf(elts...), nil

	case *ListExpr:
		elts, err := ev.evalAll(e.Elts, sc)
		if err != nil {
			return NoneValue(), err
		}
		return ListOf(elts...), nil

	case *DictExpr:
		dict := DictOf()
		for i := range e.Keys {
			key, err := ev.Eval(e.Keys[i], sc)
			if err != nil {
				return NoneValue(), err
			}
			val, err := ev.Eval(e.Values[i], sc)
			if err != nil {
				return NoneValue(), err
			}
			dict.Dict.Set(key, val)
		}
		return dict, nil

	case *BinaryExpr:
		return ev.evalBinary(e, sc)

	case *UnaryExpr:
		return ev.evalUnary(e, sc)

	case *CompareExpr:
		return ev.evalCompare(e, sc)

	case *CallExpr:
		return ev.evalCall(e, sc)

	case *AttributeExpr:
		recv, err := ev.Eval(e.Value, sc)
		if err != nil {
			return NoneValue(), err
		}
		return ev.getAttr(recv, e.Attr, e.LineNo)

	case *SubscriptExpr:
		return ev.evalSubscript(e, sc)

	case *TernaryExpr:
		cond, err := ev.Eval(e.Cond, sc)
		if err != nil {
			return NoneValue(), err
		}
		t, err := ev.truthy(cond, e.LineNo)
		if err != nil {
			return NoneValue(), err
		}
		if t {
			return ev.Eval(e.Then, sc)
		}
		return ev.Eval(e.Else, sc)

	case *LambdaExpr:
		fn := &FuncValue{Params: e.Params, Expr: e.Body, Closure: sc}
		return Value{Kind: KindFunc, Func: fn}, nil

	case *ListCompExpr:
		return ev.evalListComp(e, sc)

	default:
		return NoneValue(), errAt(CatRuntime, expr.Line(), "unsupported expression %s", expr.nodeType())
	}
}

func (ev *Evaluator) evalAll(exprs []Expr, sc *Scope) ([]Value, error) {
	out := make([]Value, len(exprs))
	for i, e := range exprs {
		v, err := ev.Eval(e, sc)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (ev *Evaluator) evalFString(e *FStringLit, sc *Scope) (Value, error) {
	var sb strings.Builder
	for _, part := range e.Parts {
		if part.Expr == nil {
			sb.WriteString(part.Literal)
			continue
		}
		v, err := ev.Eval(part.Expr, sc)
		if err != nil {
			return NoneValue(), err
		}
		text, err := formatValue(v, part.Spec, e.LineNo)
		if err != nil {
			return NoneValue(), err
		}
		sb.WriteString(text)
	}
	return StrValue(sb.String()), nil
}

func (ev *Evaluator) evalListComp(e *ListCompExpr, sc *Scope) (Value, error) {
	items, err := ev.iterate(e.Iter, sc)
	if err != nil {
		return NoneValue(), err
	}
	var out []Value
	for _, item := range items {
		if err := ev.checkBudget(e.LineNo); err != nil {
			return NoneValue(), err
		}
		if err := ev.assign(e.Target, item, sc); err != nil {
			return NoneValue(), err
		}
		if e.Cond != nil {
			cond, err := ev.Eval(e.Cond, sc)
			if err != nil {
				return NoneValue(), err
			}
			t, err := ev.truthy(cond, e.LineNo)
			if err != nil {
				return NoneValue(), err
			}
			if !t {
				continue
			}
		}
		v, err := ev.Eval(e.Elt, sc)
		if err != nil {
			return NoneValue(), err
		}
		out = append(out, v)
	}
	return ListOf(out...), nil
}

// ────────────────────────────────────────────────────────────────────
// Operators
// ────────────────────────────────────────────────────────────────────

func (ev *Evaluator) evalBinary(e *BinaryExpr, sc *Scope) (Value, error) {
	// and/or short-circuit and return the deciding operand, as Python
	if e.Op == "and" || e.Op == "or" {
		left, err := ev.Eval(e.Left, sc)
		if err != nil {
			return NoneValue(), err
		}
		t, err := ev.truthy(left, e.LineNo)
		if err != nil {
			return NoneValue(), err
		}
		if (e.Op == "and" && !t) || (e.Op == "or" && t) {
			return left, nil
		}
		return ev.Eval(e.Right, sc)
	}

	left, err := ev.Eval(e.Left, sc)
	if err != nil {
		return NoneValue(), err
	}
	right, err := ev.Eval(e.Right, sc)
	if err != nil {
		return NoneValue(), err
	}
	return ev.binaryOp(e.Op, left, right, e.LineNo)
}

func (ev *Evaluator) binaryOp(op string, left, right Value, line int) (Value, error) {
	// elementwise boolean algebra
	if op == "&" || op == "|" {
		return ev.bitOp(op, left, right, line)
	}

	// series broadcasting
	if left.Kind == KindSeries || right.Kind == KindSeries {
		return ev.seriesOp(op, left, right, line)
	}

	if isNumeric(left) && isNumeric(right) {
		return numericOp(op, left, right, line)
	}

	switch {
	case left.Kind == KindStr && right.Kind == KindStr && op == "+":
		return StrValue(left.Str + right.Str), nil
	case left.Kind == KindStr && op == "%":
		return percentFormat(left.Str, right, line)
	case left.Kind == KindStr && right.Kind == KindInt && op == "*":
		return repeatStr(left.Str, right.Int, line)
	case left.Kind == KindInt && right.Kind == KindStr && op == "*":
		return repeatStr(right.Str, left.Int, line)
	case (left.Kind == KindList || left.Kind == KindTuple) && left.Kind == right.Kind && op == "+":
		elts := append(append([]Value{}, left.List.Elts...), right.List.Elts...)
		if left.Kind == KindTuple {
			return TupleOf(elts...), nil
		}
		return ListOf(elts...), nil
	case left.Kind == KindList && right.Kind == KindInt && op == "*":
		return repeatList(left, right.Int, line)
	case left.Kind == KindInt && right.Kind == KindList && op == "*":
		return repeatList(right, left.Int, line)
	}

	if left.Kind == KindStr && isNumeric(right) && op == "+" {
		return NoneValue(), errAt(CatType, line, "can only concatenate str (not \"%s\") to str", right.Kind)
	}
	return NoneValue(), errAt(CatType, line, "unsupported operand type(s) for %s: '%s' and '%s'", op, left.Kind, right.Kind)
}

func (ev *Evaluator) bitOp(op string, left, right Value, line int) (Value, error) {
	switch {
	case left.Kind == KindBoolSeries && right.Kind == KindBoolSeries:
		var (
			res *frame.BoolSeries
			err error
		)
		if op == "&" {
			res, err = left.BoolSeries.And(right.BoolSeries)
		} else {
			res, err = left.BoolSeries.Or(right.BoolSeries)
		}
		if err != nil {
			return NoneValue(), errAt(CatValue, line, "cannot align series of different lengths")
		}
		return BoolSeriesValue(res), nil
	case left.Kind == KindBoolSeries && right.Kind == KindBool:
		vals := make([]bool, left.BoolSeries.Len())
		for i, b := range left.BoolSeries.Values() {
			if op == "&" {
				vals[i] = b && right.Bool
			} else {
				vals[i] = b || right.Bool
			}
		}
		return BoolSeriesValue(frame.NewBoolSeries(left.BoolSeries.Name(), vals)), nil
	case left.Kind == KindBool && right.Kind == KindBoolSeries:
		return ev.bitOp(op, right, left, line)
	case left.Kind == KindBool && right.Kind == KindBool:
		if op == "&" {
			return BoolValue(left.Bool && right.Bool), nil
		}
		return BoolValue(left.Bool || right.Bool), nil
	case left.Kind == KindInt && right.Kind == KindInt:
		if op == "&" {
			return IntValue(left.Int & right.Int), nil
		}
		return IntValue(left.Int | right.Int), nil
	}
	return NoneValue(), errAt(CatType, line, "unsupported operand type(s) for %s: '%s' and '%s'", op, left.Kind, right.Kind)
}

// numericOp applies an arithmetic operator to two scalars with Python
// promotion rules: / is always float, // floors, % follows the divisor sign.
func numericOp(op string, left, right Value, line int) (Value, error) {
	bothInt := (left.Kind == KindInt || left.Kind == KindBool) && (right.Kind == KindInt || right.Kind == KindBool)
	a, b := asFloat(left), asFloat(right)

	switch op {
	case "+":
		if bothInt {
			return IntValue(intOf(left) + intOf(right)), nil
		}
		return FloatValue(a + b), nil
	case "-":
		if bothInt {
			return IntValue(intOf(left) - intOf(right)), nil
		}
		return FloatValue(a - b), nil
	case "*":
		if bothInt {
			return IntValue(intOf(left) * intOf(right)), nil
		}
		return FloatValue(a * b), nil
	case "/":
		if b == 0 {
			if bothInt {
				return NoneValue(), errAt(CatZeroDiv, line, "division by zero")
			}
			return NoneValue(), errAt(CatZeroDiv, line, "float division by zero")
		}
		return FloatValue(a / b), nil
	case "//":
		if b == 0 {
			if bothInt {
				return NoneValue(), errAt(CatZeroDiv, line, "integer division or modulo by zero")
			}
			return NoneValue(), errAt(CatZeroDiv, line, "float floor division by zero")
		}
		if bothInt {
			return IntValue(floorDivInt(intOf(left), intOf(right))), nil
		}
		return FloatValue(math.Floor(a / b)), nil
	case "%":
		if b == 0 {
			if bothInt {
				return NoneValue(), errAt(CatZeroDiv, line, "integer division or modulo by zero")
			}
			return NoneValue(), errAt(CatZeroDiv, line, "float modulo")
		}
		if bothInt {
			return IntValue(pyModInt(intOf(left), intOf(right))), nil
		}
		return FloatValue(pyModFloat(a, b)), nil
	case "**":
		res := math.Pow(a, b)
		if bothInt && b >= 0 && res == math.Trunc(res) && math.Abs(res) < 1e15 {
			return IntValue(int(res)), nil
		}
		return FloatValue(res), nil
	}
	return NoneValue(), errAt(CatType, line, "unsupported operand type(s) for %s: '%s' and '%s'", op, left.Kind, right.Kind)
}

func intOf(v Value) int {
	if v.Kind == KindBool {
		if v.Bool {
			return 1
		}
		return 0
	}
	return v.Int
}

func floorDivInt(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func pyModInt(a, b int) int {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func pyModFloat(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

// seriesOp broadcasts an arithmetic operator over series operands. Division
// by zero follows IEEE semantics here, matching numpy rather than scalar
// Python.
func (ev *Evaluator) seriesOp(op string, left, right Value, line int) (Value, error) {
	var apply func(a, b float64) float64
	switch op {
	case "+":
		apply = func(a, b float64) float64 { return a + b }
	case "-":
		apply = func(a, b float64) float64 { return a - b }
	case "*":
		apply = func(a, b float64) float64 { return a * b }
	case "/":
		apply = func(a, b float64) float64 { return a / b }
	case "//":
		apply = func(a, b float64) float64 { return math.Floor(a / b) }
	case "%":
		apply = func(a, b float64) float64 { return pyModFloat(a, b) }
	case "**":
		apply = math.Pow
	default:
		return NoneValue(), errAt(CatType, line, "unsupported operand type(s) for %s: '%s' and '%s'", op, left.Kind, right.Kind)
	}

	switch {
	case left.Kind == KindSeries && right.Kind == KindSeries:
		res, err := left.Series.Zip(right.Series, apply)
		if err != nil {
			return NoneValue(), errAt(CatValue, line, "cannot align series of different lengths")
		}
		return SeriesValue(res), nil
	case left.Kind == KindSeries && isNumeric(right):
		b := asFloat(right)
		return SeriesValue(left.Series.Map(func(a float64) float64 { return apply(a, b) })), nil
	case isNumeric(left) && right.Kind == KindSeries:
		a := asFloat(left)
		return SeriesValue(right.Series.Map(func(b float64) float64 { return apply(a, b) })), nil
	}
	return NoneValue(), errAt(CatType, line, "unsupported operand type(s) for %s: '%s' and '%s'", op, left.Kind, right.Kind)
}

func repeatStr(s string, n int, line int) (Value, error) {
	if n <= 0 {
		return StrValue(""), nil
	}
	if n*len(s) > 1_000_000 {
		return NoneValue(), errAt(CatMemory, line, "repeated string is too large")
	}
	return StrValue(strings.Repeat(s, n)), nil
}

func repeatList(v Value, n int, line int) (Value, error) {
	if n <= 0 {
		return ListOf(), nil
	}
	if n*len(v.List.Elts) > maxMaterialize {
		return NoneValue(), errAt(CatMemory, line, "repeated list is too large")
	}
	var elts []Value
	for i := 0; i < n; i++ {
		elts = append(elts, v.List.Elts...)
	}
	return ListOf(elts...), nil
}

func (ev *Evaluator) evalUnary(e *UnaryExpr, sc *Scope) (Value, error) {
	operand, err := ev.Eval(e.Operand, sc)
	if err != nil {
		return NoneValue(), err
	}
	switch e.Op {
	case "-":
		switch operand.Kind {
		case KindInt:
			return IntValue(-operand.Int), nil
		case KindFloat:
			return FloatValue(-operand.Float), nil
		case KindBool:
			return IntValue(-intOf(operand)), nil
		case KindSeries:
			return SeriesValue(operand.Series.Map(func(a float64) float64 { return -a })), nil
		}
		return NoneValue(), errAt(CatType, e.LineNo, "bad operand type for unary -: '%s'", operand.Kind)
	case "+":
		switch operand.Kind {
		case KindInt, KindFloat, KindSeries:
			return operand, nil
		case KindBool:
			return IntValue(intOf(operand)), nil
		}
		return NoneValue(), errAt(CatType, e.LineNo, "bad operand type for unary +: '%s'", operand.Kind)
	case "not":
		if operand.Kind == KindBoolSeries {
			return BoolSeriesValue(operand.BoolSeries.Not()), nil
		}
		t, err := ev.truthy(operand, e.LineNo)
		if err != nil {
			return NoneValue(), err
		}
		return BoolValue(!t), nil
	}
	return NoneValue(), errAt(CatRuntime, e.LineNo, "unknown unary operator %s", e.Op)
}

// ────────────────────────────────────────────────────────────────────
// Comparison
// ────────────────────────────────────────────────────────────────────

func (ev *Evaluator) evalCompare(e *CompareExpr, sc *Scope) (Value, error) {
	prev, err := ev.Eval(e.Left, sc)
	if err != nil {
		return NoneValue(), err
	}
	chained := len(e.Ops) > 1
	for i, op := range e.Ops {
		next, err := ev.Eval(e.Comparators[i], sc)
		if err != nil {
			return NoneValue(), err
		}
		res, err := ev.compareOne(op, prev, next, e.LineNo)
		if err != nil {
			return NoneValue(), err
		}
		if res.Kind == KindBoolSeries {
			if chained {
				return NoneValue(), errAt(CatValue, e.LineNo, "The truth value of a Series is ambiguous. Use a.empty, a.bool(), a.item(), a.any() or a.all().")
			}
			return res, nil
		}
		if !res.Bool {
			return BoolValue(false), nil
		}
		prev = next
	}
	return BoolValue(true), nil
}

func (ev *Evaluator) compareOne(op string, left, right Value, line int) (Value, error) {
	switch op {
	case "is":
		return BoolValue(identical(left, right)), nil
	case "is not":
		return BoolValue(!identical(left, right)), nil
	case "in":
		ok, err := ev.contains(right, left, line)
		if err != nil {
			return NoneValue(), err
		}
		return BoolValue(ok), nil
	case "not in":
		ok, err := ev.contains(right, left, line)
		if err != nil {
			return NoneValue(), err
		}
		return BoolValue(!ok), nil
	}

	// series comparisons broadcast to a boolean series, NaN compares false
	if left.Kind == KindSeries || right.Kind == KindSeries {
		return seriesCompare(op, left, right, line)
	}

	switch op {
	case "==":
		return BoolValue(valueEqual(left, right)), nil
	case "!=":
		return BoolValue(!valueEqual(left, right)), nil
	}

	// ordering
	switch {
	case isNumeric(left) && isNumeric(right):
		return BoolValue(orderFloat(op, asFloat(left), asFloat(right))), nil
	case left.Kind == KindStr && right.Kind == KindStr:
		return BoolValue(orderStr(op, left.Str, right.Str)), nil
	case left.Kind == KindTime && right.Kind == KindTime:
		a, b := left.Time, right.Time
		switch op {
		case "<":
			return BoolValue(a.Before(b)), nil
		case "<=":
			return BoolValue(a.Before(b) || a.Equal(b)), nil
		case ">":
			return BoolValue(a.After(b)), nil
		case ">=":
			return BoolValue(a.After(b) || a.Equal(b)), nil
		}
	}
	return NoneValue(), errAt(CatType, line, "'%s' not supported between instances of '%s' and '%s'", op, left.Kind, right.Kind)
}

func seriesCompare(op string, left, right Value, line int) (Value, error) {
	var cmp func(a, b float64) bool
	switch op {
	case "<":
		cmp = func(a, b float64) bool { return a < b }
	case "<=":
		cmp = func(a, b float64) bool { return a <= b }
	case ">":
		cmp = func(a, b float64) bool { return a > b }
	case ">=":
		cmp = func(a, b float64) bool { return a >= b }
	case "==":
		cmp = func(a, b float64) bool { return a == b }
	case "!=":
		cmp = func(a, b float64) bool { return a != b }
	default:
		return NoneValue(), errAt(CatType, line, "unsupported comparison %s for series", op)
	}

	switch {
	case left.Kind == KindSeries && right.Kind == KindSeries:
		res, err := left.Series.ZipBool(right.Series, cmp)
		if err != nil {
			return NoneValue(), errAt(CatValue, line, "cannot align series of different lengths")
		}
		return BoolSeriesValue(res), nil
	case left.Kind == KindSeries && isNumeric(right):
		b := asFloat(right)
		return BoolSeriesValue(left.Series.MapBool(func(a float64) bool { return cmp(a, b) })), nil
	case isNumeric(left) && right.Kind == KindSeries:
		a := asFloat(left)
		return BoolSeriesValue(right.Series.MapBool(func(b float64) bool { return cmp(a, b) })), nil
	}
	return NoneValue(), errAt(CatType, line, "'%s' not supported between instances of '%s' and '%s'", op, left.Kind, right.Kind)
}

func orderFloat(op string, a, b float64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

func orderStr(op, a, b string) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

// identical implements the narrow identity semantics the sandbox needs,
// chiefly None checks and shared container storage.
func identical(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNone:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindStr:
		return a.Str == b.Str
	case KindList, KindTuple:
		return a.List == b.List
	case KindDict:
		return a.Dict == b.Dict
	case KindSeries:
		return a.Series == b.Series
	case KindBoolSeries:
		return a.BoolSeries == b.BoolSeries
	case KindFrame:
		return a.Frame == b.Frame
	case KindTable:
		return a.Table == b.Table
	case KindFunc:
		return a.Func == b.Func
	case KindModule:
		return a.Module == b.Module
	}
	return false
}

// valueEqual implements == across kinds. Mismatched types compare unequal
// rather than raising.
func valueEqual(a, b Value) bool {
	if isNumeric(a) && isNumeric(b) {
		return asFloat(a) == asFloat(b)
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNone:
		return true
	case KindStr:
		return a.Str == b.Str
	case KindTime:
		return a.Time.Equal(b.Time)
	case KindList, KindTuple:
		if len(a.List.Elts) != len(b.List.Elts) {
			return false
		}
		for i := range a.List.Elts {
			if !valueEqual(a.List.Elts[i], b.List.Elts[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if a.Dict.Len() != b.Dict.Len() {
			return false
		}
		for i, key := range a.Dict.Keys {
			bv, ok := b.Dict.Get(key)
			if !ok || !valueEqual(a.Dict.Vals[i], bv) {
				return false
			}
		}
		return true
	}
	return identical(a, b)
}

func (ev *Evaluator) contains(container, item Value, line int) (bool, error) {
	switch container.Kind {
	case KindStr:
		if item.Kind != KindStr {
			return false, errAt(CatType, line, "'in <string>' requires string as left operand, not %s", item.Kind)
		}
		return strings.Contains(container.Str, item.Str), nil
	case KindList, KindTuple:
		for _, elt := range container.List.Elts {
			if valueEqual(elt, item) {
				return true, nil
			}
		}
		return false, nil
	case KindDict:
		_, ok := container.Dict.Get(item)
		return ok, nil
	case KindRange:
		if item.Kind != KindInt {
			return false, nil
		}
		r := container.Range
		if r.Step > 0 {
			return item.Int >= r.Start && item.Int < r.Stop && (item.Int-r.Start)%r.Step == 0, nil
		}
		return item.Int <= r.Start && item.Int > r.Stop && (r.Start-item.Int)%(-r.Step) == 0, nil
	case KindSeries:
		if !isNumeric(item) {
			return false, nil
		}
		target := asFloat(item)
		for _, v := range container.Series.Values() {
			if v == target {
				return true, nil
			}
		}
		return false, nil
	case KindFrame:
		if item.Kind != KindStr {
			return false, nil
		}
		for _, col := range container.Frame.Columns() {
			if col == item.Str {
				return true, nil
			}
		}
		return false, nil
	case KindTable:
		if item.Kind != KindStr {
			return false, nil
		}
		for _, col := range container.Table.Columns {
			if col == item.Str {
				return true, nil
			}
		}
		return false, nil
	}
	return false, errAt(CatType, line, "argument of type '%s' is not iterable", container.Kind)
}

// ────────────────────────────────────────────────────────────────────
// Truthiness and iteration
// ────────────────────────────────────────────────────────────────────

func (ev *Evaluator) truthy(v Value, line int) (bool, error) {
	switch v.Kind {
	case KindNone:
		return false, nil
	case KindBool:
		return v.Bool, nil
	case KindInt:
		return v.Int != 0, nil
	case KindFloat:
		// NaN is truthy in Python
		return v.Float != 0, nil
	case KindStr:
		return v.Str != "", nil
	case KindList, KindTuple:
		return len(v.List.Elts) > 0, nil
	case KindDict:
		return v.Dict.Len() > 0, nil
	case KindRange:
		return v.Range.Len() > 0, nil
	case KindSeries, KindBoolSeries, KindFrame, KindTable:
		return false, errAt(CatValue, line, "The truth value of a Series is ambiguous. Use a.empty, a.bool(), a.item(), a.any() or a.all().")
	default:
		return true, nil
	}
}

func (ev *Evaluator) iterate(e Expr, sc *Scope) ([]Value, error) {
	v, err := ev.Eval(e, sc)
	if err != nil {
		return nil, err
	}
	return ev.iterateValue(v, e.Line())
}

// iterateValue materialises an iterable. Frames and tables yield their
// column names, matching how pandas iterates a DataFrame.
func (ev *Evaluator) iterateValue(v Value, line int) ([]Value, error) {
	switch v.Kind {
	case KindList, KindTuple:
		out := make([]Value, len(v.List.Elts))
		copy(out, v.List.Elts)
		return out, nil
	case KindStr:
		runes := []rune(v.Str)
		out := make([]Value, len(runes))
		for i, r := range runes {
			out[i] = StrValue(string(r))
		}
		return out, nil
	case KindDict:
		out := make([]Value, len(v.Dict.Keys))
		copy(out, v.Dict.Keys)
		return out, nil
	case KindRange:
		n := v.Range.Len()
		if n > maxMaterialize {
			return nil, errAt(CatMemory, line, "range of %d elements is too large to materialise", n)
		}
		out := make([]Value, 0, n)
		r := v.Range
		if r.Step > 0 {
			for i := r.Start; i < r.Stop; i += r.Step {
				out = append(out, IntValue(i))
			}
		} else {
			for i := r.Start; i > r.Stop; i += r.Step {
				out = append(out, IntValue(i))
			}
		}
		return out, nil
	case KindSeries:
		vals := v.Series.Values()
		out := make([]Value, len(vals))
		for i, f := range vals {
			out[i] = FloatValue(f)
		}
		return out, nil
	case KindBoolSeries:
		vals := v.BoolSeries.Values()
		out := make([]Value, len(vals))
		for i, b := range vals {
			out[i] = BoolValue(b)
		}
		return out, nil
	case KindFrame:
		cols := v.Frame.Columns()
		out := make([]Value, len(cols))
		for i, c := range cols {
			out[i] = StrValue(c)
		}
		return out, nil
	case KindTable:
		out := make([]Value, len(v.Table.Columns))
		for i, c := range v.Table.Columns {
			out[i] = StrValue(c)
		}
		return out, nil
	}
	return nil, errAt(CatType, line, "'%s' object is not iterable", v.Kind)
}

// ────────────────────────────────────────────────────────────────────
// Calls
// ────────────────────────────────────────────────────────────────────

func (ev *Evaluator) evalCall(e *CallExpr, sc *Scope) (Value, error) {
	fn, err := ev.Eval(e.Func, sc)
	if err != nil {
		return NoneValue(), err
	}
	args, err := ev.evalAll(e.Args, sc)
	if err != nil {
		return NoneValue(), err
	}
	var kwargs map[string]Value
	if len(e.Keywords) > 0 {
		kwargs = make(map[string]Value, len(e.Keywords))
		for _, kw := range e.Keywords {
			v, err := ev.Eval(kw.Value, sc)
			if err != nil {
				return NoneValue(), err
			}
			kwargs[kw.Name] = v
		}
	}
	return ev.callValue(fn, args, kwargs, e.LineNo)
}

func (ev *Evaluator) callValue(fn Value, args []Value, kwargs map[string]Value, line int) (Value, error) {
	switch fn.Kind {
	case KindBuiltin:
		v, err := fn.Builtin.Impl(ev, args, kwargs)
		if err != nil {
			if re, ok := err.(*RuntimeError); ok && re.LineNo == 0 {
				re.LineNo = line
			}
			return NoneValue(), err
		}
		return v, nil
	case KindFunc:
		return ev.callFunction(fn.Func, args, kwargs, line)
	}
	return NoneValue(), errAt(CatType, line, "'%s' object is not callable", fn.Kind)
}

func (ev *Evaluator) callFunction(fn *FuncValue, args []Value, kwargs map[string]Value, line int) (Value, error) {
	ev.callDepth++
	defer func() { ev.callDepth-- }()
	if ev.callDepth > maxCallDepth {
		return NoneValue(), errAt(CatRecursion, line, "maximum recursion depth exceeded")
	}

	name := fn.Name
	if name == "" {
		name = "<lambda>"
	}
	if len(args) > len(fn.Params) {
		return NoneValue(), errAt(CatType, line, "%s() takes %d positional arguments but %d were given", name, len(fn.Params), len(args))
	}

	local := NewScope(fn.Closure)
	used := make(map[string]bool, len(kwargs))
	for i, param := range fn.Params {
		switch {
		case i < len(args):
			local.Set(param.Name, args[i])
		case hasKey(kwargs, param.Name):
			local.Set(param.Name, kwargs[param.Name])
			used[param.Name] = true
		case param.Default != nil:
			def, err := ev.Eval(param.Default, fn.Closure)
			if err != nil {
				return NoneValue(), err
			}
			local.Set(param.Name, def)
		default:
			return NoneValue(), errAt(CatType, line, "%s() missing 1 required positional argument: '%s'", name, param.Name)
		}
	}
	for kw := range kwargs {
		if !used[kw] {
			found := false
			for i, param := range fn.Params {
				if param.Name == kw && i < len(args) {
					return NoneValue(), errAt(CatType, line, "%s() got multiple values for argument '%s'", name, kw)
				}
				if param.Name == kw {
					found = true
				}
			}
			if !found {
				return NoneValue(), errAt(CatType, line, "%s() got an unexpected keyword argument '%s'", name, kw)
			}
		}
	}

	if fn.Expr != nil {
		return ev.Eval(fn.Expr, local)
	}
	err := ev.execStmts(fn.Body, local)
	if err != nil {
		if ret, ok := err.(returnSignal); ok {
			return ret.value, nil
		}
		return NoneValue(), err
	}
	return NoneValue(), nil
}

func hasKey(m map[string]Value, key string) bool {
	_, ok := m[key]
	return ok
}

// ────────────────────────────────────────────────────────────────────
// Subscripts and slicing
// ────────────────────────────────────────────────────────────────────

func (ev *Evaluator) evalSubscript(e *SubscriptExpr, sc *Scope) (Value, error) {
	recv, err := ev.Eval(e.Value, sc)
	if err != nil {
		return NoneValue(), err
	}

	if sl, ok := e.Index.(*SliceExpr); ok {
		return ev.evalSlice(recv, sl, sc)
	}

	idx, err := ev.Eval(e.Index, sc)
	if err != nil {
		return NoneValue(), err
	}
	return ev.getItem(recv, idx, e.LineNo)
}

func (ev *Evaluator) getItem(recv, idx Value, line int) (Value, error) {
	switch recv.Kind {
	case KindList, KindTuple:
		i, err := wantIndex(idx, recv.Kind, line)
		if err != nil {
			return NoneValue(), err
		}
		elts := recv.List.Elts
		if i < 0 {
			i += len(elts)
		}
		if i < 0 || i >= len(elts) {
			return NoneValue(), errAt(CatIndex, line, "%s index out of range", recv.Kind)
		}
		return elts[i], nil

	case KindStr:
		i, err := wantIndex(idx, recv.Kind, line)
		if err != nil {
			return NoneValue(), err
		}
		runes := []rune(recv.Str)
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return NoneValue(), errAt(CatIndex, line, "string index out of range")
		}
		return StrValue(string(runes[i])), nil

	case KindDict:
		if v, ok := recv.Dict.Get(idx); ok {
			return v, nil
		}
		return NoneValue(), errAt(CatKey, line, "%s", pyRepr(idx))

	case KindFrame:
		if idx.Kind == KindBoolSeries {
			return filterFrame(recv, idx, line)
		}
		if idx.Kind != KindStr {
			return NoneValue(), errAt(CatType, line, "DataFrame columns are selected by name, got %s", idx.Kind)
		}
		if idx.Str == "date" {
			return dateListValue(recv.Frame), nil
		}
		s, ok := recv.Frame.Column(idx.Str)
		if !ok {
			return NoneValue(), errAt(CatKey, line, "'%s'", idx.Str)
		}
		return SeriesValue(s), nil

	case KindTable:
		if idx.Kind != KindStr {
			return NoneValue(), errAt(CatType, line, "DataFrame columns are selected by name, got %s", idx.Kind)
		}
		s, ok := recv.Table.Cols[idx.Str]
		if !ok {
			return NoneValue(), errAt(CatKey, line, "'%s'", idx.Str)
		}
		return SeriesValue(s), nil

	case KindSeries:
		if idx.Kind == KindBoolSeries {
			return filterSeries(recv, idx, line)
		}
		i, err := wantIndex(idx, recv.Kind, line)
		if err != nil {
			return NoneValue(), err
		}
		f, aerr := recv.Series.At(i)
		if aerr != nil {
			return NoneValue(), errAt(CatIndex, line, "index out of range")
		}
		return FloatValue(f), nil

	case KindBoolSeries:
		i, err := wantIndex(idx, recv.Kind, line)
		if err != nil {
			return NoneValue(), err
		}
		b, aerr := recv.BoolSeries.At(i)
		if aerr != nil {
			return NoneValue(), errAt(CatIndex, line, "index out of range")
		}
		return BoolValue(b), nil

	case KindRange:
		i, err := wantIndex(idx, recv.Kind, line)
		if err != nil {
			return NoneValue(), err
		}
		n := recv.Range.Len()
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return NoneValue(), errAt(CatIndex, line, "range object index out of range")
		}
		return IntValue(recv.Range.Start + i*recv.Range.Step), nil

	case KindIndexer:
		i, err := wantIndex(idx, recv.Kind, line)
		if err != nil {
			return NoneValue(), err
		}
		return ilocGetItem(recv.Indexer, i, line)
	}
	return NoneValue(), errAt(CatType, line, "'%s' object is not subscriptable", recv.Kind)
}

func wantIndex(idx Value, kind Kind, line int) (int, error) {
	switch idx.Kind {
	case KindInt:
		return idx.Int, nil
	case KindBool:
		return intOf(idx), nil
	case KindFloat:
		if idx.Float == math.Trunc(idx.Float) {
			return int(idx.Float), nil
		}
	}
	return 0, errAt(CatType, line, "%s indices must be integers, not %s", kind, idx.Kind)
}

func filterSeries(recv, mask Value, line int) (Value, error) {
	if mask.BoolSeries.Len() != recv.Series.Len() {
		return NoneValue(), errAt(CatIndex, line, "boolean index length %d does not match series length %d", mask.BoolSeries.Len(), recv.Series.Len())
	}
	var kept []float64
	vals := recv.Series.Values()
	for i, keep := range mask.BoolSeries.Values() {
		if keep {
			kept = append(kept, vals[i])
		}
	}
	return SeriesValue(frame.NewSeries(recv.Series.Name(), kept)), nil
}

// filterFrame keeps the rows where the mask is true, so len(df[close > x])
// and df[volume > v].close.mean() work as expected.
func filterFrame(recv, mask Value, line int) (Value, error) {
	if mask.BoolSeries.Len() != recv.Frame.Len() {
		return NoneValue(), errAt(CatIndex, line, "boolean index length %d does not match frame length %d", mask.BoolSeries.Len(), recv.Frame.Len())
	}
	bars := recv.Frame.Bars()
	var kept []models.Bar
	for i, keep := range mask.BoolSeries.Values() {
		if keep {
			kept = append(kept, bars[i])
		}
	}
	return FrameValue(frame.New(recv.Frame.Symbol(), kept)), nil
}

func (ev *Evaluator) evalSlice(recv Value, sl *SliceExpr, sc *Scope) (Value, error) {
	bound := func(e Expr, def int) (int, error) {
		if e == nil {
			return def, nil
		}
		v, err := ev.Eval(e, sc)
		if err != nil {
			return 0, err
		}
		i, err := wantIndex(v, recv.Kind, sl.LineNo)
		if err != nil {
			return 0, errAt(CatType, sl.LineNo, "slice indices must be integers or None")
		}
		return i, nil
	}

	step := 1
	if sl.Step != nil {
		v, err := ev.Eval(sl.Step, sc)
		if err != nil {
			return NoneValue(), err
		}
		s, err := wantIndex(v, recv.Kind, sl.LineNo)
		if err != nil {
			return NoneValue(), err
		}
		if s == 0 {
			return NoneValue(), errAt(CatValue, sl.LineNo, "slice step cannot be zero")
		}
		step = s
	}

	length := 0
	switch recv.Kind {
	case KindList, KindTuple:
		length = len(recv.List.Elts)
	case KindStr:
		length = len([]rune(recv.Str))
	case KindSeries:
		length = recv.Series.Len()
	case KindBoolSeries:
		length = recv.BoolSeries.Len()
	case KindIndexer:
		length = ilocLen(recv.Indexer)
	default:
		return NoneValue(), errAt(CatType, sl.LineNo, "'%s' object is not subscriptable", recv.Kind)
	}

	defLo, defHi := 0, length
	if step < 0 {
		defLo, defHi = length-1, -length-1
	}
	lo, err := bound(sl.Lo, defLo)
	if err != nil {
		return NoneValue(), err
	}
	hi, err := bound(sl.Hi, defHi)
	if err != nil {
		return NoneValue(), err
	}
	idxs := sliceIndexes(lo, hi, step, length)

	switch recv.Kind {
	case KindList, KindTuple:
		elts := make([]Value, len(idxs))
		for i, j := range idxs {
			elts[i] = recv.List.Elts[j]
		}
		if recv.Kind == KindTuple {
			return TupleOf(elts...), nil
		}
		return ListOf(elts...), nil
	case KindStr:
		runes := []rune(recv.Str)
		var sb strings.Builder
		for _, j := range idxs {
			sb.WriteRune(runes[j])
		}
		return StrValue(sb.String()), nil
	case KindSeries:
		vals := recv.Series.Values()
		out := make([]float64, len(idxs))
		for i, j := range idxs {
			out[i] = vals[j]
		}
		return SeriesValue(frame.NewSeries(recv.Series.Name(), out)), nil
	case KindBoolSeries:
		vals := recv.BoolSeries.Values()
		out := make([]bool, len(idxs))
		for i, j := range idxs {
			out[i] = vals[j]
		}
		return BoolSeriesValue(frame.NewBoolSeries(recv.BoolSeries.Name(), out)), nil
	case KindIndexer:
		return ilocSlice(recv.Indexer, idxs, sl.LineNo)
	}
	return NoneValue(), errAt(CatType, sl.LineNo, "'%s' object is not subscriptable", recv.Kind)
}

// sliceIndexes resolves Python slice bounds to concrete indexes.
func sliceIndexes(lo, hi, step, length int) []int {
	clamp := func(i int) int {
		if i < 0 {
			i += length
		}
		if step > 0 {
			if i < 0 {
				i = 0
			}
			if i > length {
				i = length
			}
		} else {
			if i < -1 {
				i = -1
			}
			if i >= length {
				i = length - 1
			}
		}
		return i
	}
	from, to := clamp(lo), clamp(hi)

	var idxs []int
	if step > 0 {
		for i := from; i < to; i += step {
			idxs = append(idxs, i)
		}
	} else {
		for i := from; i > to; i += step {
			idxs = append(idxs, i)
		}
	}
	return idxs
}
