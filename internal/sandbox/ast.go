// Package sandbox implements the restricted analytic runtime behind the
// compute tool. Agent-submitted code is parsed into a small Python-shaped
// AST and interpreted against the current OHLCV window with a fixed helper
// vocabulary, an import allowlist, a wall-clock timeout, and deep
// normalisation of the final value into a JSON-ready payload.
package sandbox

import (
	"fmt"
	"strings"
)

// ════════════════════════════════════════════════════════════════════
// AST Nodes
// ════════════════════════════════════════════════════════════════════

// Node is the interface for all AST nodes.
type Node interface {
	nodeType() string
	// Pos returns the position (rune offset) in the original source.
	Pos() int
	// Line returns the 1-based source line.
	Line() int
	String() string
}

// Stmt is implemented by statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is implemented by expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Module is the root of a parsed program.
type Module struct {
	Body []Stmt
}

func (n *Module) nodeType() string { return "Module" }
func (n *Module) Pos() int         { return 0 }
func (n *Module) Line() int        { return 1 }
func (n *Module) String() string {
	parts := make([]string, len(n.Body))
	for i, s := range n.Body {
		parts[i] = s.String()
	}
	return strings.Join(parts, "\n")
}

// ────────────────────────────────────────────────────────────────────
// Statements
// ────────────────────────────────────────────────────────────────────

// ExprStmt is a bare expression evaluated for its value or side effects.
type ExprStmt struct {
	Position int
	LineNo   int
	Value    Expr
}

func (n *ExprStmt) nodeType() string { return "ExprStmt" }
func (n *ExprStmt) Pos() int         { return n.Position }
func (n *ExprStmt) Line() int        { return n.LineNo }
func (n *ExprStmt) String() string   { return n.Value.String() }
func (n *ExprStmt) stmtNode()        {}

// AssignStmt is one or more chained targets bound to a value,
// e.g. a = b = expr or upper, mid, lower = bbands(...).
type AssignStmt struct {
	Position int
	LineNo   int
	Targets  []Expr
	Value    Expr
}

func (n *AssignStmt) nodeType() string { return "AssignStmt" }
func (n *AssignStmt) Pos() int         { return n.Position }
func (n *AssignStmt) Line() int        { return n.LineNo }
func (n *AssignStmt) String() string {
	parts := make([]string, 0, len(n.Targets)+1)
	for _, t := range n.Targets {
		parts = append(parts, t.String())
	}
	parts = append(parts, n.Value.String())
	return strings.Join(parts, " = ")
}
func (n *AssignStmt) stmtNode() {}

// AugAssignStmt is an in-place operation, e.g. x += 1.
type AugAssignStmt struct {
	Position int
	LineNo   int
	Target   Expr
	Op       string // "+", "-", "*", "/", "%"
	Value    Expr
}

func (n *AugAssignStmt) nodeType() string { return "AugAssignStmt" }
func (n *AugAssignStmt) Pos() int         { return n.Position }
func (n *AugAssignStmt) Line() int        { return n.LineNo }
func (n *AugAssignStmt) String() string {
	return fmt.Sprintf("%s %s= %s", n.Target.String(), n.Op, n.Value.String())
}
func (n *AugAssignStmt) stmtNode() {}

// IfStmt is a conditional with optional else; elif chains nest in Else.
type IfStmt struct {
	Position int
	LineNo   int
	Cond     Expr
	Body     []Stmt
	Else     []Stmt
}

func (n *IfStmt) nodeType() string { return "IfStmt" }
func (n *IfStmt) Pos() int         { return n.Position }
func (n *IfStmt) Line() int        { return n.LineNo }
func (n *IfStmt) String() string   { return fmt.Sprintf("if %s: ...", n.Cond.String()) }
func (n *IfStmt) stmtNode()        {}

// WhileStmt is a condition-guarded loop.
type WhileStmt struct {
	Position int
	LineNo   int
	Cond     Expr
	Body     []Stmt
}

func (n *WhileStmt) nodeType() string { return "WhileStmt" }
func (n *WhileStmt) Pos() int         { return n.Position }
func (n *WhileStmt) Line() int        { return n.LineNo }
func (n *WhileStmt) String() string   { return fmt.Sprintf("while %s: ...", n.Cond.String()) }
func (n *WhileStmt) stmtNode()        {}

// ForStmt iterates a target over an iterable.
type ForStmt struct {
	Position int
	LineNo   int
	Target   Expr
	Iter     Expr
	Body     []Stmt
}

func (n *ForStmt) nodeType() string { return "ForStmt" }
func (n *ForStmt) Pos() int         { return n.Position }
func (n *ForStmt) Line() int        { return n.LineNo }
func (n *ForStmt) String() string {
	return fmt.Sprintf("for %s in %s: ...", n.Target.String(), n.Iter.String())
}
func (n *ForStmt) stmtNode() {}

// FuncDefStmt is a def with positional parameters and optional defaults.
type FuncDefStmt struct {
	Position int
	LineNo   int
	Name     string
	Params   []Param
	Body     []Stmt
}

func (n *FuncDefStmt) nodeType() string { return "FuncDefStmt" }
func (n *FuncDefStmt) Pos() int         { return n.Position }
func (n *FuncDefStmt) Line() int        { return n.LineNo }
func (n *FuncDefStmt) String() string   { return fmt.Sprintf("def %s(...): ...", n.Name) }
func (n *FuncDefStmt) stmtNode()        {}

// Param is one function or lambda parameter.
type Param struct {
	Name    string
	Default Expr // nil when required
}

// ReturnStmt exits the enclosing function with an optional value.
type ReturnStmt struct {
	Position int
	LineNo   int
	Value    Expr // nil for bare return
}

func (n *ReturnStmt) nodeType() string { return "ReturnStmt" }
func (n *ReturnStmt) Pos() int         { return n.Position }
func (n *ReturnStmt) Line() int        { return n.LineNo }
func (n *ReturnStmt) String() string {
	if n.Value == nil {
		return "return"
	}
	return "return " + n.Value.String()
}
func (n *ReturnStmt) stmtNode() {}

// PassStmt does nothing.
type PassStmt struct {
	Position int
	LineNo   int
}

func (n *PassStmt) nodeType() string { return "PassStmt" }
func (n *PassStmt) Pos() int         { return n.Position }
func (n *PassStmt) Line() int        { return n.LineNo }
func (n *PassStmt) String() string   { return "pass" }
func (n *PassStmt) stmtNode()        {}

// BreakStmt exits the innermost loop.
type BreakStmt struct {
	Position int
	LineNo   int
}

func (n *BreakStmt) nodeType() string { return "BreakStmt" }
func (n *BreakStmt) Pos() int         { return n.Position }
func (n *BreakStmt) Line() int        { return n.LineNo }
func (n *BreakStmt) String() string   { return "break" }
func (n *BreakStmt) stmtNode()        {}

// ContinueStmt skips to the next loop iteration.
type ContinueStmt struct {
	Position int
	LineNo   int
}

func (n *ContinueStmt) nodeType() string { return "ContinueStmt" }
func (n *ContinueStmt) Pos() int         { return n.Position }
func (n *ContinueStmt) Line() int        { return n.LineNo }
func (n *ContinueStmt) String() string   { return "continue" }
func (n *ContinueStmt) stmtNode()        {}

// ImportStmt is `import module [as alias]`.
type ImportStmt struct {
	Position int
	LineNo   int
	Module   string
	Alias    string // empty when no alias
}

func (n *ImportStmt) nodeType() string { return "ImportStmt" }
func (n *ImportStmt) Pos() int         { return n.Position }
func (n *ImportStmt) Line() int        { return n.LineNo }
func (n *ImportStmt) String() string {
	if n.Alias != "" {
		return fmt.Sprintf("import %s as %s", n.Module, n.Alias)
	}
	return "import " + n.Module
}
func (n *ImportStmt) stmtNode() {}

// FromImportStmt is `from module import name [as alias], ...`.
type FromImportStmt struct {
	Position int
	LineNo   int
	Module   string
	Names    [][2]string // pairs of (name, alias); alias empty when absent
}

func (n *FromImportStmt) nodeType() string { return "FromImportStmt" }
func (n *FromImportStmt) Pos() int         { return n.Position }
func (n *FromImportStmt) Line() int        { return n.LineNo }
func (n *FromImportStmt) String() string   { return fmt.Sprintf("from %s import ...", n.Module) }
func (n *FromImportStmt) stmtNode()        {}

// ────────────────────────────────────────────────────────────────────
// Expressions
// ────────────────────────────────────────────────────────────────────

// NumberLit is an integer or float constant.
type NumberLit struct {
	Position int
	LineNo   int
	IsInt    bool
	Int      int
	Float    float64
	Raw      string
}

func (n *NumberLit) nodeType() string { return "NumberLit" }
func (n *NumberLit) Pos() int         { return n.Position }
func (n *NumberLit) Line() int        { return n.LineNo }
func (n *NumberLit) String() string   { return n.Raw }
func (n *NumberLit) exprNode()        {}

// StringLit is a quoted string constant.
type StringLit struct {
	Position int
	LineNo   int
	Value    string
}

func (n *StringLit) nodeType() string { return "StringLit" }
func (n *StringLit) Pos() int         { return n.Position }
func (n *StringLit) Line() int        { return n.LineNo }
func (n *StringLit) String() string   { return fmt.Sprintf("%q", n.Value) }
func (n *StringLit) exprNode()        {}

// FStringPart is one segment of an interpolated string: either literal
// text or an embedded expression with an optional format spec.
type FStringPart struct {
	Literal string
	Expr    Expr   // nil for literal parts
	Spec    string // e.g. ".2f", empty for default formatting
}

// FStringLit is an interpolated string, e.g. f"rsi={rsi:.1f}".
type FStringLit struct {
	Position int
	LineNo   int
	Parts    []FStringPart
}

func (n *FStringLit) nodeType() string { return "FStringLit" }
func (n *FStringLit) Pos() int         { return n.Position }
func (n *FStringLit) Line() int        { return n.LineNo }
func (n *FStringLit) String() string   { return "f\"...\"" }
func (n *FStringLit) exprNode()        {}

// BoolLit is True or False.
type BoolLit struct {
	Position int
	LineNo   int
	Value    bool
}

func (n *BoolLit) nodeType() string { return "BoolLit" }
func (n *BoolLit) Pos() int         { return n.Position }
func (n *BoolLit) Line() int        { return n.LineNo }
func (n *BoolLit) String() string {
	if n.Value {
		return "True"
	}
	return "False"
}
func (n *BoolLit) exprNode() {}

// NoneLit is the None constant.
type NoneLit struct {
	Position int
	LineNo   int
}

func (n *NoneLit) nodeType() string { return "NoneLit" }
func (n *NoneLit) Pos() int         { return n.Position }
func (n *NoneLit) Line() int        { return n.LineNo }
func (n *NoneLit) String() string   { return "None" }
func (n *NoneLit) exprNode()        {}

// NameExpr is a bare identifier reference.
type NameExpr struct {
	Position int
	LineNo   int
	Name     string
}

func (n *NameExpr) nodeType() string { return "NameExpr" }
func (n *NameExpr) Pos() int         { return n.Position }
func (n *NameExpr) Line() int        { return n.LineNo }
func (n *NameExpr) String() string   { return n.Name }
func (n *NameExpr) exprNode()        {}

// TupleExpr is a comma-joined expression list.
type TupleExpr struct {
	Position int
	LineNo   int
	Elts     []Expr
}

func (n *TupleExpr) nodeType() string { return "TupleExpr" }
func (n *TupleExpr) Pos() int         { return n.Position }
func (n *TupleExpr) Line() int        { return n.LineNo }
func (n *TupleExpr) String() string   { return "(" + joinExprs(n.Elts) + ")" }
func (n *TupleExpr) exprNode()        {}

// ListExpr is a list display, e.g. [1, 2, 3].
type ListExpr struct {
	Position int
	LineNo   int
	Elts     []Expr
}

func (n *ListExpr) nodeType() string { return "ListExpr" }
func (n *ListExpr) Pos() int         { return n.Position }
func (n *ListExpr) Line() int        { return n.LineNo }
func (n *ListExpr) String() string   { return "[" + joinExprs(n.Elts) + "]" }
func (n *ListExpr) exprNode()        {}

// DictExpr is a dict display, e.g. {"a": 1}.
type DictExpr struct {
	Position int
	LineNo   int
	Keys     []Expr
	Values   []Expr
}

func (n *DictExpr) nodeType() string { return "DictExpr" }
func (n *DictExpr) Pos() int         { return n.Position }
func (n *DictExpr) Line() int        { return n.LineNo }
func (n *DictExpr) String() string {
	parts := make([]string, len(n.Keys))
	for i := range n.Keys {
		parts[i] = n.Keys[i].String() + ": " + n.Values[i].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
func (n *DictExpr) exprNode() {}

// BinaryExpr is an arithmetic, bitwise, or logical binary operation.
// and/or short-circuit in the evaluator.
type BinaryExpr struct {
	Position int
	LineNo   int
	Op       string // "+", "-", "*", "/", "//", "%", "**", "&", "|", "and", "or"
	Left     Expr
	Right    Expr
}

func (n *BinaryExpr) nodeType() string { return "BinaryExpr" }
func (n *BinaryExpr) Pos() int         { return n.Position }
func (n *BinaryExpr) Line() int        { return n.LineNo }
func (n *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left.String(), n.Op, n.Right.String())
}
func (n *BinaryExpr) exprNode() {}

// UnaryExpr is a prefix operation, e.g. -x or not x.
type UnaryExpr struct {
	Position int
	LineNo   int
	Op       string // "-", "+", "not"
	Operand  Expr
}

func (n *UnaryExpr) nodeType() string { return "UnaryExpr" }
func (n *UnaryExpr) Pos() int         { return n.Position }
func (n *UnaryExpr) Line() int        { return n.LineNo }
func (n *UnaryExpr) String() string   { return fmt.Sprintf("(%s %s)", n.Op, n.Operand.String()) }
func (n *UnaryExpr) exprNode()        {}

// CompareExpr is a possibly chained comparison, e.g. 0 < x <= 10.
type CompareExpr struct {
	Position    int
	LineNo      int
	Left        Expr
	Ops         []string // "<", "<=", ">", ">=", "==", "!=", "in", "not in", "is", "is not"
	Comparators []Expr
}

func (n *CompareExpr) nodeType() string { return "CompareExpr" }
func (n *CompareExpr) Pos() int         { return n.Position }
func (n *CompareExpr) Line() int        { return n.LineNo }
func (n *CompareExpr) String() string {
	s := n.Left.String()
	for i, op := range n.Ops {
		s += " " + op + " " + n.Comparators[i].String()
	}
	return "(" + s + ")"
}
func (n *CompareExpr) exprNode() {}

// Keyword is a name=value argument in a call.
type Keyword struct {
	Name  string
	Value Expr
}

// CallExpr is a function or method invocation.
type CallExpr struct {
	Position int
	LineNo   int
	Func     Expr
	Args     []Expr
	Keywords []Keyword
}

func (n *CallExpr) nodeType() string { return "CallExpr" }
func (n *CallExpr) Pos() int         { return n.Position }
func (n *CallExpr) Line() int        { return n.LineNo }
func (n *CallExpr) String() string {
	parts := make([]string, 0, len(n.Args)+len(n.Keywords))
	for _, a := range n.Args {
		parts = append(parts, a.String())
	}
	for _, k := range n.Keywords {
		parts = append(parts, k.Name+"="+k.Value.String())
	}
	return n.Func.String() + "(" + strings.Join(parts, ", ") + ")"
}
func (n *CallExpr) exprNode() {}

// AttributeExpr is dotted access, e.g. df.close.
type AttributeExpr struct {
	Position int
	LineNo   int
	Value    Expr
	Attr     string
}

func (n *AttributeExpr) nodeType() string { return "AttributeExpr" }
func (n *AttributeExpr) Pos() int         { return n.Position }
func (n *AttributeExpr) Line() int        { return n.LineNo }
func (n *AttributeExpr) String() string   { return n.Value.String() + "." + n.Attr }
func (n *AttributeExpr) exprNode()        {}

// SubscriptExpr is indexed access, e.g. xs[0] or df["close"].
type SubscriptExpr struct {
	Position int
	LineNo   int
	Value    Expr
	Index    Expr // SliceExpr for slicing
}

func (n *SubscriptExpr) nodeType() string { return "SubscriptExpr" }
func (n *SubscriptExpr) Pos() int         { return n.Position }
func (n *SubscriptExpr) Line() int        { return n.LineNo }
func (n *SubscriptExpr) String() string   { return n.Value.String() + "[" + n.Index.String() + "]" }
func (n *SubscriptExpr) exprNode()        {}

// SliceExpr is a [lo:hi:step] selector; any part may be nil.
type SliceExpr struct {
	Position int
	LineNo   int
	Lo       Expr
	Hi       Expr
	Step     Expr
}

func (n *SliceExpr) nodeType() string { return "SliceExpr" }
func (n *SliceExpr) Pos() int         { return n.Position }
func (n *SliceExpr) Line() int        { return n.LineNo }
func (n *SliceExpr) String() string {
	part := func(e Expr) string {
		if e == nil {
			return ""
		}
		return e.String()
	}
	return part(n.Lo) + ":" + part(n.Hi) + ":" + part(n.Step)
}
func (n *SliceExpr) exprNode() {}

// TernaryExpr is a conditional expression, e.g. a if cond else b.
type TernaryExpr struct {
	Position int
	LineNo   int
	Cond     Expr
	Then     Expr
	Else     Expr
}

func (n *TernaryExpr) nodeType() string { return "TernaryExpr" }
func (n *TernaryExpr) Pos() int         { return n.Position }
func (n *TernaryExpr) Line() int        { return n.LineNo }
func (n *TernaryExpr) String() string {
	return fmt.Sprintf("(%s if %s else %s)", n.Then.String(), n.Cond.String(), n.Else.String())
}
func (n *TernaryExpr) exprNode() {}

// LambdaExpr is an anonymous single-expression function.
type LambdaExpr struct {
	Position int
	LineNo   int
	Params   []Param
	Body     Expr
}

func (n *LambdaExpr) nodeType() string { return "LambdaExpr" }
func (n *LambdaExpr) Pos() int         { return n.Position }
func (n *LambdaExpr) Line() int        { return n.LineNo }
func (n *LambdaExpr) String() string   { return "lambda ...: " + n.Body.String() }
func (n *LambdaExpr) exprNode()        {}

// ListCompExpr is a list comprehension or generator expression,
// e.g. [x*2 for x in xs if x > 0]. Generators are materialised eagerly.
type ListCompExpr struct {
	Position int
	LineNo   int
	Elt      Expr
	Target   Expr
	Iter     Expr
	Cond     Expr // nil when no filter
}

func (n *ListCompExpr) nodeType() string { return "ListCompExpr" }
func (n *ListCompExpr) Pos() int         { return n.Position }
func (n *ListCompExpr) Line() int        { return n.LineNo }
func (n *ListCompExpr) String() string {
	s := fmt.Sprintf("[%s for %s in %s", n.Elt.String(), n.Target.String(), n.Iter.String())
	if n.Cond != nil {
		s += " if " + n.Cond.String()
	}
	return s + "]"
}
func (n *ListCompExpr) exprNode() {}

func joinExprs(elts []Expr) string {
	parts := make([]string, len(elts))
	for i, e := range elts {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// ════════════════════════════════════════════════════════════════════
// Parse Error
// ════════════════════════════════════════════════════════════════════

// ParseError captures lexing and parsing errors with position context.
type ParseError struct {
	Position int
	Line     int
	Column   int
	Message  string
	Hint     string // optional suggestion
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s (line %d)", e.Message, e.Line)
	if e.Hint != "" {
		msg += " (hint: " + e.Hint + ")"
	}
	return msg
}
