package sandbox

import (
	"fmt"
	"strconv"
	"strings"
)

// ════════════════════════════════════════════════════════════════════
// Parser — Recursive Descent
// ════════════════════════════════════════════════════════════════════

// maxParseDepth bounds expression nesting so hostile input cannot blow the
// interpreter stack.
const maxParseDepth = 200

// Parser transforms a token stream into an AST.
type Parser struct {
	tokens []Token
	pos    int
	depth  int
	source string // original source for error context
}

// NewParser creates a parser from a token slice.
func NewParser(tokens []Token, source string) *Parser {
	return &Parser{tokens: tokens, source: source}
}

// ParseModule lexes and parses a full program.
func ParseModule(input string) (*Module, error) {
	lexer := NewLexer(input)
	tokens, err := lexer.Tokenize()
	if err != nil {
		return nil, err
	}
	parser := NewParser(tokens, input)
	return parser.parseModule()
}

// ParseExpression lexes and parses input that must be a single expression.
// Statements and trailing tokens are parse errors.
func ParseExpression(input string) (Expr, error) {
	lexer := NewLexer(input)
	tokens, err := lexer.Tokenize()
	if err != nil {
		return nil, err
	}
	parser := NewParser(tokens, input)
	expr, err := parser.parseTestlist()
	if err != nil {
		return nil, err
	}
	for parser.peek().Type == TokenNewline {
		parser.advance()
	}
	if parser.peek().Type != TokenEOF {
		tok := parser.peek()
		return nil, parser.errorf(tok, "unexpected token %s after expression", tok.Type)
	}
	return expr, nil
}

// ────────────────────────────────────────────────────────────────────
// Token helpers
// ────────────────────────────────────────────────────────────────────

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) match(typ TokenType) bool {
	if p.peek().Type == typ {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(typ TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != typ {
		return tok, p.errorf(tok, "expected %s, got %s", typ, tok.Type)
	}
	return p.advance(), nil
}

func (p *Parser) errorf(tok Token, format string, args ...interface{}) error {
	return &ParseError{
		Position: tok.Position,
		Line:     tok.Line,
		Column:   tok.Column,
		Message:  fmt.Sprintf(format, args...),
	}
}

// ────────────────────────────────────────────────────────────────────
// Grammar (statements):
//   module    → (NEWLINE | statement)* EOF
//   statement → compound | simple_line
//   compound  → if | while | for | def
//   simple_line → simple (';' simple)* NEWLINE
//   simple    → pass | break | continue | return | import | from
//             | testlist ('=' testlist)* | testlist augop testlist | testlist
//   suite     → ':' (simple_line | NEWLINE INDENT statement+ DEDENT)
// ────────────────────────────────────────────────────────────────────

func (p *Parser) parseModule() (*Module, error) {
	module := &Module{}
	for {
		switch p.peek().Type {
		case TokenEOF:
			return module, nil
		case TokenNewline:
			p.advance()
		default:
			stmts, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			module.Body = append(module.Body, stmts...)
		}
	}
}

func (p *Parser) parseStatement() ([]Stmt, error) {
	switch p.peek().Type {
	case TokenIf:
		stmt, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		return []Stmt{stmt}, nil
	case TokenWhile:
		stmt, err := p.parseWhile()
		if err != nil {
			return nil, err
		}
		return []Stmt{stmt}, nil
	case TokenFor:
		stmt, err := p.parseFor()
		if err != nil {
			return nil, err
		}
		return []Stmt{stmt}, nil
	case TokenDef:
		stmt, err := p.parseDef()
		if err != nil {
			return nil, err
		}
		return []Stmt{stmt}, nil
	default:
		return p.parseSimpleLine()
	}
}

func (p *Parser) parseSimpleLine() ([]Stmt, error) {
	var stmts []Stmt
	for {
		stmt, err := p.parseSimpleStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		if !p.match(TokenSemicolon) {
			break
		}
		if p.peek().Type == TokenNewline || p.peek().Type == TokenEOF {
			break
		}
	}
	if p.peek().Type == TokenEOF {
		return stmts, nil
	}
	if _, err := p.expect(TokenNewline); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) parseSimpleStmt() (Stmt, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenPass:
		p.advance()
		return &PassStmt{Position: tok.Position, LineNo: tok.Line}, nil
	case TokenBreak:
		p.advance()
		return &BreakStmt{Position: tok.Position, LineNo: tok.Line}, nil
	case TokenContinue:
		p.advance()
		return &ContinueStmt{Position: tok.Position, LineNo: tok.Line}, nil
	case TokenReturn:
		p.advance()
		ret := &ReturnStmt{Position: tok.Position, LineNo: tok.Line}
		if t := p.peek().Type; t != TokenNewline && t != TokenEOF && t != TokenSemicolon {
			value, err := p.parseTestlist()
			if err != nil {
				return nil, err
			}
			ret.Value = value
		}
		return ret, nil
	case TokenImport:
		return p.parseImport()
	case TokenFrom:
		return p.parseFromImport()
	}

	first, err := p.parseTestlist()
	if err != nil {
		return nil, err
	}

	if op, ok := augOp(p.peek().Type); ok {
		opTok := p.advance()
		if err := validateTarget(first, false); err != nil {
			return nil, p.errorf(opTok, "%s", err.Error())
		}
		value, err := p.parseTestlist()
		if err != nil {
			return nil, err
		}
		return &AugAssignStmt{Position: tok.Position, LineNo: tok.Line, Target: first, Op: op, Value: value}, nil
	}

	if p.peek().Type == TokenAssign {
		exprs := []Expr{first}
		for p.match(TokenAssign) {
			next, err := p.parseTestlist()
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, next)
		}
		targets := exprs[:len(exprs)-1]
		for _, t := range targets {
			if err := validateTarget(t, true); err != nil {
				return nil, p.errorf(tok, "%s", err.Error())
			}
		}
		return &AssignStmt{Position: tok.Position, LineNo: tok.Line, Targets: targets, Value: exprs[len(exprs)-1]}, nil
	}

	return &ExprStmt{Position: tok.Position, LineNo: tok.Line, Value: first}, nil
}

func augOp(typ TokenType) (string, bool) {
	switch typ {
	case TokenPlusEq:
		return "+", true
	case TokenMinusEq:
		return "-", true
	case TokenStarEq:
		return "*", true
	case TokenSlashEq:
		return "/", true
	case TokenPercentEq:
		return "%", true
	}
	return "", false
}

// validateTarget checks that an expression can be assigned to.
func validateTarget(e Expr, allowTuple bool) error {
	switch t := e.(type) {
	case *NameExpr, *AttributeExpr, *SubscriptExpr:
		return nil
	case *TupleExpr:
		if !allowTuple {
			return fmt.Errorf("cannot use tuple as assignment target here")
		}
		for _, elt := range t.Elts {
			if err := validateTarget(elt, false); err != nil {
				return err
			}
		}
		return nil
	case *ListExpr:
		if !allowTuple {
			return fmt.Errorf("cannot use list as assignment target here")
		}
		for _, elt := range t.Elts {
			if err := validateTarget(elt, false); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("cannot assign to %s", e.nodeType())
	}
}

func (p *Parser) parseImport() (Stmt, error) {
	tok, _ := p.expect(TokenImport)
	nameTok, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	module := nameTok.Value
	// dotted module names collapse to the head, which decides allowlisting
	for p.peek().Type == TokenDot {
		p.advance()
		part, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		module += "." + part.Value
	}
	stmt := &ImportStmt{Position: tok.Position, LineNo: tok.Line, Module: module}
	if p.match(TokenAs) {
		aliasTok, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		stmt.Alias = aliasTok.Value
	}
	return stmt, nil
}

func (p *Parser) parseFromImport() (Stmt, error) {
	tok, _ := p.expect(TokenFrom)
	nameTok, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	module := nameTok.Value
	for p.peek().Type == TokenDot {
		p.advance()
		part, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		module += "." + part.Value
	}
	if _, err := p.expect(TokenImport); err != nil {
		return nil, err
	}
	stmt := &FromImportStmt{Position: tok.Position, LineNo: tok.Line, Module: module}
	for {
		itemTok := p.peek()
		var name string
		if itemTok.Type == TokenStar {
			p.advance()
			name = "*"
		} else {
			t, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			name = t.Value
		}
		alias := ""
		if p.match(TokenAs) {
			aliasTok, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			alias = aliasTok.Value
		}
		stmt.Names = append(stmt.Names, [2]string{name, alias})
		if !p.match(TokenComma) {
			break
		}
	}
	return stmt, nil
}

// ────────────────────────────────────────────────────────────────────
// Compound statements
// ────────────────────────────────────────────────────────────────────

func (p *Parser) parseIf() (Stmt, error) {
	// consumes either the leading 'if' or a chained 'elif'
	tok := p.advance()
	cond, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{Position: tok.Position, LineNo: tok.Line, Cond: cond, Body: body}
	switch p.peek().Type {
	case TokenElif:
		nested, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		stmt.Else = []Stmt{nested}
	case TokenElse:
		p.advance()
		elseBody, err := p.parseSuite()
		if err != nil {
			return nil, err
		}
		stmt.Else = elseBody
	}
	return stmt, nil
}

func (p *Parser) parseWhile() (Stmt, error) {
	tok, _ := p.expect(TokenWhile)
	cond, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{Position: tok.Position, LineNo: tok.Line, Cond: cond, Body: body}, nil
}

func (p *Parser) parseFor() (Stmt, error) {
	tok, _ := p.expect(TokenFor)
	target, err := p.parseTargetList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenIn); err != nil {
		return nil, err
	}
	iter, err := p.parseTestlist()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	return &ForStmt{Position: tok.Position, LineNo: tok.Line, Target: target, Iter: iter, Body: body}, nil
}

func (p *Parser) parseDef() (Stmt, error) {
	tok, _ := p.expect(TokenDef)
	nameTok, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	params, err := p.parseParams(TokenRParen)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	return &FuncDefStmt{Position: tok.Position, LineNo: tok.Line, Name: nameTok.Value, Params: params, Body: body}, nil
}

func (p *Parser) parseParams(end TokenType) ([]Param, error) {
	var params []Param
	for p.peek().Type != end {
		nameTok, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		param := Param{Name: nameTok.Value}
		if p.match(TokenAssign) {
			def, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			param.Default = def
		}
		params = append(params, param)
		if !p.match(TokenComma) {
			break
		}
	}
	return params, nil
}

func (p *Parser) parseSuite() ([]Stmt, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxParseDepth {
		return nil, p.errorf(p.peek(), "block is nested too deeply")
	}
	if _, err := p.expect(TokenColon); err != nil {
		return nil, err
	}
	if p.peek().Type != TokenNewline {
		// inline suite on the header line
		return p.parseSimpleLine()
	}
	p.advance()
	if _, err := p.expect(TokenIndent); err != nil {
		tok := p.peek()
		return nil, p.errorf(tok, "expected an indented block")
	}
	var body []Stmt
	for {
		switch p.peek().Type {
		case TokenDedent:
			p.advance()
			return body, nil
		case TokenNewline:
			p.advance()
		case TokenEOF:
			return body, nil
		default:
			stmts, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			body = append(body, stmts...)
		}
	}
}

// parseTargetList parses a loop target: name (',' name)*.
func (p *Parser) parseTargetList() (Expr, error) {
	tok := p.peek()
	first, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokenComma {
		if err := validateTarget(first, true); err != nil {
			return nil, p.errorf(tok, "%s", err.Error())
		}
		return first, nil
	}
	elts := []Expr{first}
	for p.match(TokenComma) {
		if p.peek().Type == TokenIn {
			break
		}
		next, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		elts = append(elts, next)
	}
	tuple := &TupleExpr{Position: tok.Position, LineNo: tok.Line, Elts: elts}
	if err := validateTarget(tuple, true); err != nil {
		return nil, p.errorf(tok, "%s", err.Error())
	}
	return tuple, nil
}

// ────────────────────────────────────────────────────────────────────
// Grammar (expressions, precedence from lowest to highest):
//   testlist   → test (',' test)* — tuple when more than one
//   test       → ternary | lambda
//   ternary    → or ('if' or 'else' test)?
//   or         → and ('or' and)*
//   and        → not ('and' not)*
//   not        → 'not' not | comparison
//   comparison → bitor (compop bitor)*       — chained, Python style
//   bitor      → bitand ('|' bitand)*
//   bitand     → arith ('&' arith)*
//   arith      → term (('+'|'-') term)*
//   term       → factor (('*'|'/'|'//'|'%') factor)*
//   factor     → ('-'|'+') factor | power
//   power      → postfix ('**' factor)?
//   postfix    → atom (call | subscript | '.' NAME)*
// ────────────────────────────────────────────────────────────────────

func (p *Parser) parseTestlist() (Expr, error) {
	tok := p.peek()
	first, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokenComma {
		return first, nil
	}
	elts := []Expr{first}
	for p.match(TokenComma) {
		if isExprTerminator(p.peek().Type) {
			break // trailing comma
		}
		next, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		elts = append(elts, next)
	}
	return &TupleExpr{Position: tok.Position, LineNo: tok.Line, Elts: elts}, nil
}

func isExprTerminator(typ TokenType) bool {
	switch typ {
	case TokenNewline, TokenEOF, TokenSemicolon, TokenAssign, TokenRParen,
		TokenRBracket, TokenRBrace, TokenColon:
		return true
	}
	return false
}

func (p *Parser) parseTest() (Expr, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxParseDepth {
		tok := p.peek()
		return nil, p.errorf(tok, "expression is nested too deeply")
	}
	if p.peek().Type == TokenLambda {
		return p.parseLambda()
	}
	tok := p.peek()
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokenIf {
		return cond, nil
	}
	p.advance()
	test, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenElse); err != nil {
		return nil, err
	}
	alt, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	return &TernaryExpr{Position: tok.Position, LineNo: tok.Line, Cond: test, Then: cond, Else: alt}, nil
}

func (p *Parser) parseLambda() (Expr, error) {
	tok, _ := p.expect(TokenLambda)
	params, err := p.parseParams(TokenColon)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenColon); err != nil {
		return nil, err
	}
	body, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	return &LambdaExpr{Position: tok.Position, LineNo: tok.Line, Params: params, Body: body}, nil
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenOr {
		opTok := p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: opTok.Position, LineNo: opTok.Line, Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenAnd {
		opTok := p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: opTok.Position, LineNo: opTok.Line, Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.peek().Type == TokenNot && p.peekAt(1).Type != TokenIn {
		opTok := p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Position: opTok.Position, LineNo: opTok.Line, Op: "not", Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	tok := p.peek()
	left, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}
	var ops []string
	var comparators []Expr
	for {
		op, ok := p.compOp()
		if !ok {
			break
		}
		right, err := p.parseBitOr()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		comparators = append(comparators, right)
	}
	if len(ops) == 0 {
		return left, nil
	}
	return &CompareExpr{Position: tok.Position, LineNo: tok.Line, Left: left, Ops: ops, Comparators: comparators}, nil
}

// compOp consumes a comparison operator if one is next.
func (p *Parser) compOp() (string, bool) {
	switch p.peek().Type {
	case TokenLT:
		p.advance()
		return "<", true
	case TokenGT:
		p.advance()
		return ">", true
	case TokenLTE:
		p.advance()
		return "<=", true
	case TokenGTE:
		p.advance()
		return ">=", true
	case TokenEQ:
		p.advance()
		return "==", true
	case TokenNEQ:
		p.advance()
		return "!=", true
	case TokenIn:
		p.advance()
		return "in", true
	case TokenNot:
		if p.peekAt(1).Type == TokenIn {
			p.advance()
			p.advance()
			return "not in", true
		}
		return "", false
	case TokenIs:
		p.advance()
		if p.peek().Type == TokenNot {
			p.advance()
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *Parser) parseBitOr() (Expr, error) {
	left, err := p.parseBitAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenVBar {
		opTok := p.advance()
		right, err := p.parseBitAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: opTok.Position, LineNo: opTok.Line, Op: "|", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseBitAnd() (Expr, error) {
	left, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenAmp {
		opTok := p.advance()
		right, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: opTok.Position, LineNo: opTok.Line, Op: "&", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseArith() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.peek().Type {
		case TokenPlus:
			op = "+"
		case TokenMinus:
			op = "-"
		default:
			return left, nil
		}
		opTok := p.advance()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: opTok.Position, LineNo: opTok.Line, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseTerm() (Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.peek().Type {
		case TokenStar:
			op = "*"
		case TokenSlash:
			op = "/"
		case TokenFloorDiv:
			op = "//"
		case TokenPercent:
			op = "%"
		default:
			return left, nil
		}
		opTok := p.advance()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: opTok.Position, LineNo: opTok.Line, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseFactor() (Expr, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxParseDepth {
		return nil, p.errorf(p.peek(), "expression is nested too deeply")
	}
	tok := p.peek()
	if tok.Type == TokenMinus || tok.Type == TokenPlus {
		p.advance()
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Position: tok.Position, LineNo: tok.Line, Op: tok.Value, Operand: operand}, nil
	}
	return p.parsePower()
}

func (p *Parser) parsePower() (Expr, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.peek().Type == TokenDoubleStar {
		opTok := p.advance()
		// right-associative, and unary minus binds tighter on the right
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Position: opTok.Position, LineNo: opTok.Line, Op: "**", Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().Type {
		case TokenLParen:
			expr, err = p.parseCall(expr)
			if err != nil {
				return nil, err
			}
		case TokenLBracket:
			expr, err = p.parseSubscript(expr)
			if err != nil {
				return nil, err
			}
		case TokenDot:
			dotTok := p.advance()
			nameTok, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			expr = &AttributeExpr{Position: dotTok.Position, LineNo: dotTok.Line, Value: expr, Attr: nameTok.Value}
		default:
			return expr, nil
		}
	}
}

func (p *Parser) parseCall(fn Expr) (Expr, error) {
	lparen, _ := p.expect(TokenLParen)
	call := &CallExpr{Position: lparen.Position, LineNo: lparen.Line, Func: fn}
	for p.peek().Type != TokenRParen {
		if p.peek().Type == TokenIdentifier && p.peekAt(1).Type == TokenAssign {
			nameTok := p.advance()
			p.advance() // '='
			value, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			call.Keywords = append(call.Keywords, Keyword{Name: nameTok.Value, Value: value})
		} else {
			arg, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			// generator expression as the sole argument, e.g. sum(x for x in xs)
			if p.peek().Type == TokenFor && len(call.Args) == 0 && len(call.Keywords) == 0 {
				comp, err := p.parseComprehension(arg, lparen)
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, comp)
				break
			}
			if len(call.Keywords) > 0 {
				return nil, p.errorf(p.peek(), "positional argument after keyword argument")
			}
			call.Args = append(call.Args, arg)
		}
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *Parser) parseComprehension(elt Expr, open Token) (Expr, error) {
	if _, err := p.expect(TokenFor); err != nil {
		return nil, err
	}
	target, err := p.parseTargetList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenIn); err != nil {
		return nil, err
	}
	iter, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	comp := &ListCompExpr{Position: open.Position, LineNo: open.Line, Elt: elt, Target: target, Iter: iter}
	if p.match(TokenIf) {
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		comp.Cond = cond
	}
	return comp, nil
}

func (p *Parser) parseSubscript(value Expr) (Expr, error) {
	lbracket, _ := p.expect(TokenLBracket)
	var lo, hi, step Expr
	var err error
	isSlice := false

	if p.peek().Type != TokenColon {
		lo, err = p.parseTest()
		if err != nil {
			return nil, err
		}
	}
	if p.match(TokenColon) {
		isSlice = true
		if t := p.peek().Type; t != TokenRBracket && t != TokenColon {
			hi, err = p.parseTest()
			if err != nil {
				return nil, err
			}
		}
		if p.match(TokenColon) {
			if p.peek().Type != TokenRBracket {
				step, err = p.parseTest()
				if err != nil {
					return nil, err
				}
			}
		}
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}

	var index Expr
	if isSlice {
		index = &SliceExpr{Position: lbracket.Position, LineNo: lbracket.Line, Lo: lo, Hi: hi, Step: step}
	} else {
		index = lo
	}
	return &SubscriptExpr{Position: lbracket.Position, LineNo: lbracket.Line, Value: value, Index: index}, nil
}

func (p *Parser) parseAtom() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenNumber:
		p.advance()
		return numberLit(tok)
	case TokenString:
		p.advance()
		return &StringLit{Position: tok.Position, LineNo: tok.Line, Value: tok.Value}, nil
	case TokenFString:
		p.advance()
		return p.parseFString(tok)
	case TokenTrue:
		p.advance()
		return &BoolLit{Position: tok.Position, LineNo: tok.Line, Value: true}, nil
	case TokenFalse:
		p.advance()
		return &BoolLit{Position: tok.Position, LineNo: tok.Line, Value: false}, nil
	case TokenNone:
		p.advance()
		return &NoneLit{Position: tok.Position, LineNo: tok.Line}, nil
	case TokenIdentifier:
		p.advance()
		return &NameExpr{Position: tok.Position, LineNo: tok.Line, Name: tok.Value}, nil
	case TokenLambda:
		return p.parseLambda()
	case TokenLParen:
		return p.parseParen()
	case TokenLBracket:
		return p.parseListDisplay()
	case TokenLBrace:
		return p.parseDictDisplay()
	}
	return nil, p.errorf(tok, "unexpected token %s", tok.Type)
}

func numberLit(tok Token) (Expr, error) {
	raw := tok.Value
	if strings.ContainsAny(raw, ".eE") {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &ParseError{Position: tok.Position, Line: tok.Line, Column: tok.Column,
				Message: fmt.Sprintf("invalid number literal %q", raw)}
		}
		return &NumberLit{Position: tok.Position, LineNo: tok.Line, Float: f, Raw: raw}, nil
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return nil, &ParseError{Position: tok.Position, Line: tok.Line, Column: tok.Column,
				Message: fmt.Sprintf("invalid number literal %q", raw)}
		}
		return &NumberLit{Position: tok.Position, LineNo: tok.Line, Float: f, Raw: raw}, nil
	}
	return &NumberLit{Position: tok.Position, LineNo: tok.Line, IsInt: true, Int: i, Raw: raw}, nil
}

func (p *Parser) parseParen() (Expr, error) {
	lparen, _ := p.expect(TokenLParen)
	if p.match(TokenRParen) {
		return &TupleExpr{Position: lparen.Position, LineNo: lparen.Line}, nil
	}
	first, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	if p.peek().Type == TokenFor {
		comp, err := p.parseComprehension(first, lparen)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return comp, nil
	}
	if p.peek().Type == TokenComma {
		elts := []Expr{first}
		for p.match(TokenComma) {
			if p.peek().Type == TokenRParen {
				break
			}
			next, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			elts = append(elts, next)
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return &TupleExpr{Position: lparen.Position, LineNo: lparen.Line, Elts: elts}, nil
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return first, nil
}

func (p *Parser) parseListDisplay() (Expr, error) {
	lbracket, _ := p.expect(TokenLBracket)
	if p.match(TokenRBracket) {
		return &ListExpr{Position: lbracket.Position, LineNo: lbracket.Line}, nil
	}
	first, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	if p.peek().Type == TokenFor {
		comp, err := p.parseComprehension(first, lbracket)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRBracket); err != nil {
			return nil, err
		}
		return comp, nil
	}
	elts := []Expr{first}
	for p.match(TokenComma) {
		if p.peek().Type == TokenRBracket {
			break
		}
		next, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		elts = append(elts, next)
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	return &ListExpr{Position: lbracket.Position, LineNo: lbracket.Line, Elts: elts}, nil
}

func (p *Parser) parseDictDisplay() (Expr, error) {
	lbrace, _ := p.expect(TokenLBrace)
	dict := &DictExpr{Position: lbrace.Position, LineNo: lbrace.Line}
	if p.match(TokenRBrace) {
		return dict, nil
	}
	for {
		key, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != TokenColon {
			return nil, p.errorf(p.peek(), "expected ':' in dict literal (set literals are not supported)")
		}
		p.advance()
		value, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		dict.Keys = append(dict.Keys, key)
		dict.Values = append(dict.Values, value)
		if !p.match(TokenComma) {
			break
		}
		if p.peek().Type == TokenRBrace {
			break
		}
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return dict, nil
}

// ────────────────────────────────────────────────────────────────────
// F-strings
// ────────────────────────────────────────────────────────────────────

// parseFString splits the raw inner text of an f-string into literal and
// expression parts, sub-parsing each embedded expression.
func (p *Parser) parseFString(tok Token) (Expr, error) {
	lit := &FStringLit{Position: tok.Position, LineNo: tok.Line}
	runes := []rune(tok.Value)
	var text strings.Builder
	i := 0
	flushText := func() {
		if text.Len() > 0 {
			lit.Parts = append(lit.Parts, FStringPart{Literal: decodeEscapes(text.String())})
			text.Reset()
		}
	}
	for i < len(runes) {
		ch := runes[i]
		switch {
		case ch == '{' && i+1 < len(runes) && runes[i+1] == '{':
			text.WriteByte('{')
			i += 2
		case ch == '}' && i+1 < len(runes) && runes[i+1] == '}':
			text.WriteByte('}')
			i += 2
		case ch == '}':
			return nil, p.errorf(tok, "single '}' is not allowed in f-string")
		case ch == '{':
			flushText()
			exprText, spec, next, err := scanFStringField(runes, i+1)
			if err != nil {
				return nil, p.errorf(tok, "%s", err.Error())
			}
			inner, err := ParseExpression(exprText)
			if err != nil {
				return nil, p.errorf(tok, "invalid expression in f-string: %s", exprText)
			}
			lit.Parts = append(lit.Parts, FStringPart{Expr: inner, Spec: spec})
			i = next
		default:
			text.WriteRune(ch)
			i++
		}
	}
	flushText()
	return lit, nil
}

// scanFStringField scans from just past '{' to the matching '}', splitting
// on the first top-level ':' into expression text and format spec.
func scanFStringField(runes []rune, start int) (exprText, spec string, next int, err error) {
	depth := 0
	var quote rune
	colon := -1
	for i := start; i < len(runes); i++ {
		ch := runes[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(', '[', '{':
			depth++
		case ')', ']':
			depth--
		case ':':
			if depth == 0 && colon < 0 {
				colon = i
			}
		case '}':
			if depth == 0 {
				exprEnd := i
				if colon >= 0 {
					exprEnd = colon
					spec = string(runes[colon+1 : i])
				}
				exprText = strings.TrimSpace(string(runes[start:exprEnd]))
				// drop a !r / !s conversion marker
				if n := len(exprText); n >= 2 && exprText[n-2] == '!' {
					exprText = exprText[:n-2]
				}
				if exprText == "" {
					return "", "", 0, fmt.Errorf("empty expression in f-string")
				}
				return exprText, spec, i + 1, nil
			}
			depth--
		}
	}
	return "", "", 0, fmt.Errorf("unterminated '{' in f-string")
}

func decodeEscapes(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			switch runes[i+1] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '\'':
				sb.WriteByte('\'')
			case '"':
				sb.WriteByte('"')
			default:
				sb.WriteRune(runes[i])
				sb.WriteRune(runes[i+1])
			}
			i++
			continue
		}
		sb.WriteRune(runes[i])
	}
	return sb.String()
}
