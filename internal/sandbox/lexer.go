package sandbox

import (
	"fmt"
	"strings"
	"unicode"
)

// ════════════════════════════════════════════════════════════════════
// Lexer
// ════════════════════════════════════════════════════════════════════

// Lexer tokenizes sandbox source text. Lines are significant: the lexer
// emits NEWLINE at each logical line end and INDENT/DEDENT as the leading
// whitespace grows and shrinks, with implicit line joining inside brackets.
type Lexer struct {
	input       []rune
	pos         int
	line        int
	col         int
	tokens      []Token
	indents     []int // indentation stack, always starts with 0
	bracketOpen int   // depth of ( [ { nesting
	atLineStart bool
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:       []rune(input),
		pos:         0,
		line:        1,
		col:         1,
		indents:     []int{0},
		atLineStart: true,
	}
}

// Tokenize performs the complete tokenization and returns all tokens.
func (l *Lexer) Tokenize() ([]Token, error) {
	for {
		if l.atLineStart && l.bracketOpen == 0 {
			if err := l.handleLineStart(); err != nil {
				return nil, err
			}
			if l.pos >= len(l.input) {
				break
			}
		}
		if l.pos >= len(l.input) {
			break
		}
		tok, emitted, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		if emitted {
			l.tokens = append(l.tokens, tok)
		}
	}
	l.finish()
	return l.tokens, nil
}

// handleLineStart measures indentation and emits INDENT/DEDENT tokens.
// Blank and comment-only lines are skipped without affecting the stack.
func (l *Lexer) handleLineStart() error {
	for {
		indent := 0
		for l.pos < len(l.input) {
			switch l.input[l.pos] {
			case ' ':
				indent++
				l.advance()
			case '\t':
				indent += 8 - indent%8
				l.advance()
			default:
				goto measured
			}
		}
	measured:
		if l.pos >= len(l.input) {
			return nil
		}
		ch := l.input[l.pos]
		if ch == '\n' || ch == '\r' {
			l.advance()
			if ch == '\r' && l.pos < len(l.input) && l.input[l.pos] == '\n' {
				l.advance()
			}
			continue
		}
		if ch == '#' {
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.advance()
			}
			continue
		}

		cur := l.indents[len(l.indents)-1]
		switch {
		case indent > cur:
			l.indents = append(l.indents, indent)
			l.tokens = append(l.tokens, l.makeToken(TokenIndent, "", l.pos, l.line, 1))
		case indent < cur:
			for len(l.indents) > 1 && l.indents[len(l.indents)-1] > indent {
				l.indents = l.indents[:len(l.indents)-1]
				l.tokens = append(l.tokens, l.makeToken(TokenDedent, "", l.pos, l.line, 1))
			}
			if l.indents[len(l.indents)-1] != indent {
				return &ParseError{
					Position: l.pos,
					Line:     l.line,
					Column:   1,
					Message:  "unindent does not match any outer indentation level",
				}
			}
		}
		l.atLineStart = false
		return nil
	}
}

// finish emits the trailing NEWLINE and DEDENT tokens followed by EOF.
func (l *Lexer) finish() {
	if n := len(l.tokens); n > 0 {
		last := l.tokens[n-1].Type
		if last != TokenNewline && last != TokenIndent && last != TokenDedent {
			l.tokens = append(l.tokens, l.makeToken(TokenNewline, "", l.pos, l.line, l.col))
		}
	}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.tokens = append(l.tokens, l.makeToken(TokenDedent, "", l.pos, l.line, l.col))
	}
	l.tokens = append(l.tokens, l.makeToken(TokenEOF, "", l.pos, l.line, l.col))
}

// ────────────────────────────────────────────────────────────────────
// Internal scanning
// ────────────────────────────────────────────────────────────────────

func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekAt(offset int) rune {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	ch := l.input[l.pos]
	l.pos++
	if ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return ch
}

func (l *Lexer) makeToken(typ TokenType, value string, pos, line, col int) Token {
	return Token{Type: typ, Value: value, Position: pos, Line: line, Column: col}
}

func (l *Lexer) nextToken() (Token, bool, error) {
	// skip spaces and comments inside a logical line
	for l.pos < len(l.input) {
		ch := l.peek()
		if ch == ' ' || ch == '\t' {
			l.advance()
			continue
		}
		if ch == '#' {
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.advance()
			}
			continue
		}
		if ch == '\\' && l.peekAt(1) == '\n' {
			l.advance()
			l.advance()
			continue
		}
		if ch == '\r' {
			l.advance()
			continue
		}
		break
	}

	if l.pos >= len(l.input) {
		return Token{}, false, nil
	}

	startPos := l.pos
	startLine := l.line
	startCol := l.col
	ch := l.peek()

	if ch == '\n' {
		l.advance()
		if l.bracketOpen > 0 {
			return Token{}, false, nil
		}
		l.atLineStart = true
		return l.makeToken(TokenNewline, "", startPos, startLine, startCol), true, nil
	}

	// f-strings: f"..." or f'...'
	if (ch == 'f' || ch == 'F') && (l.peekAt(1) == '"' || l.peekAt(1) == '\'') {
		l.advance()
		return l.readString(l.peek(), startPos, startLine, startCol, true)
	}

	if ch == '"' || ch == '\'' {
		return l.readString(ch, startPos, startLine, startCol, false)
	}

	if unicode.IsDigit(ch) || (ch == '.' && unicode.IsDigit(l.peekAt(1))) {
		return l.readNumber(startPos, startLine, startCol)
	}

	if unicode.IsLetter(ch) || ch == '_' {
		return l.readIdentifier(startPos, startLine, startCol)
	}

	emit := func(typ TokenType, text string) (Token, bool, error) {
		for range text {
			l.advance()
		}
		return l.makeToken(typ, text, startPos, startLine, startCol), true, nil
	}

	switch ch {
	case '(':
		l.bracketOpen++
		return emit(TokenLParen, "(")
	case ')':
		if l.bracketOpen > 0 {
			l.bracketOpen--
		}
		return emit(TokenRParen, ")")
	case '[':
		l.bracketOpen++
		return emit(TokenLBracket, "[")
	case ']':
		if l.bracketOpen > 0 {
			l.bracketOpen--
		}
		return emit(TokenRBracket, "]")
	case '{':
		l.bracketOpen++
		return emit(TokenLBrace, "{")
	case '}':
		if l.bracketOpen > 0 {
			l.bracketOpen--
		}
		return emit(TokenRBrace, "}")
	case ',':
		return emit(TokenComma, ",")
	case ':':
		return emit(TokenColon, ":")
	case ';':
		return emit(TokenSemicolon, ";")
	case '.':
		return emit(TokenDot, ".")
	case '&':
		return emit(TokenAmp, "&")
	case '|':
		return emit(TokenVBar, "|")
	case '+':
		if l.peekAt(1) == '=' {
			return emit(TokenPlusEq, "+=")
		}
		return emit(TokenPlus, "+")
	case '-':
		if l.peekAt(1) == '=' {
			return emit(TokenMinusEq, "-=")
		}
		return emit(TokenMinus, "-")
	case '*':
		if l.peekAt(1) == '*' {
			return emit(TokenDoubleStar, "**")
		}
		if l.peekAt(1) == '=' {
			return emit(TokenStarEq, "*=")
		}
		return emit(TokenStar, "*")
	case '/':
		if l.peekAt(1) == '/' {
			return emit(TokenFloorDiv, "//")
		}
		if l.peekAt(1) == '=' {
			return emit(TokenSlashEq, "/=")
		}
		return emit(TokenSlash, "/")
	case '%':
		if l.peekAt(1) == '=' {
			return emit(TokenPercentEq, "%=")
		}
		return emit(TokenPercent, "%")
	case '>':
		if l.peekAt(1) == '=' {
			return emit(TokenGTE, ">=")
		}
		return emit(TokenGT, ">")
	case '<':
		if l.peekAt(1) == '=' {
			return emit(TokenLTE, "<=")
		}
		return emit(TokenLT, "<")
	case '=':
		if l.peekAt(1) == '=' {
			return emit(TokenEQ, "==")
		}
		return emit(TokenAssign, "=")
	case '!':
		if l.peekAt(1) == '=' {
			return emit(TokenNEQ, "!=")
		}
	}

	l.advance()
	return Token{}, false, &ParseError{
		Position: startPos,
		Line:     startLine,
		Column:   startCol,
		Message:  fmt.Sprintf("invalid character %q", ch),
	}
}

func (l *Lexer) readString(quote rune, startPos, startLine, startCol int, fstring bool) (Token, bool, error) {
	l.advance() // consume opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.input) || l.peek() == '\n' {
			return Token{}, false, &ParseError{
				Position: startPos,
				Line:     startLine,
				Column:   startCol,
				Message:  "unterminated string literal",
			}
		}
		ch := l.advance()
		if ch == quote {
			break
		}
		if ch == '\\' && !fstring {
			next := l.advance()
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			case '\'':
				sb.WriteByte('\'')
			default:
				sb.WriteRune('\\')
				sb.WriteRune(next)
			}
			continue
		}
		if ch == '\\' && fstring {
			// keep escapes raw inside f-strings, the parser decodes literal parts
			sb.WriteRune(ch)
			sb.WriteRune(l.advance())
			continue
		}
		sb.WriteRune(ch)
	}
	typ := TokenString
	if fstring {
		typ = TokenFString
	}
	return l.makeToken(typ, sb.String(), startPos, startLine, startCol), true, nil
}

func (l *Lexer) readNumber(startPos, startLine, startCol int) (Token, bool, error) {
	var sb strings.Builder
	hasDot := false
	hasExp := false

	for l.pos < len(l.input) {
		ch := l.peek()
		switch {
		case unicode.IsDigit(ch):
			sb.WriteRune(l.advance())
		case ch == '_' && unicode.IsDigit(l.peekAt(1)):
			l.advance() // digit group separator, dropped
		case ch == '.' && !hasDot && !hasExp:
			hasDot = true
			sb.WriteRune(l.advance())
		case (ch == 'e' || ch == 'E') && !hasExp && (unicode.IsDigit(l.peekAt(1)) || l.peekAt(1) == '+' || l.peekAt(1) == '-'):
			hasExp = true
			sb.WriteRune(l.advance())
			if l.peek() == '+' || l.peek() == '-' {
				sb.WriteRune(l.advance())
			}
		default:
			return l.makeToken(TokenNumber, sb.String(), startPos, startLine, startCol), true, nil
		}
	}
	return l.makeToken(TokenNumber, sb.String(), startPos, startLine, startCol), true, nil
}

func (l *Lexer) readIdentifier(startPos, startLine, startCol int) (Token, bool, error) {
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.peek()
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			sb.WriteRune(l.advance())
		} else {
			break
		}
	}
	word := sb.String()
	if typ, ok := keywords[word]; ok {
		return l.makeToken(typ, word, startPos, startLine, startCol), true, nil
	}
	return l.makeToken(TokenIdentifier, word, startPos, startLine, startCol), true, nil
}
