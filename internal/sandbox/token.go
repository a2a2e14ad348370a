package sandbox

import "fmt"

// ════════════════════════════════════════════════════════════════════
// Token Types
// ════════════════════════════════════════════════════════════════════

// TokenType enumerates all token kinds produced by the lexer.
type TokenType int

const (
	// Special
	TokenEOF     TokenType = iota
	TokenIllegal           // unrecognized character
	TokenNewline           // end of a logical line
	TokenIndent            // indentation level increased
	TokenDedent            // indentation level decreased

	// Literals
	TokenNumber     // 42, 3.14, 1e6
	TokenString     // "hello", 'world'
	TokenFString    // f"rsi={rsi:.2f}" (raw inner text, parts split by the parser)
	TokenIdentifier // close, rsi, result

	// Operators
	TokenPlus       // +
	TokenMinus      // -
	TokenStar       // *
	TokenDoubleStar // **
	TokenSlash      // /
	TokenFloorDiv   // //
	TokenPercent    // %
	TokenAmp        // &
	TokenVBar       // |
	TokenGT         // >
	TokenLT         // <
	TokenGTE        // >=
	TokenLTE        // <=
	TokenEQ         // ==
	TokenNEQ        // !=
	TokenAssign     // =
	TokenPlusEq     // +=
	TokenMinusEq    // -=
	TokenStarEq     // *=
	TokenSlashEq    // /=
	TokenPercentEq  // %=

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenComma     // ,
	TokenColon     // :
	TokenSemicolon // ;
	TokenDot       // .

	// Keywords
	TokenAnd      // and
	TokenOr       // or
	TokenNot      // not
	TokenIf       // if
	TokenElif     // elif
	TokenElse     // else
	TokenWhile    // while
	TokenFor      // for
	TokenIn       // in
	TokenIs       // is
	TokenBreak    // break
	TokenContinue // continue
	TokenPass     // pass
	TokenDef      // def
	TokenReturn   // return
	TokenLambda   // lambda
	TokenImport   // import
	TokenFrom     // from
	TokenAs       // as
	TokenTrue     // True
	TokenFalse    // False
	TokenNone     // None
)

// tokenTypeNames maps token types to human-readable names.
var tokenTypeNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenIllegal:    "ILLEGAL",
	TokenNewline:    "NEWLINE",
	TokenIndent:     "INDENT",
	TokenDedent:     "DEDENT",
	TokenNumber:     "NUMBER",
	TokenString:     "STRING",
	TokenFString:    "FSTRING",
	TokenIdentifier: "IDENT",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenDoubleStar: "**",
	TokenSlash:      "/",
	TokenFloorDiv:   "//",
	TokenPercent:    "%",
	TokenAmp:        "&",
	TokenVBar:       "|",
	TokenGT:         ">",
	TokenLT:         "<",
	TokenGTE:        ">=",
	TokenLTE:        "<=",
	TokenEQ:         "==",
	TokenNEQ:        "!=",
	TokenAssign:     "=",
	TokenPlusEq:     "+=",
	TokenMinusEq:    "-=",
	TokenStarEq:     "*=",
	TokenSlashEq:    "/=",
	TokenPercentEq:  "%=",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenComma:      ",",
	TokenColon:      ":",
	TokenSemicolon:  ";",
	TokenDot:        ".",
	TokenAnd:        "and",
	TokenOr:         "or",
	TokenNot:        "not",
	TokenIf:         "if",
	TokenElif:       "elif",
	TokenElse:       "else",
	TokenWhile:      "while",
	TokenFor:        "for",
	TokenIn:         "in",
	TokenIs:         "is",
	TokenBreak:      "break",
	TokenContinue:   "continue",
	TokenPass:       "pass",
	TokenDef:        "def",
	TokenReturn:     "return",
	TokenLambda:     "lambda",
	TokenImport:     "import",
	TokenFrom:       "from",
	TokenAs:         "as",
	TokenTrue:       "True",
	TokenFalse:      "False",
	TokenNone:       "None",
}

func (t TokenType) String() string {
	if name, ok := tokenTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// keywords maps identifier text to keyword token types.
var keywords = map[string]TokenType{
	"and":      TokenAnd,
	"or":       TokenOr,
	"not":      TokenNot,
	"if":       TokenIf,
	"elif":     TokenElif,
	"else":     TokenElse,
	"while":    TokenWhile,
	"for":      TokenFor,
	"in":       TokenIn,
	"is":       TokenIs,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"pass":     TokenPass,
	"def":      TokenDef,
	"return":   TokenReturn,
	"lambda":   TokenLambda,
	"import":   TokenImport,
	"from":     TokenFrom,
	"as":       TokenAs,
	"True":     TokenTrue,
	"False":    TokenFalse,
	"None":     TokenNone,
}

// ════════════════════════════════════════════════════════════════════
// Token
// ════════════════════════════════════════════════════════════════════

// Token represents a single lexical token from the input.
type Token struct {
	Type     TokenType
	Value    string // literal text
	Position int    // rune offset in source
	Line     int    // 1-based
	Column   int    // 1-based
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d:%d", t.Type, t.Value, t.Line, t.Column)
}
