package sandbox

import (
	"fmt"
	"strings"
)

type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError
	TokenIdent
	TokenQuotedIdent
	TokenString
	TokenNumber
	TokenPlaceholder
	TokenOperator
	TokenComment
	TokenLParen
	TokenRParen
	TokenComma
	TokenDot
	TokenSemicolon
	TokenPunct
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return "ERROR"
	case TokenIdent:
		return "IDENT"
	case TokenQuotedIdent:
		return "QUOTED_IDENT"
	case TokenString:
		return "STRING"
	case TokenNumber:
		return "NUMBER"
	case TokenPlaceholder:
		return "PLACEHOLDER"
	case TokenOperator:
		return "OPERATOR"
	case TokenComment:
		return "COMMENT"
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	case TokenComma:
		return ","
	case TokenDot:
		return "."
	case TokenSemicolon:
		return ";"
	case TokenPunct:
		return "PUNCT"
	default:
		return "UNKNOWN"
	}
}

// Token is one lexical unit. For strings and quoted identifiers Literal holds
// the unescaped content; for everything else it is the raw source text.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d}", t.Type, t.Literal, t.Pos)
}

// Upper returns the keyword form of an identifier token.
func (t Token) Upper() string {
	return strings.ToUpper(t.Literal)
}

// Lexer splits PostgreSQL-flavoured SQL into tokens. It only needs to be
// precise about where literals, quoted identifiers and comments start and end;
// everything outside them is classified coarsely.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) skipWhitespace() {
	for !l.atEOF() && isSpace(l.ch) {
		l.readChar()
	}
}

func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	start := l.pos
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: start}
	}

	switch {
	case l.ch == '-' && l.peekChar() == '-':
		return l.readLineComment()
	case l.ch == '/' && l.peekChar() == '*':
		return l.readBlockComment()
	case l.ch == '\'':
		return l.readQuoted('\'', TokenString, false)
	case l.ch == '"':
		return l.readQuoted('"', TokenQuotedIdent, false)
	case l.ch == '$':
		return l.readDollar()
	case l.ch == '?':
		l.readChar()
		return Token{Type: TokenPlaceholder, Literal: "?", Pos: start}
	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		return l.readNumber()
	case isIdentStart(l.ch):
		return l.readIdentifier()
	case isOperatorChar(l.ch):
		return l.readOperator()
	}

	var typ TokenType
	switch l.ch {
	case '(':
		typ = TokenLParen
	case ')':
		typ = TokenRParen
	case ',':
		typ = TokenComma
	case '.':
		typ = TokenDot
	case ';':
		typ = TokenSemicolon
	case '[', ']', ':':
		typ = TokenPunct
	default:
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character %q", l.input[start]), Pos: start}
	}
	literal := string(l.ch)
	l.readChar()
	return Token{Type: typ, Literal: literal, Pos: start}
}

// Tokenize returns all tokens up to and including EOF, stopping early at the
// first error token.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}

func (l *Lexer) readLineComment() Token {
	start := l.pos
	for !l.atEOF() && l.ch != '\n' {
		l.readChar()
	}
	return Token{Type: TokenComment, Literal: l.input[start:l.pos], Pos: start}
}

// readBlockComment honours nesting the way PostgreSQL does.
func (l *Lexer) readBlockComment() Token {
	start := l.pos
	depth := 0
	for !l.atEOF() {
		switch {
		case l.ch == '/' && l.peekChar() == '*':
			depth++
			l.readChar()
		case l.ch == '*' && l.peekChar() == '/':
			depth--
			l.readChar()
			if depth == 0 {
				l.readChar()
				return Token{Type: TokenComment, Literal: l.input[start:l.pos], Pos: start}
			}
		}
		l.readChar()
	}
	return Token{Type: TokenError, Literal: "unterminated block comment", Pos: start}
}

func (l *Lexer) readQuoted(quote byte, typ TokenType, backslashEscapes bool) Token {
	start := l.pos
	l.readChar()
	var b strings.Builder
	for !l.atEOF() {
		switch {
		case backslashEscapes && l.ch == '\\':
			l.readChar()
			if l.atEOF() {
				continue
			}
			b.WriteByte(l.ch)
			l.readChar()
			continue
		case l.ch == quote && l.peekChar() == quote:
			b.WriteByte(quote)
			l.readChar()
			l.readChar()
			continue
		case l.ch == quote:
			l.readChar()
			return Token{Type: typ, Literal: b.String(), Pos: start}
		}
		b.WriteByte(l.ch)
		l.readChar()
	}
	if typ == TokenQuotedIdent {
		return Token{Type: TokenError, Literal: "unterminated quoted identifier", Pos: start}
	}
	return Token{Type: TokenError, Literal: "unterminated string", Pos: start}
}

// readDollar handles both positional placeholders ($1) and dollar-quoted
// strings ($$...$$, $tag$...$tag$).
func (l *Lexer) readDollar() Token {
	start := l.pos
	if isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) && !l.atEOF() {
			l.readChar()
		}
		return Token{Type: TokenPlaceholder, Literal: l.input[start:l.pos], Pos: start}
	}

	l.readChar()
	for !l.atEOF() && l.ch != '$' && (isIdentStart(l.ch) || isDigit(l.ch)) {
		l.readChar()
	}
	if l.atEOF() || l.ch != '$' {
		return Token{Type: TokenError, Literal: "invalid dollar-quote tag", Pos: start}
	}
	l.readChar()
	tag := l.input[start:l.pos]

	end := strings.Index(l.input[l.pos:], tag)
	if end < 0 {
		return Token{Type: TokenError, Literal: "unterminated dollar-quoted string", Pos: start}
	}
	body := l.input[l.pos : l.pos+end]
	for i := 0; i < end+len(tag); i++ {
		l.readChar()
	}
	return Token{Type: TokenString, Literal: body, Pos: start}
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	seenDot := false
	for !l.atEOF() {
		switch {
		case isDigit(l.ch):
		case l.ch == '.' && !seenDot && l.peekChar() != '.':
			seenDot = true
		case (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-'):
			l.readChar()
		default:
			return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start}
		}
		l.readChar()
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start}
}

func (l *Lexer) readIdentifier() Token {
	start := l.pos
	for !l.atEOF() && (isIdentStart(l.ch) || isDigit(l.ch) || l.ch == '$') {
		l.readChar()
	}
	literal := l.input[start:l.pos]

	// E'...' escape strings; other one-letter prefixes (N, B, X, U&) keep
	// standard quoting rules.
	if l.ch == '\'' && len(literal) == 1 {
		tok := l.readQuoted('\'', TokenString, literal == "e" || literal == "E")
		tok.Pos = start
		return tok
	}
	return Token{Type: TokenIdent, Literal: literal, Pos: start}
}

func (l *Lexer) readOperator() Token {
	start := l.pos
	for !l.atEOF() && isOperatorChar(l.ch) {
		if (l.ch == '-' && l.peekChar() == '-') || (l.ch == '/' && l.peekChar() == '*') {
			if l.pos > start {
				break
			}
		}
		l.readChar()
	}
	return Token{Type: TokenOperator, Literal: l.input[start:l.pos], Pos: start}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// isIdentStart accepts ASCII letters, underscore and any non-ASCII byte so
// UTF-8 identifiers stay in one token.
func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch >= 0x80
}

func isOperatorChar(ch byte) bool {
	return strings.IndexByte("+-*/<>=~!@#%^&|", ch) >= 0
}
