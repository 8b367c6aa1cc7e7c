// Package scanner tokenizes Lox source for the compiler to consume. Tokens
// reference the source buffer directly, so the buffer must outlive the
// compilation.
package scanner

import "github.com/mna/lotus/lang/token"

// Scanner tokenizes a source buffer, producing one token per Scan call. The
// zero value is not usable, call Init first.
type Scanner struct {
	src []byte

	start int // start offset of the token being scanned
	off   int // current reading offset
	line  int // 1-based line of the current position
}

// Init initializes the scanner to tokenize src.
func (s *Scanner) Init(src []byte) {
	s.src = src
	s.start = 0
	s.off = 0
	s.line = 1
}

// Scan returns the next token. Once EOF is reached, every subsequent call
// returns an EOF token. Scan errors surface as ILLEGAL tokens whose lexeme
// is the error message.
func (s *Scanner) Scan() token.Token {
	s.skipBlanks()
	s.start = s.off

	if s.atEnd() {
		return s.make(token.EOF)
	}

	c := s.advance()
	switch {
	case isAlpha(c):
		return s.ident()
	case isDigit(c):
		return s.number()
	}

	switch c {
	case '(':
		return s.make(token.LPAREN)
	case ')':
		return s.make(token.RPAREN)
	case '{':
		return s.make(token.LBRACE)
	case '}':
		return s.make(token.RBRACE)
	case ',':
		return s.make(token.COMMA)
	case '.':
		return s.make(token.DOT)
	case '-':
		return s.make(token.MINUS)
	case '+':
		return s.make(token.PLUS)
	case ';':
		return s.make(token.SEMI)
	case '/':
		return s.make(token.SLASH)
	case '*':
		return s.make(token.STAR)
	case '!':
		if s.match('=') {
			return s.make(token.NEQ)
		}
		return s.make(token.BANG)
	case '=':
		if s.match('=') {
			return s.make(token.EQL)
		}
		return s.make(token.EQ)
	case '<':
		if s.match('=') {
			return s.make(token.LE)
		}
		return s.make(token.LT)
	case '>':
		if s.match('=') {
			return s.make(token.GE)
		}
		return s.make(token.GT)
	case '"':
		return s.str()
	}
	return s.errorToken("Unexpected character.")
}

func (s *Scanner) atEnd() bool { return s.off >= len(s.src) }

func (s *Scanner) advance() byte {
	c := s.src[s.off]
	s.off++
	return c
}

func (s *Scanner) peek() byte {
	if s.atEnd() {
		return 0
	}
	return s.src[s.off]
}

func (s *Scanner) peekNext() byte {
	if s.off+1 >= len(s.src) {
		return 0
	}
	return s.src[s.off+1]
}

func (s *Scanner) match(c byte) bool {
	if s.atEnd() || s.src[s.off] != c {
		return false
	}
	s.off++
	return true
}

// skipBlanks consumes whitespace and line comments.
func (s *Scanner) skipBlanks() {
	for {
		switch s.peek() {
		case ' ', '\r', '\t':
			s.off++
		case '\n':
			s.line++
			s.off++
		case '/':
			if s.peekNext() != '/' {
				return
			}
			for !s.atEnd() && s.peek() != '\n' {
				s.off++
			}
		default:
			return
		}
	}
}

func (s *Scanner) ident() token.Token {
	for isAlpha(s.peek()) || isDigit(s.peek()) {
		s.off++
	}
	return s.make(token.LookupKw(string(s.src[s.start:s.off])))
}

func (s *Scanner) number() token.Token {
	for isDigit(s.peek()) {
		s.off++
	}
	// fractional part requires a digit after the dot
	if s.peek() == '.' && isDigit(s.peekNext()) {
		s.off++
		for isDigit(s.peek()) {
			s.off++
		}
	}
	return s.make(token.NUMBER)
}

func (s *Scanner) str() token.Token {
	for !s.atEnd() && s.peek() != '"' {
		if s.peek() == '\n' {
			s.line++
		}
		s.off++
	}
	if s.atEnd() {
		return s.errorToken("Unterminated string.")
	}
	s.off++ // closing quote
	return s.make(token.STRING)
}

func (s *Scanner) make(k token.Kind) token.Token {
	return token.Token{Kind: k, Lexeme: s.src[s.start:s.off], Line: s.line}
}

func (s *Scanner) errorToken(msg string) token.Token {
	return token.Token{Kind: token.ILLEGAL, Lexeme: []byte(msg), Line: s.line}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}
