package lune

import (
	"bufio"
	"fmt"
	"io"

	"github.com/lunelang/lune/internal/token"
)

// internReservedWords interns the reserved words at state startup and
// stamps their code on the interned string's extra byte, so the lexer
// recognizes keywords with a byte compare.
func (l *State) internReservedWords() {
	for i, w := range token.ReservedWords() {
		s := l.internString(w)
		l.fixObject(s)
		s.extra = byte(i + 1)
	}
}

// lexToken is a token with its semantic payload.
type lexToken struct {
	t token.Type
	s *lstring // Name and String payload
	i int64    // Int payload
	f float64  // Float payload
}

const eoz = -1 // end of stream

// lexer is the hand-written scanner. It reads bytes from a buffered
// stream, interning every name and string literal it produces.
type lexer struct {
	l          *State
	r          *bufio.Reader
	current    int // current character; eoz at end of stream
	lineNumber int
	lastLine   int // line of the consumed token
	t              lexToken
	lookahead      lexToken
	lookaheadValid bool
	source         *lstring
	anchor         *table // keeps lexer-created strings alive during the parse
	fs             *funcState
	buf            []byte
}

func newLexer(l *State, r io.Reader, source *lstring, anchor *table) *lexer {
	x := &lexer{
		l:          l,
		r:          bufio.NewReader(r),
		lineNumber: 1,
		lastLine:   1,
		source:     source,
		anchor:     anchor,
	}
	x.lookahead.t = token.EOF
	x.advance()
	return x
}

func (x *lexer) advance() {
	b, err := x.r.ReadByte()
	if err != nil {
		x.current = eoz
		return
	}
	x.current = int(b)
}

func (x *lexer) saveAndAdvance() {
	x.buf = append(x.buf, byte(x.current))
	x.advance()
}

func (x *lexer) save(c byte) {
	x.buf = append(x.buf, c)
}

// newString interns contents and anchors them for the duration of the
// parse.
func (x *lexer) newString(b string) *lstring {
	s := x.l.newString(b)
	x.l.tableSet(x.anchor, vObject(s), vBoolean(true))
	return s
}

func (x *lexer) currentIsNewline() bool {
	return x.current == '\n' || x.current == '\r'
}

// incLine skips a newline sequence ("\n", "\r", "\n\r" or "\r\n").
func (x *lexer) incLine() {
	old := x.current
	x.advance()
	if x.currentIsNewline() && x.current != old {
		x.advance()
	}
	x.lineNumber++
	if x.lineNumber >= maxInt {
		x.syntaxError("chunk has too many lines")
	}
}

func (x *lexer) tokenText(t lexToken) string {
	switch t.t {
	case token.Name, token.String:
		return t.s.bytes
	case token.Int:
		return fmt.Sprintf("%d", t.i)
	case token.Float:
		return numberToString(vFloat(t.f))
	default:
		return t.t.String()
	}
}

func (x *lexer) lexError(msg, near string) {
	src := shortSource(x.source.bytes)
	full := fmt.Sprintf("%s:%d: %s", src, x.lineNumber, msg)
	if near != "" {
		full = fmt.Sprintf("%s near '%s'", full, near)
	}
	x.l.push(vObject(x.l.newString(full)))
	x.l.throw(SyntaxError)
}

func (x *lexer) syntaxError(msg string) {
	near := ""
	if x.t.t != token.EOF || x.current != eoz {
		near = x.tokenText(x.t)
	}
	if near == "" {
		near = "<eof>"
	}
	x.lexError(msg, near)
}

// next consumes the current token.
func (x *lexer) next() {
	x.lastLine = x.lineNumber
	if x.lookaheadValid {
		x.t = x.lookahead
		x.lookaheadValid = false
		return
	}
	x.t = x.scan()
}

// peek looks one token ahead without consuming.
func (x *lexer) peek() token.Type {
	if !x.lookaheadValid {
		x.lookahead = x.scan()
		x.lookaheadValid = true
	}
	return x.lookahead.t
}

func isDigit(c int) bool { return c >= '0' && c <= '9' }
func isHexDigit(c int) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
func isAlpha(c int) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isAlphaNum(c int) bool { return isAlpha(c) || isDigit(c) }
func isSpace(c int) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// checkSep counts the '=' signs of a long-bracket opener/closer.
// Returns the level (>= 0) when the bracket is well formed, -1 when the
// '[' or ']' is a plain token.
func (x *lexer) checkSep() int {
	count := 0
	s := x.current
	x.saveAndAdvance()
	for x.current == '=' {
		x.saveAndAdvance()
		count++
	}
	if x.current == s {
		return count
	}
	return -count - 1
}

// readLongString scans a long-bracket string or comment body at the
// given level; keep selects string (true) or comment (false).
func (x *lexer) readLongString(level int, keep bool) *lstring {
	line := x.lineNumber
	x.saveAndAdvance() // second bracket
	if x.currentIsNewline() {
		x.incLine() // first newline is not part of the contents
	}
	start := len(x.buf)
	for {
		switch x.current {
		case eoz:
			what := "comment"
			if keep {
				what = "string"
			}
			x.lexError(fmt.Sprintf("unfinished long %s (starting at line %d)", what, line), "<eof>")
		case ']':
			levelStart := len(x.buf)
			if x.checkSep() == level {
				x.saveAndAdvance() // closing bracket
				if keep {
					return x.newString(string(x.buf[start:levelStart]))
				}
				return nil
			}
		case '\n', '\r':
			x.save('\n')
			x.incLine()
		default:
			if keep {
				x.saveAndAdvance()
			} else {
				x.advance()
			}
		}
	}
}

func (x *lexer) readHexEscape(digits int) int {
	r := 0
	for i := 0; i < digits; i++ {
		if !isHexDigit(x.current) {
			x.escapeError("hexadecimal digit expected")
		}
		r = r*16 + hexValue(byte(x.current))
		x.advance()
	}
	return r
}

func (x *lexer) escapeError(msg string) {
	x.lexError(msg, string(x.buf))
}

func (x *lexer) readUTF8Escape() {
	x.advance() // skip 'u'
	if x.current != '{' {
		x.escapeError("missing '{' in \\u{xxxx}")
	}
	x.advance()
	if !isHexDigit(x.current) {
		x.escapeError("hexadecimal digit expected")
	}
	r := 0
	for isHexDigit(x.current) {
		r = r*16 + hexValue(byte(x.current))
		if r > 0x10ffff {
			x.escapeError("UTF-8 value too large")
		}
		x.advance()
	}
	if x.current != '}' {
		x.escapeError("missing '}' in \\u{xxxx}")
	}
	x.advance()
	x.buf = appendUTF8(x.buf, r)
}

// appendUTF8 encodes a code point the way the escape expects, allowing
// the full original range.
func appendUTF8(buf []byte, r int) []byte {
	switch {
	case r < 0x80:
		return append(buf, byte(r))
	case r < 0x800:
		return append(buf, byte(0xc0|r>>6), byte(0x80|r&0x3f))
	case r < 0x10000:
		return append(buf, byte(0xe0|r>>12), byte(0x80|r>>6&0x3f), byte(0x80|r&0x3f))
	default:
		return append(buf, byte(0xf0|r>>18), byte(0x80|r>>12&0x3f), byte(0x80|r>>6&0x3f), byte(0x80|r&0x3f))
	}
}

func (x *lexer) readString(quote int) lexToken {
	x.saveAndAdvance()
	for x.current != quote {
		switch x.current {
		case eoz:
			x.lexError("unfinished string", "<eof>")
		case '\n', '\r':
			x.lexError("unfinished string", string(x.buf))
		case '\\':
			x.advance() // skip the backslash
			switch c := x.current; c {
			case 'a':
				x.save('\a')
				x.advance()
			case 'b':
				x.save('\b')
				x.advance()
			case 'f':
				x.save('\f')
				x.advance()
			case 'n':
				x.save('\n')
				x.advance()
			case 'r':
				x.save('\r')
				x.advance()
			case 't':
				x.save('\t')
				x.advance()
			case 'v':
				x.save('\v')
				x.advance()
			case 'x':
				x.advance()
				x.save(byte(x.readHexEscape(2)))
			case 'u':
				x.readUTF8Escape()
			case '\n', '\r':
				x.incLine()
				x.save('\n')
			case '\\', '"', '\'':
				x.save(byte(c))
				x.advance()
			case eoz:
				// the eoz is reported by the loop
			case 'z': // skip following whitespace
				x.advance()
				for isSpace(x.current) {
					if x.currentIsNewline() {
						x.incLine()
					} else {
						x.advance()
					}
				}
			default:
				if !isDigit(c) {
					x.escapeError("invalid escape sequence")
				}
				r := 0
				for i := 0; i < 3 && isDigit(x.current); i++ {
					r = 10*r + (x.current - '0')
					x.advance()
				}
				if r > 0xff {
					x.escapeError("decimal escape too large")
				}
				x.save(byte(r))
			}
		default:
			x.saveAndAdvance()
		}
	}
	x.saveAndAdvance() // closing quote
	return lexToken{t: token.String, s: x.newString(string(x.buf[1 : len(x.buf)-1]))}
}

// readNumeral scans an integer or float numeral; the collected text is
// converted with the same routine the runtime uses for string-to-number
// coercion.
func (x *lexer) readNumeral() lexToken {
	first := x.current
	x.saveAndAdvance()
	expo := "eE"
	if first == '0' && (x.current == 'x' || x.current == 'X') {
		expo = "pP"
		x.saveAndAdvance()
	}
	for {
		if x.current != eoz && indexAny(expo, string(rune(x.current))) >= 0 {
			x.saveAndAdvance()
			if x.current == '-' || x.current == '+' {
				x.saveAndAdvance()
			}
			continue
		}
		if isHexDigit(x.current) || x.current == '.' {
			x.saveAndAdvance()
			continue
		}
		break
	}
	v, ok := str2num(string(x.buf))
	if !ok {
		x.lexError("malformed number", string(x.buf))
	}
	if v.isInteger() {
		return lexToken{t: token.Int, i: v.n}
	}
	return lexToken{t: token.Float, f: v.float()}
}

// scan produces the next token.
func (x *lexer) scan() lexToken {
	x.buf = x.buf[:0]
	for {
		switch c := x.current; c {
		case '\n', '\r':
			x.incLine()
		case ' ', '\t', '\v', '\f':
			x.advance()
		case '-':
			x.advance()
			if x.current != '-' {
				return lexToken{t: token.Minus}
			}
			// comment
			x.advance()
			if x.current == '[' {
				if level := x.checkSep(); level >= 0 {
					x.readLongString(level, false)
					x.buf = x.buf[:0]
					continue
				}
				x.buf = x.buf[:0]
			}
			for !x.currentIsNewline() && x.current != eoz {
				x.advance()
			}
		case '[':
			if level := x.checkSep(); level >= 0 {
				return lexToken{t: token.String, s: x.readLongString(level, true)}
			} else if level == -1 {
				return lexToken{t: token.LeftBracket}
			} else {
				x.lexError("invalid long string delimiter", string(x.buf))
			}
		case '=':
			x.advance()
			if x.current == '=' {
				x.advance()
				return lexToken{t: token.Equal}
			}
			return lexToken{t: token.Assign}
		case '<':
			x.advance()
			switch x.current {
			case '=':
				x.advance()
				return lexToken{t: token.LessEqual}
			case '<':
				x.advance()
				return lexToken{t: token.ShiftLeft}
			}
			return lexToken{t: token.Less}
		case '>':
			x.advance()
			switch x.current {
			case '=':
				x.advance()
				return lexToken{t: token.GreaterEqual}
			case '>':
				x.advance()
				return lexToken{t: token.ShiftRight}
			}
			return lexToken{t: token.Greater}
		case '/':
			x.advance()
			if x.current == '/' {
				x.advance()
				return lexToken{t: token.DoubleSlash}
			}
			return lexToken{t: token.Slash}
		case '~':
			x.advance()
			if x.current == '=' {
				x.advance()
				return lexToken{t: token.NotEqual}
			}
			return lexToken{t: token.Tilde}
		case ':':
			x.advance()
			if x.current == ':' {
				x.advance()
				return lexToken{t: token.DoubleColon}
			}
			return lexToken{t: token.Colon}
		case '"', '\'':
			return x.readString(c)
		case '.':
			x.saveAndAdvance()
			if x.current == '.' {
				x.saveAndAdvance()
				if x.current == '.' {
					x.advance()
					return lexToken{t: token.Ellipsis}
				}
				return lexToken{t: token.Concat}
			}
			if !isDigit(x.current) {
				return lexToken{t: token.Dot}
			}
			return x.readNumeral()
		case eoz:
			return lexToken{t: token.EOF}
		case '+':
			x.advance()
			return lexToken{t: token.Plus}
		case '*':
			x.advance()
			return lexToken{t: token.Star}
		case '%':
			x.advance()
			return lexToken{t: token.Percent}
		case '^':
			x.advance()
			return lexToken{t: token.Caret}
		case '#':
			x.advance()
			return lexToken{t: token.Hash}
		case '&':
			x.advance()
			return lexToken{t: token.Ampersand}
		case '|':
			x.advance()
			return lexToken{t: token.Pipe}
		case '(':
			x.advance()
			return lexToken{t: token.LeftParen}
		case ')':
			x.advance()
			return lexToken{t: token.RightParen}
		case '{':
			x.advance()
			return lexToken{t: token.LeftBrace}
		case '}':
			x.advance()
			return lexToken{t: token.RightBrace}
		case ']':
			x.advance()
			return lexToken{t: token.RightBracket}
		case ';':
			x.advance()
			return lexToken{t: token.Semicolon}
		case ',':
			x.advance()
			return lexToken{t: token.Comma}
		default:
			if isDigit(c) {
				return x.readNumeral()
			}
			if isAlpha(c) {
				for isAlphaNum(x.current) {
					x.saveAndAdvance()
				}
				s := x.newString(string(x.buf))
				if s.extra > 0 {
					return lexToken{t: token.FirstReserved + token.Type(s.extra) - 1, s: s}
				}
				return lexToken{t: token.Name, s: s}
			}
			x.lexError("unexpected symbol", string(rune(c)))
		}
	}
}
