package lune

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/lunelang/lune/internal/token"
)

// scanAll runs the lexer over source and collects the token kinds with
// their textual payloads.
func scanAll(t *testing.T, source string) []scannedToken {
	t.Helper()
	l := New()
	anchor := newTable(l, 0, 0)
	l.push(vObject(anchor))
	defer func() { l.top-- }()
	x := newLexer(l, strings.NewReader(source), l.newString("test"), anchor)
	var out []scannedToken
	for {
		x.next()
		st := scannedToken{Type: x.t.t, Line: x.lineNumber}
		switch x.t.t {
		case token.Name, token.String:
			st.Text = x.t.s.bytes
		case token.Int:
			st.Int = x.t.i
		case token.Float:
			st.Float = x.t.f
		}
		out = append(out, st)
		if x.t.t == token.EOF {
			return out
		}
	}
}

type scannedToken struct {
	Type  token.Type
	Text  string
	Int   int64
	Float float64
	Line  int
}

func TestLexerTokens(t *testing.T) {
	got := scanAll(t, `local x = 10 + 0x1f`)
	want := []scannedToken{
		{Type: token.Local, Line: 1},
		{Type: token.Name, Text: "x", Line: 1},
		{Type: token.Assign, Line: 1},
		{Type: token.Int, Int: 10, Line: 1},
		{Type: token.Plus, Line: 1},
		{Type: token.Int, Int: 31, Line: 1},
		{Type: token.EOF, Line: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("token mismatch (-want +got):\n%s", diff)
	}
}

func TestLexerOperators(t *testing.T) {
	got := scanAll(t, `== ~= <= >= < > = ( ) { } [ ] ; : :: , . .. ... // / << >> & | ~ # ^ %`)
	var kinds []token.Type
	for _, st := range got {
		kinds = append(kinds, st.Type)
	}
	want := []token.Type{
		token.Equal, token.NotEqual, token.LessEqual, token.GreaterEqual,
		token.Less, token.Greater, token.Assign,
		token.LeftParen, token.RightParen, token.LeftBrace, token.RightBrace,
		token.LeftBracket, token.RightBracket,
		token.Semicolon, token.Colon, token.DoubleColon, token.Comma,
		token.Dot, token.Concat, token.Ellipsis,
		token.DoubleSlash, token.Slash, token.ShiftLeft, token.ShiftRight,
		token.Ampersand, token.Pipe, token.Tilde, token.Hash, token.Caret,
		token.Percent,
		token.EOF,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("operator mismatch (-want +got):\n%s", diff)
	}
}

func TestLexerNumbers(t *testing.T) {
	got := scanAll(t, `3 3.0 3.1416 314.16e-2 0.31416E1 0xff 0x0.1E 0xA23p-4 0x1p4`)
	require.Equal(t, token.Int, got[0].Type)
	require.Equal(t, int64(3), got[0].Int)
	require.Equal(t, token.Float, got[1].Type)
	require.Equal(t, 3.0, got[1].Float)
	require.Equal(t, 3.1416, got[2].Float)
	require.InDelta(t, 3.1416, got[3].Float, 1e-12)
	require.InDelta(t, 3.1416, got[4].Float, 1e-12)
	require.Equal(t, int64(255), got[5].Int)
	require.Equal(t, token.Float, got[6].Type)
	require.Equal(t, 16.0, got[8].Float)
}

func TestLexerStrings(t *testing.T) {
	got := scanAll(t, "\"ab\\ncd\" 'x' [[raw \" string]] [==[deep ]] still]==]")
	require.Equal(t, "ab\ncd", got[0].Text)
	require.Equal(t, "x", got[1].Text)
	require.Equal(t, "raw \" string", got[2].Text)
	require.Equal(t, "deep ]] still", got[3].Text)
}

func TestLexerLongStringSkipsFirstNewline(t *testing.T) {
	got := scanAll(t, "[[\nline]]")
	require.Equal(t, "line", got[0].Text)
}

func TestLexerComments(t *testing.T) {
	got := scanAll(t, "a -- short comment\nb --[[ long\ncomment ]] c")
	var names []string
	for _, st := range got {
		if st.Type == token.Name {
			names = append(names, st.Text)
		}
	}
	require.Equal(t, []string{"a", "b", "c"}, names)
}

func TestLexerLineTracking(t *testing.T) {
	got := scanAll(t, "a\nb\r\nc\rd")
	require.Equal(t, 1, got[0].Line)
	require.Equal(t, 2, got[1].Line)
	require.Equal(t, 3, got[2].Line)
	require.Equal(t, 4, got[3].Line)
}

func TestLexerReservedWordFlag(t *testing.T) {
	l := New()
	s := l.internString("while")
	require.NotZero(t, s.extra)
	require.Equal(t, token.While, token.FirstReserved+token.Type(s.extra)-1)

	notReserved := l.internString("whilee")
	require.Zero(t, notReserved.extra)
}

func TestLexerMalformedNumber(t *testing.T) {
	l := New()
	_, err := l.EvalString("return 0x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "malformed number")
}
