package token

import "fmt"

// Type identifies the kind of a token produced by the lexer.
type Type int

const (
	EOF Type = iota
	Name
	Int
	Float
	String

	// reserved words
	And
	Break
	Do
	Else
	Elseif
	End
	False
	For
	Function
	Goto
	If
	In
	Local
	Nil
	Not
	Or
	Repeat
	Return
	Then
	True
	Until
	While

	// operators and punctuation
	Plus
	Minus
	Star
	Slash
	DoubleSlash
	Percent
	Caret
	Hash
	Ampersand
	Tilde
	Pipe
	ShiftLeft
	ShiftRight
	Equal
	NotEqual
	LessEqual
	GreaterEqual
	Less
	Greater
	Assign
	LeftParen
	RightParen
	LeftBrace
	RightBrace
	LeftBracket
	RightBracket
	DoubleColon
	Semicolon
	Colon
	Comma
	Dot
	Concat
	Ellipsis
)

// FirstReserved and LastReserved bound the reserved-word token types.
// The runtime stores 1+Type-FirstReserved in the extra byte of the
// interned identifier, so keyword recognition is a byte compare.
const (
	FirstReserved = And
	LastReserved  = While
)

var names = map[Type]string{
	EOF:          "<eof>",
	Name:         "<name>",
	Int:          "<number>",
	Float:        "<number>",
	String:       "<string>",
	And:          "and",
	Break:        "break",
	Do:           "do",
	Else:         "else",
	Elseif:       "elseif",
	End:          "end",
	False:        "false",
	For:          "for",
	Function:     "function",
	Goto:         "goto",
	If:           "if",
	In:           "in",
	Local:        "local",
	Nil:          "nil",
	Not:          "not",
	Or:           "or",
	Repeat:       "repeat",
	Return:       "return",
	Then:         "then",
	True:         "true",
	Until:        "until",
	While:        "while",
	Plus:         "+",
	Minus:        "-",
	Star:         "*",
	Slash:        "/",
	DoubleSlash:  "//",
	Percent:      "%",
	Caret:        "^",
	Hash:         "#",
	Ampersand:    "&",
	Tilde:        "~",
	Pipe:         "|",
	ShiftLeft:    "<<",
	ShiftRight:   ">>",
	Equal:        "==",
	NotEqual:     "~=",
	LessEqual:    "<=",
	GreaterEqual: ">=",
	Less:         "<",
	Greater:      ">",
	Assign:       "=",
	LeftParen:    "(",
	RightParen:   ")",
	LeftBrace:    "{",
	RightBrace:   "}",
	LeftBracket:  "[",
	RightBracket: "]",
	DoubleColon:  "::",
	Semicolon:    ";",
	Colon:        ":",
	Comma:        ",",
	Dot:          ".",
	Concat:       "..",
	Ellipsis:     "...",
}

func (t Type) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("token.Type(%d)", int(t))
}

// Reserved reports whether t is a reserved word.
func (t Type) Reserved() bool {
	return t >= FirstReserved && t <= LastReserved
}

// ReservedWords lists all reserved words in token-type order, starting
// at FirstReserved. The runtime interns these at startup.
func ReservedWords() []string {
	words := make([]string, 0, LastReserved-FirstReserved+1)
	for t := FirstReserved; t <= LastReserved; t++ {
		words = append(words, names[t])
	}
	return words
}
