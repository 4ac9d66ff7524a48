package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func collectTokens(source string) []Token {
	s := newScanner(source)
	var toks []Token
	for {
		tok := s.scanToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return toks
}

func TestScannerPunctuationAndKeywords(t *testing.T) {
	toks := collectTokens(`var x = 1 + 2; // trailing comment
class fun`)
	var types []TokenType
	for _, tok := range toks {
		types = append(types, tok.Type)
	}
	require.Equal(t, []TokenType{
		TokenVar, TokenIdentifier, TokenEqual, TokenNumber, TokenPlus,
		TokenNumber, TokenSemicolon, TokenClass, TokenFun, TokenEOF,
	}, types)
}

func TestScannerStringHasNoEscapeProcessing(t *testing.T) {
	toks := collectTokens(`"hello\nworld"`)
	require.Equal(t, TokenString, toks[0].Type)
	require.Equal(t, `"hello\nworld"`, toks[0].Lexeme)
}

func TestScannerUnterminatedStringErrors(t *testing.T) {
	toks := collectTokens(`"no closing quote`)
	require.Equal(t, TokenError, toks[0].Type)
}

func TestScannerTwoCharOperators(t *testing.T) {
	toks := collectTokens(`!= == <= >= < >`)
	want := []TokenType{
		TokenBangEqual, TokenEqualEqual, TokenLessEqual, TokenGreaterEqual,
		TokenLess, TokenGreater, TokenEOF,
	}
	var got []TokenType
	for _, tok := range toks {
		got = append(got, tok.Type)
	}
	require.Equal(t, want, got)
}

func TestScannerTracksLineNumbers(t *testing.T) {
	toks := collectTokens("var a;\nvar b;\n\nvar c;")
	var lines []int
	for _, tok := range toks {
		if tok.Type == TokenVar {
			lines = append(lines, tok.Line)
		}
	}
	require.Equal(t, []int{1, 2, 4}, lines)
}

func TestScannerHashToken(t *testing.T) {
	toks := collectTokens(`#"x"`)
	require.Equal(t, TokenHash, toks[0].Type)
}
