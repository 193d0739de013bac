package lexer

import "testing"

func scan(t *testing.T, source string) []Token {
	t.Helper()
	tokens, err := NewScanner(source, "test.ark").ScanTokens()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	return tokens
}

func TestScanBasicForm(t *testing.T) {
	tokens := scan(t, `(let x 6)`)

	expected := []TokenType{TokenLParen, TokenIdent, TokenIdent, TokenNumber, TokenRParen, TokenEOF}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	for i, tt := range expected {
		if tokens[i].Type != tt {
			t.Errorf("token %d: expected %s, got %s", i, tt, tokens[i].Type)
		}
	}
	if tokens[3].Number != 6 {
		t.Errorf("expected number 6, got %v", tokens[3].Number)
	}
}

func TestScanNumbers(t *testing.T) {
	tests := []struct {
		source   string
		expected float64
	}{
		{"42", 42},
		{"3.25", 3.25},
		{"-7", -7},
		{"-0.5", -0.5},
	}
	for _, tt := range tests {
		tokens := scan(t, tt.source)
		if tokens[0].Type != TokenNumber || tokens[0].Number != tt.expected {
			t.Errorf("%q: expected number %v, got %v (%s)", tt.source, tt.expected, tokens[0].Number, tokens[0].Type)
		}
	}

	// a bare minus is the subtraction operator, not a number
	tokens := scan(t, "(- a b)")
	if tokens[1].Type != TokenIdent || tokens[1].Lexeme != "-" {
		t.Errorf("expected '-' to scan as an identifier, got %s", tokens[1])
	}
}

func TestScanStringsAndEscapes(t *testing.T) {
	tokens := scan(t, `"a\nb\"c"`)
	if tokens[0].Type != TokenString || tokens[0].Lexeme != "a\nb\"c" {
		t.Errorf("unexpected string token: %q", tokens[0].Lexeme)
	}

	if _, err := NewScanner(`"unterminated`, "test.ark").ScanTokens(); err == nil {
		t.Error("expected an error for an unterminated string")
	}
}

func TestScanCaptureAndComments(t *testing.T) {
	tokens := scan(t, "(fun (&x) x) # trailing comment\n")

	var captures []Token
	for _, tok := range tokens {
		if tok.Type == TokenCapture {
			captures = append(captures, tok)
		}
	}
	if len(captures) != 1 || captures[0].Lexeme != "x" {
		t.Fatalf("expected one capture token for x, got %v", captures)
	}
}

func TestScanTracksPositions(t *testing.T) {
	tokens := scan(t, "(let x 1)\n(let y 2)")

	last := tokens[len(tokens)-2] // the closing paren of the second form
	if last.Line != 2 {
		t.Errorf("expected line 2, got %d", last.Line)
	}
	if tokens[0].Line != 1 || tokens[0].Column != 1 {
		t.Errorf("expected 1:1 for the first token, got %d:%d", tokens[0].Line, tokens[0].Column)
	}
}

func TestScanDottedIdentifier(t *testing.T) {
	tokens := scan(t, "obj.field.sub")
	if tokens[0].Type != TokenIdent || tokens[0].Lexeme != "obj.field.sub" {
		t.Errorf("expected a single dotted identifier, got %s", tokens[0])
	}
}
