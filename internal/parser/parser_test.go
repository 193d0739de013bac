package parser

import "testing"

func parse(t *testing.T, source string) Node {
	t.Helper()
	ast, err := Parse(source, "test.ark")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return ast
}

func TestProgramWrapsInBegin(t *testing.T) {
	ast := parse(t, `(let x 1) (let y 2)`)

	if ast.Type != NodeList {
		t.Fatalf("expected a list root, got %v", ast.Type)
	}
	if ast.Children[0].Type != NodeKeyword || ast.Children[0].Keyword != KeywordBegin {
		t.Fatal("expected the root to start with begin")
	}
	if len(ast.Children) != 3 {
		t.Fatalf("expected begin plus two forms, got %d children", len(ast.Children))
	}
}

func TestKeywordRecognition(t *testing.T) {
	ast := parse(t, `(if true 1 2)`)

	form := ast.Children[1]
	if form.Children[0].Type != NodeKeyword || form.Children[0].Keyword != KeywordIf {
		t.Errorf("expected an if keyword, got %v", form.Children[0])
	}
	// `true` is not a keyword, it stays a symbol
	if form.Children[1].Type != NodeSymbol || form.Children[1].Str != "true" {
		t.Errorf("expected the symbol true, got %v", form.Children[1])
	}
}

func TestAtoms(t *testing.T) {
	ast := parse(t, `(f 1 "two" &three)`)

	form := ast.Children[1]
	types := []NodeType{NodeSymbol, NodeNumber, NodeString, NodeCapture}
	if len(form.Children) != len(types) {
		t.Fatalf("expected %d children, got %d", len(types), len(form.Children))
	}
	for i, expected := range types {
		if form.Children[i].Type != expected {
			t.Errorf("child %d: expected type %v, got %v", i, expected, form.Children[i].Type)
		}
	}
	if form.Children[1].Num != 1 || form.Children[2].Str != "two" || form.Children[3].Str != "three" {
		t.Error("atom payloads did not survive parsing")
	}
}

func TestDottedNameSplitsIntoFields(t *testing.T) {
	ast := parse(t, `(obj.field arg)`)

	form := ast.Children[1]
	if len(form.Children) != 3 {
		t.Fatalf("expected symbol + field + arg, got %d children", len(form.Children))
	}
	if form.Children[0].Type != NodeSymbol || form.Children[0].Str != "obj" {
		t.Errorf("expected the symbol obj, got %v", form.Children[0])
	}
	if form.Children[1].Type != NodeGetField || form.Children[1].Str != "field" {
		t.Errorf("expected a field access, got %v", form.Children[1])
	}
}

func TestStandaloneDottedName(t *testing.T) {
	ast := parse(t, `counter.value`)

	// splices directly into the begin block
	if len(ast.Children) != 3 {
		t.Fatalf("expected begin + symbol + field, got %d children", len(ast.Children))
	}
	if ast.Children[1].Str != "counter" || ast.Children[2].Type != NodeGetField {
		t.Error("dotted name did not split")
	}
}

func TestNestedLists(t *testing.T) {
	ast := parse(t, `(let f (fun (n) (+ n 1)))`)

	letForm := ast.Children[1]
	funForm := letForm.Children[2]
	if funForm.Children[0].Keyword != KeywordFun {
		t.Fatal("expected a fun form")
	}
	params := funForm.Children[1]
	if params.Type != NodeList || len(params.Children) != 1 || params.Children[0].Str != "n" {
		t.Errorf("unexpected parameter list: %v", params)
	}
}

func TestSourceLocations(t *testing.T) {
	ast := parse(t, "(let x 1)\n(let y 2)")

	second := ast.Children[2]
	if second.Line != 2 {
		t.Errorf("expected the second form on line 2, got %d", second.Line)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		`(let x`,
		`)`,
		`(a .b)`,
	}
	for _, source := range cases {
		if _, err := Parse(source, "test.ark"); err == nil {
			t.Errorf("expected %q to fail parsing", source)
		}
	}
}
