package parser

import (
	"strings"

	"github.com/Kannupriyasingh/Ark/internal/errors"
	"github.com/Kannupriyasingh/Ark/internal/lexer"
)

// Parser turns a token stream into an AST. The whole program becomes a single
// (begin ...) list so the compiler always receives one root node.
type Parser struct {
	tokens  []lexer.Token
	current int
	file    string
}

func NewParser(tokens []lexer.Token, file string) *Parser {
	return &Parser{tokens: tokens, file: file}
}

// Parse reads a source string all the way to an AST.
func Parse(source, file string) (Node, error) {
	tokens, err := lexer.NewScanner(source, file).ScanTokens()
	if err != nil {
		return Node{}, err
	}
	return NewParser(tokens, file).Program()
}

// Program parses every top level form and wraps them in a begin block.
func (p *Parser) Program() (Node, error) {
	root := Node{
		Type: NodeList,
		File: p.file,
		Line: 1, Column: 1,
		Children: []Node{{Type: NodeKeyword, Keyword: KeywordBegin, File: p.file, Line: 1, Column: 1}},
	}
	for !p.check(lexer.TokenEOF) {
		nodes, err := p.form()
		if err != nil {
			return Node{}, err
		}
		root.Children = append(root.Children, nodes...)
	}
	return root, nil
}

// form parses one expression. An atom like `closure.field` expands to several
// sibling nodes (the symbol plus one GetField per dot), hence the slice.
func (p *Parser) form() ([]Node, error) {
	tok := p.advance()
	switch tok.Type {
	case lexer.TokenLParen:
		list := Node{Type: NodeList, File: p.file, Line: tok.Line, Column: tok.Column}
		for !p.check(lexer.TokenRParen) {
			if p.check(lexer.TokenEOF) {
				return nil, errors.NewSyntaxError("missing closing parenthesis", p.file, tok.Line, tok.Column)
			}
			children, err := p.form()
			if err != nil {
				return nil, err
			}
			list.Children = append(list.Children, children...)
		}
		p.advance() // the ')'
		return []Node{list}, nil

	case lexer.TokenRParen:
		return nil, errors.NewSyntaxError("unexpected ')'", p.file, tok.Line, tok.Column)

	case lexer.TokenNumber:
		return []Node{p.atom(NodeNumber, tok)}, nil

	case lexer.TokenString:
		return []Node{p.atom(NodeString, tok)}, nil

	case lexer.TokenCapture:
		return []Node{p.atom(NodeCapture, tok)}, nil

	case lexer.TokenIdent:
		return p.identifier(tok)

	default:
		return nil, errors.NewSyntaxError("unexpected end of input", p.file, tok.Line, tok.Column)
	}
}

// identifier resolves keywords and splits dotted names into a symbol followed
// by GetField nodes.
func (p *Parser) identifier(tok lexer.Token) ([]Node, error) {
	if kw, ok := Keywords[tok.Lexeme]; ok {
		n := p.atom(NodeKeyword, tok)
		n.Keyword = kw
		return []Node{n}, nil
	}

	if !strings.Contains(tok.Lexeme, ".") {
		return []Node{p.atom(NodeSymbol, tok)}, nil
	}

	parts := strings.Split(tok.Lexeme, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.NewSyntaxError("malformed field access "+tok.Lexeme, p.file, tok.Line, tok.Column)
		}
	}
	nodes := make([]Node, 0, len(parts))
	base := p.atom(NodeSymbol, tok)
	base.Str = parts[0]
	nodes = append(nodes, base)
	for _, field := range parts[1:] {
		f := p.atom(NodeGetField, tok)
		f.Str = field
		nodes = append(nodes, f)
	}
	return nodes, nil
}

func (p *Parser) atom(t NodeType, tok lexer.Token) Node {
	return Node{
		Type:   t,
		Str:    tok.Lexeme,
		Num:    tok.Number,
		File:   p.file,
		Line:   tok.Line,
		Column: tok.Column,
	}
}

func (p *Parser) advance() lexer.Token {
	tok := p.tokens[p.current]
	if tok.Type != lexer.TokenEOF {
		p.current++
	}
	return tok
}

func (p *Parser) check(t lexer.TokenType) bool {
	return p.tokens[p.current].Type == t
}
