// internal/compiler/emitter.go
package compiler

import (
	"fmt"

	"github.com/Kannupriyasingh/Ark/internal/bytecode"
	"github.com/Kannupriyasingh/Ark/internal/parser"
	"github.com/Kannupriyasingh/Ark/internal/vm"
)

// compileNode lowers one AST node onto the given page.
func (c *Compiler) compileNode(node parser.Node, ref pageRef) {
	switch node.Type {
	case parser.NodeSymbol:
		c.compileSymbol(node, ref)

	case parser.NodeGetField:
		// a field name is never a builtin or operator, register it as-is
		id := c.addSymbol(node)
		c.page(ref).WriteOp(bytecode.OpGetField)
		c.page(ref).WriteU16(id)

	case parser.NodeString:
		id := c.addValue(bytecode.StringElem(node.Str), node)
		c.page(ref).WriteOp(bytecode.OpLoadConst)
		c.page(ref).WriteU16(id)

	case parser.NodeNumber:
		id := c.addValue(bytecode.NumberElem(node.Num), node)
		c.page(ref).WriteOp(bytecode.OpLoadConst)
		c.page(ref).WriteU16(id)

	case parser.NodeList:
		if len(node.Children) == 0 {
			// an empty block evaluates to nil
			id, _ := vm.IsBuiltin("nil")
			c.page(ref).WriteOp(bytecode.OpBuiltin)
			c.page(ref).WriteU16(id)
			return
		}
		head := node.Children[0]
		if head.Type == parser.NodeSymbol {
			if inst, ok := bytecode.SpecificOps[head.Str]; ok {
				c.compileSpecific(inst, head, node, ref)
				return
			}
		}
		if head.Type == parser.NodeKeyword {
			c.compileKeyword(head.Keyword, node, ref)
			return
		}
		c.handleCalls(node, ref)

	default:
		c.compileError("this node can not appear here", node)
	}
}

func (c *Compiler) compileSymbol(node parser.Node, ref pageRef) {
	if id, ok := vm.IsBuiltin(node.Str); ok {
		c.page(ref).WriteOp(bytecode.OpBuiltin)
		c.page(ref).WriteU16(id)
		return
	}
	if offset, ok := bytecode.IsOperator(node.Str); ok {
		c.page(ref).WriteOp(bytecode.OpFirstOperator + bytecode.OpCode(offset))
		return
	}
	// var-use
	id := c.addSymbol(node)
	c.page(ref).WriteOp(bytecode.OpLoadSymbol)
	c.page(ref).WriteU16(id)
}

func (c *Compiler) compileKeyword(kw parser.Keyword, node parser.Node, ref pageRef) {
	switch kw {
	case parser.KeywordIf:
		c.compileIf(node, ref)
	case parser.KeywordLet, parser.KeywordMut:
		c.compileLetMut(kw, node, ref)
	case parser.KeywordSet:
		c.compileSet(node, ref)
	case parser.KeywordFun:
		c.compileFunction(node, ref)
	case parser.KeywordBegin:
		for _, child := range node.Children[1:] {
			c.compileNode(child, ref)
		}
	case parser.KeywordWhile:
		c.compileWhile(node, ref)
	case parser.KeywordImport:
		c.compilePluginImport(node, ref)
	case parser.KeywordQuote:
		c.compileQuote(node, ref)
	case parser.KeywordDel:
		c.compileDel(node, ref)
	}
}

// compileSpecific lowers the dedicated list-building forms. Arguments are
// emitted in reverse so the VM pops them back in source order; a run of field
// accesses stays glued behind the expression it reads from.
func (c *Compiler) compileSpecific(inst bytecode.OpCode, head, node parser.Node, ref pageRef) {
	argc := countObjects(node.Children) - 1
	if argc < 2 && inst != bytecode.OpList {
		c.compileError(fmt.Sprintf("can not use %s with less than 2 arguments", head.Str), node)
	}

	ch := node.Children
	for i := len(ch) - 1; i > 0; {
		j := i
		for ch[j].Type == parser.NodeGetField {
			j--
		}
		for k := j; k < i; k++ {
			c.compileNode(ch[k], ref)
		}
		c.compileNode(ch[i], ref)
		i = j - 1
	}

	c.page(ref).WriteOp(inst)
	switch inst {
	case bytecode.OpList:
		c.page(ref).WriteU16(uint16(argc))
	case bytecode.OpAppend, bytecode.OpAppendInPlace, bytecode.OpConcat, bytecode.OpConcatInPlace:
		c.page(ref).WriteU16(uint16(argc - 1))
	}
}

func (c *Compiler) compileIf(node parser.Node, ref pageRef) {
	if len(node.Children) != 3 && len(node.Children) != 4 {
		c.compileError("if needs a condition, a then branch and optionally an else branch", node)
	}
	page := c.page(ref)

	c.compileNode(node.Children[1], ref)
	page.WriteOp(bytecode.OpPopJumpIfTrue)
	jumpToThen := page.Len()
	page.WriteU16(0)
	// else branch first, the conditional jump skips over it
	if len(node.Children) == 4 {
		c.compileNode(node.Children[3], ref)
	}
	page.WriteOp(bytecode.OpJump)
	jumpToEnd := page.Len()
	page.WriteU16(0)
	page.PatchU16(jumpToThen, uint16(page.Len()))
	c.compileNode(node.Children[2], ref)
	page.PatchU16(jumpToEnd, uint16(page.Len()))
}

func (c *Compiler) compileLetMut(kw parser.Keyword, node parser.Node, ref pageRef) {
	if len(node.Children) < 3 || node.Children[1].Type != parser.NodeSymbol {
		c.compileError("a binding needs a name and a value", node)
	}
	name := node.Children[1]
	id := c.addSymbol(name)
	c.addDefinedSymbol(name.Str)

	c.putValue(node, ref)

	if kw == parser.KeywordLet {
		c.page(ref).WriteOp(bytecode.OpLet)
	} else {
		c.page(ref).WriteOp(bytecode.OpMut)
	}
	c.page(ref).WriteU16(id)
}

func (c *Compiler) compileSet(node parser.Node, ref pageRef) {
	if len(node.Children) < 3 || node.Children[1].Type != parser.NodeSymbol {
		c.compileError("set needs a name and a value", node)
	}
	id := c.addSymbol(node.Children[1])

	c.putValue(node, ref)

	c.page(ref).WriteOp(bytecode.OpStore)
	c.page(ref).WriteU16(id)
}

func (c *Compiler) compileFunction(node parser.Node, ref pageRef) {
	if len(node.Children) < 3 || node.Children[1].Type != parser.NodeList {
		c.compileError("a function needs a parameter list and a body", node)
	}
	params := node.Children[1].Children

	// captures first, on the page the closure is created from
	for _, param := range params {
		if param.Type != parser.NodeCapture {
			continue
		}
		if !c.isDefined(param.Str) {
			c.compileError("Can not capture "+param.Str+" because it is referencing an unbound variable.", param)
		}
		c.page(ref).WriteOp(bytecode.OpCapture)
		c.addDefinedSymbol(param.Str)
		c.page(ref).WriteU16(c.addSymbol(param))
	}

	c.pages = append(c.pages, bytecode.NewPage())
	pageID := len(c.pages) - 1
	body := finalRef(pageID)

	id := c.addValue(bytecode.PageElem(uint16(pageID)), node)
	c.page(ref).WriteOp(bytecode.OpLoadConst)
	c.page(ref).WriteU16(id)

	// bind arguments off the stack into the fresh scope
	for _, param := range params {
		if param.Type != parser.NodeSymbol {
			continue
		}
		c.page(body).WriteOp(bytecode.OpMut)
		c.addDefinedSymbol(param.Str)
		c.page(body).WriteU16(c.addSymbol(param))
	}

	c.compileNode(node.Children[2], body)
	c.page(body).WriteOp(bytecode.OpRet)
}

func (c *Compiler) compileWhile(node parser.Node, ref pageRef) {
	if len(node.Children) != 3 {
		c.compileError("while needs a condition and a body", node)
	}
	page := c.page(ref)

	loopStart := page.Len()
	c.compileNode(node.Children[1], ref)
	page.WriteOp(bytecode.OpPopJumpIfFalse)
	jumpToEnd := page.Len()
	page.WriteU16(0)
	c.compileNode(node.Children[2], ref)
	page.WriteOp(bytecode.OpJump)
	page.WriteU16(uint16(loopStart))
	page.PatchU16(jumpToEnd, uint16(page.Len()))
}

func (c *Compiler) compileQuote(node parser.Node, ref pageRef) {
	if len(node.Children) != 2 {
		c.compileError("quote takes a single expression", node)
	}
	c.pages = append(c.pages, bytecode.NewPage())
	pageID := len(c.pages) - 1
	c.compileNode(node.Children[1], finalRef(pageID))
	c.page(finalRef(pageID)).WriteOp(bytecode.OpRet)

	id := c.addValue(bytecode.PageElem(uint16(pageID)), node)
	c.page(ref).WriteOp(bytecode.OpLoadConst)
	c.page(ref).WriteU16(id)
}

func (c *Compiler) compilePluginImport(node parser.Node, ref pageRef) {
	if len(node.Children) != 2 || node.Children[1].Type != parser.NodeString {
		c.compileError("import takes a plugin path string", node)
	}
	id := c.addValue(bytecode.StringElem(node.Children[1].Str), node.Children[1])
	c.plugins = append(c.plugins, node.Children[1].Str)
	c.page(ref).WriteOp(bytecode.OpPlugin)
	c.page(ref).WriteU16(id)
}

func (c *Compiler) compileDel(node parser.Node, ref pageRef) {
	if len(node.Children) != 2 || node.Children[1].Type != parser.NodeSymbol {
		c.compileError("del takes a variable name", node)
	}
	id := c.addSymbol(node.Children[1])
	c.page(ref).WriteOp(bytecode.OpDel)
	c.page(ref).WriteU16(id)
}

// putValue compiles the value expressions of a (let|mut|set name ...) node.
func (c *Compiler) putValue(node parser.Node, ref pageRef) {
	for _, child := range node.Children[2:] {
		c.compileNode(child, ref)
	}
}

// operators that may be chained over more than two arguments, lowering
// (op A B C) into A B op C op
var chainableOperators = map[bytecode.OpCode]bool{
	bytecode.OpAdd: true,
	bytecode.OpSub: true,
	bytecode.OpMul: true,
	bytecode.OpDiv: true,
	bytecode.OpMod: true,
	bytecode.OpAnd: true,
	bytecode.OpOr:  true,
}

// handleCalls lowers a call form. The callee (and any field chain on it) is
// assembled on a scratch page so it can land after the arguments; a single
// byte on that page means the callee is a primitive operator and gets
// interleaved instead.
func (c *Compiler) handleCalls(node parser.Node, ref pageRef) {
	ch := node.Children

	proc := c.pushTempPage()
	c.compileNode(ch[0], proc)

	n := 1
	for n < len(ch) && ch[n].Type == parser.NodeGetField {
		c.compileNode(ch[n], proc)
		n++
	}

	if c.page(proc).Len() > 1 {
		// builtin or user function: arguments first, then the callee
		for _, arg := range ch[n:] {
			c.compileNode(arg, ref)
		}
		procPage := c.popTempPage()
		c.page(ref).Code = append(c.page(ref).Code, procPage.Code...)

		argsCount := 0
		for _, arg := range ch[1:] {
			if arg.Type != parser.NodeGetField && arg.Type != parser.NodeCapture {
				argsCount++
			}
		}
		c.page(ref).WriteOp(bytecode.OpCall)
		c.page(ref).WriteU16(uint16(argsCount))
		return
	}

	// single operator byte
	op := bytecode.OpCode(c.popTempPage().Code[0])

	expCount := 0
	for idx := n; idx < len(ch); idx++ {
		c.compileNode(ch[idx], ref)

		if idx+1 == len(ch) ||
			(ch[idx+1].Type != parser.NodeGetField && ch[idx+1].Type != parser.NodeCapture) {
			expCount++
		}
		if expCount >= 2 {
			c.page(ref).WriteOp(op)
		}
	}
	if expCount == 1 {
		c.page(ref).WriteOp(op)
	}

	if expCount > 2 && !chainableOperators[op] {
		name := bytecode.Operators[op-bytecode.OpFirstOperator]
		c.compileError(fmt.Sprintf(
			"can not create a chained expression (of length %d) for operator `%s'. You most likely forgot a `)'.",
			expCount, name), node)
	}
}
