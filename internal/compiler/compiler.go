// internal/compiler/compiler.go
package compiler

import (
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/Kannupriyasingh/Ark/internal/bytecode"
	"github.com/Kannupriyasingh/Ark/internal/errors"
	"github.com/Kannupriyasingh/Ark/internal/parser"
)

var log = commonlog.GetLogger("ark.compiler")

// pageRef addresses a code page: either a finalised page of the program, or
// a scratch page used while a callee is assembled after its arguments.
type pageRef struct {
	temp bool
	idx  int
}

func finalRef(idx int) pageRef { return pageRef{idx: idx} }

// Compiler lowers one parsed program into a bytecode container.
type Compiler struct {
	debug    int
	libPaths []string
	options  uint16

	ast *parser.Node

	symbols []parser.Node // insertion-ordered, unique by name
	defined []string
	plugins []string
	values  []bytecode.ValTableElem
	pages   []*bytecode.Page
	temp    []*bytecode.Page

	out []byte
}

func New(debug int, libPaths []string, options uint16) *Compiler {
	return &Compiler{
		debug:    debug,
		libPaths: libPaths,
		options:  options,
	}
}

// Feed parses the given source and keeps its AST for Compile.
func (c *Compiler) Feed(source, filename string) error {
	ast, err := parser.Parse(source, filename)
	if err != nil {
		return err
	}
	c.ast = &ast
	return nil
}

// Compile lowers the fed AST into the container format: header, symbol and
// value tables, one framed code segment per page, and the content hash.
func (c *Compiler) Compile() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if arkErr, ok := r.(*errors.ArkError); ok {
				err = arkErr
				return
			}
			panic(r)
		}
	}()

	if c.ast == nil {
		return errors.NewCompileError("nothing to compile, feed a program first", "", 0, 0)
	}

	header := c.makeHeader()

	c.symbols = nil
	c.defined = nil
	c.plugins = nil
	c.values = nil
	c.temp = nil
	c.pages = []*bytecode.Page{bytecode.NewPage()}
	c.compileNode(*c.ast, finalRef(0))
	c.checkForUndefinedSymbols()

	body := c.makeTables()
	body = c.appendCodeSegments(body)

	hash := sha256.Sum256(body)
	c.out = append(header, hash[:]...)
	c.out = append(c.out, body...)

	if c.debug >= 1 {
		log.Infof("final bytecode size: %dB", len(c.out))
	}
	return nil
}

// SaveTo writes the compiled container to a file.
func (c *Compiler) SaveTo(path string) error {
	if c.out == nil {
		return errors.NewCompileError("no bytecode to save, compile first", "", 0, 0)
	}
	return os.WriteFile(path, c.out, 0o644)
}

// Bytecode returns the compiled container bytes.
func (c *Compiler) Bytecode() []byte {
	return c.out
}

func (c *Compiler) makeHeader() []byte {
	header := make([]byte, 0, bytecode.HeaderSize)
	header = append(header, bytecode.Magic...)
	header = binary.BigEndian.AppendUint16(header, bytecode.VersionMajor)
	header = binary.BigEndian.AppendUint16(header, bytecode.VersionMinor)
	header = binary.BigEndian.AppendUint16(header, bytecode.VersionPatch)
	header = binary.BigEndian.AppendUint64(header, uint64(time.Now().Unix()))
	return header
}

func (c *Compiler) makeTables() []byte {
	var body []byte

	body = append(body, byte(bytecode.OpSymTableStart))
	body = binary.BigEndian.AppendUint16(body, uint16(len(c.symbols)))
	for _, sym := range c.symbols {
		body = append(body, sym.Str...)
		body = append(body, 0)
	}

	body = append(body, byte(bytecode.OpValTableStart))
	body = binary.BigEndian.AppendUint16(body, uint16(len(c.values)))
	for _, val := range c.values {
		switch val.Type {
		case bytecode.NumberVal:
			body = append(body, byte(bytecode.OpNumberType))
			body = append(body, bytecode.FormatNumber(val.Number)...)
		case bytecode.StringVal:
			body = append(body, byte(bytecode.OpStringType))
			body = append(body, val.Str...)
		case bytecode.PageAddrVal:
			body = append(body, byte(bytecode.OpFuncType))
			body = binary.BigEndian.AppendUint16(body, val.Page)
		}
		body = append(body, 0)
	}
	return body
}

func (c *Compiler) appendCodeSegments(body []byte) []byte {
	for i, page := range c.pages {
		if c.debug >= 2 {
			log.Debugf("page %d: %d bytes", i, page.Len())
		}
		body = append(body, byte(bytecode.OpCodeSegmentStart))
		// always close the page with a HALT so the VM can never run off
		// the end
		body = binary.BigEndian.AppendUint16(body, uint16(page.Len()+1))
		body = append(body, page.Code...)
		body = append(body, byte(bytecode.OpHalt))
	}
	if len(c.pages) == 0 {
		body = append(body, byte(bytecode.OpCodeSegmentStart))
		body = binary.BigEndian.AppendUint16(body, 1)
		body = append(body, byte(bytecode.OpHalt))
	}
	return body
}

// page resolves a page reference to its buffer.
func (c *Compiler) page(ref pageRef) *bytecode.Page {
	if ref.temp {
		return c.temp[ref.idx]
	}
	return c.pages[ref.idx]
}

func (c *Compiler) pushTempPage() pageRef {
	c.temp = append(c.temp, bytecode.NewPage())
	return pageRef{temp: true, idx: len(c.temp) - 1}
}

func (c *Compiler) popTempPage() *bytecode.Page {
	page := c.temp[len(c.temp)-1]
	c.temp = c.temp[:len(c.temp)-1]
	return page
}

// addSymbol registers a symbol node and returns its stable table index.
func (c *Compiler) addSymbol(node parser.Node) uint16 {
	for i, sym := range c.symbols {
		if sym.Str == node.Str {
			return uint16(i)
		}
	}
	if len(c.symbols) >= 1<<16 {
		c.compileError("too many symbols (exceeds 65'536), aborting compilation", node)
	}
	c.symbols = append(c.symbols, node)
	return uint16(len(c.symbols) - 1)
}

// addValue registers a constant and returns its stable table index.
func (c *Compiler) addValue(elem bytecode.ValTableElem, node parser.Node) uint16 {
	for i, val := range c.values {
		if val == elem {
			return uint16(i)
		}
	}
	if len(c.values) >= 1<<16 {
		c.compileError("too many values (exceeds 65'536), aborting compilation", node)
	}
	c.values = append(c.values, elem)
	return uint16(len(c.values) - 1)
}

func (c *Compiler) addDefinedSymbol(name string) {
	for _, def := range c.defined {
		if def == name {
			return
		}
	}
	c.defined = append(c.defined, name)
}

func (c *Compiler) isDefined(name string) bool {
	for _, def := range c.defined {
		if def == name {
			return true
		}
	}
	return false
}

// mayBeFromPlugin reports whether a name prefixed like `stem:func` matches
// the file stem of an imported plugin, in which case the symbol is expected
// to appear at runtime.
func (c *Compiler) mayBeFromPlugin(name string) bool {
	prefix := strings.SplitN(name, ":", 2)[0]
	for _, path := range c.plugins {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if stem == prefix {
			return true
		}
	}
	return false
}

// checkForUndefinedSymbols walks the symbol table after lowering and rejects
// every name that was used but never bound.
func (c *Compiler) checkForUndefinedSymbols() {
	for _, sym := range c.symbols {
		if !c.isDefined(sym.Str) && !c.mayBeFromPlugin(sym.Str) {
			c.compileError("Unbound variable error (variable is used but not defined): "+sym.Str, sym)
		}
	}
}

func (c *Compiler) compileError(message string, node parser.Node) {
	panic(errors.NewCompileError(message, node.File, node.Line, node.Column))
}

// countObjects counts the children that represent runtime values, which
// excludes field accesses attached to a preceding expression.
func countObjects(nodes []parser.Node) int {
	n := 0
	for _, node := range nodes {
		if node.Type != parser.NodeGetField {
			n++
		}
	}
	return n
}
