package vm

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/Kannupriyasingh/Ark/internal/bytecode"
	"github.com/Kannupriyasingh/Ark/internal/errors"
)

// Frame is one call record: where to resume when the callee returns, the
// stack depth the callee owns everything above, and how many scopes were
// pushed on behalf of this frame (unwound on return).
type Frame struct {
	retPage int
	retIP   int
	base    int
	scopes  int
}

// VM executes a loaded bytecode container against a value stack and a chain
// of symbol-indexed scopes.
type VM struct {
	persist bool

	// decoded container
	symbols     []string
	constants   []Value
	pages       []byte
	pageOffsets []int
	filename    string

	// execution state
	ip            int
	pp            int
	running       bool
	stack         []Value
	frames        []Frame
	scopes        []*Scope
	savedScope    *Scope
	lastSymLoaded uint16

	binded        map[string]func(args []Value) (Value, error)
	libPaths      []string
	loadedPlugins map[string]bool
}

// NewVM creates a VM. With persist set, the root scope survives between runs
// so globals keep their values.
func NewVM(persist bool) *VM {
	return &VM{
		persist:       persist,
		binded:        make(map[string]func(args []Value) (Value, error)),
		loadedPlugins: make(map[string]bool),
	}
}

// SetLibPaths sets the search directories used to resolve plugin imports.
func (vm *VM) SetLibPaths(paths []string) {
	vm.libPaths = paths
}

// Feed loads a container from a file.
func (vm *VM) Feed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.NewContainerError(err.Error())
	}
	if err := vm.FeedBytes(data); err != nil {
		return err
	}
	vm.filename = path
	return nil
}

// FeedBytes loads a container from memory. The magic, version and content
// hash are verified before anything is kept.
func (vm *VM) FeedBytes(data []byte) error {
	c, err := bytecode.Read(data)
	if err != nil {
		return err
	}

	vm.symbols = c.Symbols
	vm.constants = make([]Value, 0, len(c.Values))
	for _, v := range c.Values {
		switch v.Type {
		case bytecode.NumberVal:
			vm.constants = append(vm.constants, v.Number)
		case bytecode.StringVal:
			vm.constants = append(vm.constants, v.Str)
		case bytecode.PageAddrVal:
			vm.constants = append(vm.constants, PageAddr(v.Page))
		}
	}
	vm.pages = c.Pages
	vm.pageOffsets = c.PageOffsets
	vm.scopes = nil
	return nil
}

// LoadFunction binds a host callable under the given name. The binding only
// becomes visible to the guest if the compiled program mentions the name.
func (vm *VM) LoadFunction(name string, fn func(args []Value) (Value, error)) {
	vm.binded[name] = fn
}

func (vm *VM) symbolID(name string) (uint16, bool) {
	for i, s := range vm.symbols {
		if s == name {
			return uint16(i), true
		}
	}
	return 0, false
}

func (vm *VM) init() {
	vm.stack = vm.stack[:0]
	vm.frames = []Frame{{retPage: 0, retIP: 0, base: 0, scopes: 1}}
	if !vm.persist || len(vm.scopes) == 0 {
		vm.scopes = []*Scope{NewScope(len(vm.symbols))}
	} else {
		vm.scopes = vm.scopes[:1]
	}
	vm.savedScope = nil
	vm.ip = 0
	vm.pp = 0

	// host bindings land in the root scope, by symbol id
	for name, fn := range vm.binded {
		if id, ok := vm.symbolID(name); ok {
			vm.scopes[0].Set(id, &NativeFunction{Name: name, Function: fn})
		}
	}
}

// Run executes the loaded program and returns the value left on the stack at
// termination (Nil when there is none).
func (vm *VM) Run() (result Value, err error) {
	if vm.pages == nil {
		return nil, errors.NewRuntimeError("no bytecode loaded")
	}
	vm.init()

	defer func() {
		if r := recover(); r != nil {
			if arkErr, ok := r.(*errors.ArkError); ok {
				result, err = nil, arkErr
				return
			}
			panic(r)
		}
	}()

	vm.running = true
	for vm.running {
		vm.step()
	}

	if len(vm.stack) == 0 {
		return Nil, nil
	}
	return vm.pop(), nil
}

func (vm *VM) fail(format string, args ...interface{}) {
	panic(errors.NewRuntimeError(fmt.Sprintf(format, args...)))
}

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() Value {
	if len(vm.stack) == 0 {
		vm.fail("stack underflow at page %d offset %d", vm.pp, vm.ip)
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) pageSpan() (int, int) {
	start := vm.pageOffsets[vm.pp]
	end := len(vm.pages)
	if vm.pp+1 < len(vm.pageOffsets) {
		end = vm.pageOffsets[vm.pp+1]
	}
	return start, end
}

func (vm *VM) readByte() byte {
	start, end := vm.pageSpan()
	if start+vm.ip >= end {
		vm.fail("instruction pointer ran off page %d", vm.pp)
	}
	b := vm.pages[start+vm.ip]
	vm.ip++
	return b
}

func (vm *VM) readU16() uint16 {
	high := uint16(vm.readByte())
	low := uint16(vm.readByte())
	return high<<8 | low
}

// peekOp looks at the next opcode without advancing.
func (vm *VM) peekOp() (bytecode.OpCode, bool) {
	start, end := vm.pageSpan()
	if start+vm.ip >= end {
		return 0, false
	}
	return bytecode.OpCode(vm.pages[start+vm.ip]), true
}

// findNearestScope walks the chain from innermost to outermost and returns
// the first scope where id is bound.
func (vm *VM) findNearestScope(id uint16) *Scope {
	for i := len(vm.scopes) - 1; i >= 0; i-- {
		if vm.scopes[i].Get(id) != nil {
			return vm.scopes[i]
		}
	}
	return nil
}

func (vm *VM) currentScope() *Scope {
	return vm.scopes[len(vm.scopes)-1]
}

func (vm *VM) currentFrame() *Frame {
	return &vm.frames[len(vm.frames)-1]
}

func (vm *VM) symbolName(id uint16) string {
	if int(id) < len(vm.symbols) {
		return vm.symbols[id]
	}
	return fmt.Sprintf("symbol#%d", id)
}

func (vm *VM) step() {
	op := bytecode.OpCode(vm.readByte())

	switch op {
	case bytecode.OpHalt:
		vm.running = false

	case bytecode.OpLoadSymbol:
		id := vm.readU16()
		vm.lastSymLoaded = id
		scope := vm.findNearestScope(id)
		if scope == nil {
			vm.fail("unbound variable: %s", vm.symbolName(id))
		}
		vm.push(scope.Get(id))

	case bytecode.OpLoadConst:
		id := vm.readU16()
		if int(id) >= len(vm.constants) {
			vm.fail("constant id %d out of range", id)
		}
		if page, ok := vm.constants[id].(PageAddr); ok {
			vm.push(&Closure{Page: uint16(page), Scope: vm.savedScope})
			vm.savedScope = nil
		} else {
			vm.push(vm.constants[id])
		}

	case bytecode.OpPopJumpIfTrue:
		addr := vm.readU16()
		if IsTruthy(vm.pop()) {
			vm.ip = int(addr)
		}

	case bytecode.OpPopJumpIfFalse:
		addr := vm.readU16()
		if !IsTruthy(vm.pop()) {
			vm.ip = int(addr)
		}

	case bytecode.OpJump:
		vm.ip = int(vm.readU16())

	case bytecode.OpStore:
		id := vm.readU16()
		val := vm.pop()
		scope := vm.findNearestScope(id)
		if scope == nil {
			vm.fail("unbound variable %s, can not change its value", vm.symbolName(id))
		}
		scope.Set(id, val)

	case bytecode.OpLet:
		id := vm.readU16()
		val := vm.pop()
		if vm.currentScope().Get(id) != nil {
			vm.fail("can not use 'let' to redefine the variable %s", vm.symbolName(id))
		}
		vm.currentScope().Set(id, val)

	case bytecode.OpMut:
		id := vm.readU16()
		vm.currentScope().Set(id, vm.pop())

	case bytecode.OpDel:
		id := vm.readU16()
		scope := vm.findNearestScope(id)
		if scope == nil {
			vm.fail("unbound variable: %s", vm.symbolName(id))
		}
		scope.Set(id, nil)

	case bytecode.OpCapture:
		id := vm.readU16()
		if vm.savedScope == nil {
			vm.savedScope = NewScope(len(vm.symbols))
		}
		scope := vm.findNearestScope(id)
		if scope == nil {
			vm.fail("can not capture unbound variable %s", vm.symbolName(id))
		}
		vm.savedScope.Set(id, scope.Get(id))

	case bytecode.OpSaveEnv:
		vm.savedScope = vm.currentScope()

	case bytecode.OpBuiltin:
		id := vm.readU16()
		if int(id) >= len(Builtins) {
			vm.fail("builtin id %d out of range", id)
		}
		vm.push(Builtins[id].Value)

	case bytecode.OpGetField:
		id := vm.readU16()
		val := vm.pop()
		closure, ok := val.(*Closure)
		if !ok {
			vm.fail("the variable `%s' isn't a closure, can not get the field `%s' from it",
				vm.symbolName(vm.lastSymLoaded), vm.symbolName(id))
		}
		if closure.Scope == nil || closure.Scope.Get(id) == nil {
			vm.fail("couldn't find the variable %s in the closure environment", vm.symbolName(id))
		}
		// a field about to be called needs its siblings in scope
		if next, ok := vm.peekOp(); ok && next == bytecode.OpCall {
			vm.scopes = append(vm.scopes, closure.Scope)
			vm.currentFrame().scopes++
		}
		vm.push(closure.Scope.Get(id))

	case bytecode.OpCall:
		vm.call(int(vm.readU16()))

	case bytecode.OpRet:
		vm.ret()

	case bytecode.OpPlugin:
		id := vm.readU16()
		path, ok := vm.constants[id].(string)
		if !ok {
			vm.fail("plugin constant %d is not a string", id)
		}
		if err := vm.loadPlugin(path); err != nil {
			panic(err)
		}

	case bytecode.OpList:
		count := vm.readU16()
		l := NewList(int(count))
		for i := uint16(0); i < count; i++ {
			l.Elements = append(l.Elements, vm.pop())
		}
		vm.push(l)

	case bytecode.OpAppend:
		count := vm.readU16()
		base := vm.popList("append")
		out := NewList(len(base.Elements) + int(count))
		out.Elements = append(out.Elements, base.Elements...)
		for i := uint16(0); i < count; i++ {
			out.Elements = append(out.Elements, vm.pop())
		}
		vm.push(out)

	case bytecode.OpConcat:
		count := vm.readU16()
		base := vm.popList("concat")
		out := NewList(len(base.Elements))
		out.Elements = append(out.Elements, base.Elements...)
		for i := uint16(0); i < count; i++ {
			next := vm.popList("concat")
			out.Elements = append(out.Elements, next.Elements...)
		}
		vm.push(out)

	case bytecode.OpAppendInPlace:
		count := vm.readU16()
		base := vm.popList("append!")
		for i := uint16(0); i < count; i++ {
			base.Elements = append(base.Elements, vm.pop())
		}
		vm.push(Nil)

	case bytecode.OpConcatInPlace:
		count := vm.readU16()
		base := vm.popList("concat!")
		for i := uint16(0); i < count; i++ {
			next := vm.popList("concat!")
			base.Elements = append(base.Elements, next.Elements...)
		}
		vm.push(Nil)

	case bytecode.OpPopList:
		base := vm.popList("pop")
		idx := vm.popIndex("pop", len(base.Elements))
		out := NewList(len(base.Elements) - 1)
		out.Elements = append(out.Elements, base.Elements[:idx]...)
		out.Elements = append(out.Elements, base.Elements[idx+1:]...)
		vm.push(out)

	case bytecode.OpPopListInPlace:
		base := vm.popList("pop!")
		idx := vm.popIndex("pop!", len(base.Elements))
		base.Elements = append(base.Elements[:idx], base.Elements[idx+1:]...)

	default:
		if op >= bytecode.OpFirstOperator {
			vm.operator(op)
			return
		}
		vm.fail("unknown instruction 0x%02x at page %d offset %d", byte(op), vm.pp, vm.ip-1)
	}
}

func (vm *VM) popList(opName string) *List {
	l, ok := vm.pop().(*List)
	if !ok {
		vm.fail("%s: argument must be a List", opName)
	}
	return l
}

// popIndex pops a numeric index, resolves negatives from the end, and bounds
// checks against length.
func (vm *VM) popIndex(opName string, length int) int {
	n, ok := vm.pop().(float64)
	if !ok {
		vm.fail("%s: index must be a Number", opName)
	}
	idx := int(n)
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		vm.fail("%s: index out of range", opName)
	}
	return idx
}

func (vm *VM) call(argc int) {
	callee := vm.pop()
	if len(vm.stack) < argc {
		vm.fail("not enough arguments on the stack for the call")
	}
	args := make([]Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}

	switch f := callee.(type) {
	case *NativeFunction:
		res, err := f.Function(args)
		if err != nil {
			if arkErr, ok := err.(*errors.ArkError); ok {
				panic(arkErr)
			}
			vm.fail("%s", err.Error())
		}
		vm.push(res)

	case *Closure:
		frame := Frame{retPage: vm.pp, retIP: vm.ip, base: len(vm.stack), scopes: 1}
		if f.Scope != nil {
			vm.scopes = append(vm.scopes, f.Scope)
			frame.scopes = 2
		}
		vm.scopes = append(vm.scopes, NewScope(len(vm.symbols)))
		vm.frames = append(vm.frames, frame)
		// re-push in reverse so the first parameter binding pops the
		// first argument
		for i := len(args) - 1; i >= 0; i-- {
			vm.push(args[i])
		}
		vm.pp = int(f.Page)
		vm.ip = 0

	default:
		vm.fail("attempt to call a non-function value of type %s", TypeName(callee))
	}
}

func (vm *VM) ret() {
	frame := vm.frames[len(vm.frames)-1]
	var ret Value = Nil
	if len(vm.stack) > frame.base {
		ret = vm.pop()
	}
	vm.stack = vm.stack[:frame.base]
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.scopes = vm.scopes[:len(vm.scopes)-frame.scopes]

	if len(vm.frames) == 0 {
		// the root frame returned
		vm.push(ret)
		vm.running = false
		return
	}
	vm.pp = frame.retPage
	vm.ip = frame.retIP
	vm.push(ret)
}

func (vm *VM) operator(op bytecode.OpCode) {
	switch op {
	case bytecode.OpAdd:
		b, a := vm.pop(), vm.pop()
		switch av := a.(type) {
		case float64:
			bv, ok := b.(float64)
			if !ok {
				vm.fail("type error: + expects two Numbers or two Strings")
			}
			vm.push(av + bv)
		case string:
			bv, ok := b.(string)
			if !ok {
				vm.fail("type error: + expects two Numbers or two Strings")
			}
			vm.push(av + bv)
		default:
			vm.fail("type error: + expects two Numbers or two Strings")
		}

	case bytecode.OpSub:
		b, a := vm.popNumber("-"), vm.popNumber("-")
		vm.push(a - b)

	case bytecode.OpMul:
		b, a := vm.popNumber("*"), vm.popNumber("*")
		vm.push(a * b)

	case bytecode.OpDiv:
		b, a := vm.popNumber("/"), vm.popNumber("/")
		if b == 0 {
			vm.fail("division by zero")
		}
		vm.push(a / b)

	case bytecode.OpMod:
		b, a := vm.popNumber("mod"), vm.popNumber("mod")
		if b == 0 {
			vm.fail("modulo by zero")
		}
		vm.push(math.Mod(a, b))

	case bytecode.OpGt:
		b, a := vm.pop(), vm.pop()
		vm.push(!Equal(a, b) && !vm.less(">", a, b))

	case bytecode.OpLt:
		b, a := vm.pop(), vm.pop()
		vm.push(vm.less("<", a, b))

	case bytecode.OpLe:
		b, a := vm.pop(), vm.pop()
		vm.push(vm.less("<=", a, b) || Equal(a, b))

	case bytecode.OpGe:
		b, a := vm.pop(), vm.pop()
		vm.push(!vm.less(">=", a, b))

	case bytecode.OpNeq:
		b, a := vm.pop(), vm.pop()
		vm.push(!Equal(a, b))

	case bytecode.OpEq:
		b, a := vm.pop(), vm.pop()
		vm.push(Equal(a, b))

	case bytecode.OpLen:
		switch v := vm.pop().(type) {
		case *List:
			vm.push(float64(len(v.Elements)))
		case string:
			vm.push(float64(len(v)))
		default:
			vm.fail("len: argument must be a List or a String")
		}

	case bytecode.OpEmpty:
		switch v := vm.pop().(type) {
		case *List:
			vm.push(len(v.Elements) == 0)
		case string:
			vm.push(len(v) == 0)
		default:
			vm.fail("empty?: argument must be a List or a String")
		}

	case bytecode.OpTail:
		switch v := vm.pop().(type) {
		case *List:
			if len(v.Elements) < 2 {
				vm.push(NewList(0))
				return
			}
			out := NewList(len(v.Elements) - 1)
			out.Elements = append(out.Elements, v.Elements[1:]...)
			vm.push(out)
		case string:
			if len(v) < 2 {
				vm.push("")
				return
			}
			vm.push(v[1:])
		default:
			vm.fail("tail: argument must be a List or a String")
		}

	case bytecode.OpHead:
		switch v := vm.pop().(type) {
		case *List:
			if len(v.Elements) == 0 {
				vm.push(Nil)
				return
			}
			vm.push(v.Elements[0])
		case string:
			if len(v) == 0 {
				vm.push("")
				return
			}
			vm.push(v[:1])
		default:
			vm.fail("head: argument must be a List or a String")
		}

	case bytecode.OpIsNil:
		_, isNil := vm.pop().(NilType)
		vm.push(isNil)

	case bytecode.OpAssert:
		b, a := vm.pop(), vm.pop()
		if IsTruthy(a) {
			return
		}
		msg, ok := b.(string)
		if !ok {
			vm.fail("assert: message must be a String")
		}
		vm.fail("assertion failed: %s", msg)

	case bytecode.OpToNum:
		s, ok := vm.pop().(string)
		if !ok {
			vm.fail("toNumber: argument must be a String")
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			vm.push(n)
		} else {
			vm.push(Nil)
		}

	case bytecode.OpToStr:
		vm.push(ToString(vm.pop()))

	case bytecode.OpAt:
		idxVal, ok := vm.pop().(float64)
		if !ok {
			vm.fail("@: index must be a Number")
		}
		switch v := vm.pop().(type) {
		case *List:
			idx := int(idxVal)
			if idx < 0 {
				idx += len(v.Elements)
			}
			if idx < 0 || idx >= len(v.Elements) {
				vm.fail("@: index out of range")
			}
			vm.push(v.Elements[idx])
		case string:
			idx := int(idxVal)
			if idx < 0 {
				idx += len(v)
			}
			if idx < 0 || idx >= len(v) {
				vm.fail("@: index out of range")
			}
			vm.push(v[idx : idx+1])
		default:
			vm.fail("@: argument must be a List or a String")
		}

	case bytecode.OpAnd:
		a, b := vm.pop(), vm.pop()
		vm.push(IsTruthy(a) && IsTruthy(b))

	case bytecode.OpOr:
		a, b := vm.pop(), vm.pop()
		vm.push(IsTruthy(a) || IsTruthy(b))

	case bytecode.OpType:
		vm.push(TypeName(vm.pop()))

	case bytecode.OpHasField:
		field, closureVal := vm.pop(), vm.pop()
		closure, ok := closureVal.(*Closure)
		if !ok {
			vm.fail("hasField: first argument must be a Function")
		}
		name, ok := field.(string)
		if !ok {
			vm.fail("hasField: second argument must be a String")
		}
		id, found := vm.symbolID(name)
		vm.push(found && closure.Scope != nil && closure.Scope.Get(id) != nil)

	case bytecode.OpNot:
		vm.push(!IsTruthy(vm.pop()))

	default:
		vm.fail("unknown operator 0x%02x", byte(op))
	}
}

func (vm *VM) popNumber(opName string) float64 {
	n, ok := vm.pop().(float64)
	if !ok {
		vm.fail("type error: arguments of %s must be Numbers", opName)
	}
	return n
}

func (vm *VM) less(opName string, a, b Value) bool {
	less, ok := Less(a, b)
	if !ok {
		vm.fail("type error: %s can not compare %s and %s", opName, TypeName(a), TypeName(b))
	}
	return less
}
