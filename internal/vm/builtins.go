package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Kannupriyasingh/Ark/internal/errors"
)

// BuiltinEntry pairs a guest-visible name with its runtime value. The table
// is index stable: the compiler encodes a builtin by its position here and
// the VM pushes Builtins[id].Value for BUILTIN id.
type BuiltinEntry struct {
	Name  string
	Value Value
}

var Builtins = []BuiltinEntry{
	{"false", false},
	{"true", true},
	{"nil", Nil},
	{"print", &NativeFunction{Name: "print", Function: printValues}},
	{"list:reverse", &NativeFunction{Name: "list:reverse", Function: reverseList}},
	{"list:find", &NativeFunction{Name: "list:find", Function: findInList}},
	{"list:slice", &NativeFunction{Name: "list:slice", Function: sliceList}},
	{"list:sort", &NativeFunction{Name: "list:sort", Function: sortList}},
	{"list:fill", &NativeFunction{Name: "list:fill", Function: fillList}},
	{"list:setAt", &NativeFunction{Name: "list:setAt", Function: setListAt}},
}

// IsBuiltin returns the table index of name, if it is a builtin.
func IsBuiltin(name string) (uint16, bool) {
	for i, b := range Builtins {
		if b.Name == name {
			return uint16(i), true
		}
	}
	return 0, false
}

func printValues(args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = ToString(a)
	}
	fmt.Println(strings.Join(parts, " "))
	return Nil, nil
}

// reverseList returns a new list with the elements in reverse order. The
// original list is not modified.
func reverseList(args []Value) (Value, error) {
	if len(args) != 1 {
		return nil, errors.NewRuntimeError("list:reverse expects a single argument")
	}
	l, ok := args[0].(*List)
	if !ok {
		return nil, errors.NewRuntimeError("list:reverse: argument must be a List")
	}
	out := NewList(len(l.Elements))
	for i := len(l.Elements) - 1; i >= 0; i-- {
		out.Elements = append(out.Elements, l.Elements[i])
	}
	return out, nil
}

// findInList returns the index of an element in a list, or -1.
func findInList(args []Value) (Value, error) {
	if len(args) != 2 {
		return nil, errors.NewRuntimeError("list:find expects two arguments")
	}
	l, ok := args[0].(*List)
	if !ok {
		return nil, errors.NewRuntimeError("list:find: first argument must be a List")
	}
	for i, el := range l.Elements {
		if Equal(el, args[1]) {
			return float64(i), nil
		}
	}
	return float64(-1), nil
}

// sliceList returns list[start:end:step], bounds checked. The original list
// is not modified.
func sliceList(args []Value) (Value, error) {
	if len(args) != 4 {
		return nil, errors.NewRuntimeError("list:slice expects four arguments")
	}
	l, ok := args[0].(*List)
	if !ok {
		return nil, errors.NewRuntimeError("list:slice: first argument must be a List")
	}
	start, ok1 := args[1].(float64)
	end, ok2 := args[2].(float64)
	step, ok3 := args[3].(float64)
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.NewRuntimeError("list:slice: start, end and step must be Numbers")
	}
	if step <= 0 {
		return nil, errors.NewRuntimeError("list:slice: step must be greater than 0")
	}
	if start > end {
		return nil, errors.NewRuntimeError("list:slice: start must not be after end")
	}
	if start < 0 || int(end) > len(l.Elements) {
		return nil, errors.NewRuntimeError("list:slice: index out of range")
	}
	out := NewList(int(end-start) + 1)
	for i := int(start); i < int(end); i += int(step) {
		out.Elements = append(out.Elements, l.Elements[i])
	}
	return out, nil
}

// sortList returns a new sorted list. The original list is not modified.
func sortList(args []Value) (Value, error) {
	if len(args) != 1 {
		return nil, errors.NewRuntimeError("list:sort expects a single argument")
	}
	l, ok := args[0].(*List)
	if !ok {
		return nil, errors.NewRuntimeError("list:sort: argument must be a List")
	}
	out := NewList(len(l.Elements))
	out.Elements = append(out.Elements, l.Elements...)
	sort.SliceStable(out.Elements, func(i, j int) bool {
		less, _ := Less(out.Elements[i], out.Elements[j])
		return less
	})
	return out, nil
}

// fillList generates a list of n copies of an element.
func fillList(args []Value) (Value, error) {
	if len(args) != 2 {
		return nil, errors.NewRuntimeError("list:fill expects two arguments")
	}
	count, ok := args[0].(float64)
	if !ok {
		return nil, errors.NewRuntimeError("list:fill: first argument must be a Number")
	}
	out := NewList(int(count))
	for i := 0; i < int(count); i++ {
		out.Elements = append(out.Elements, args[1])
	}
	return out, nil
}

// setListAt returns a copy of the list with one element replaced. The
// original list is not modified.
func setListAt(args []Value) (Value, error) {
	if len(args) != 3 {
		return nil, errors.NewRuntimeError("list:setAt expects three arguments")
	}
	l, ok := args[0].(*List)
	if !ok {
		return nil, errors.NewRuntimeError("list:setAt: first argument must be a List")
	}
	idx, ok := args[1].(float64)
	if !ok {
		return nil, errors.NewRuntimeError("list:setAt: second argument must be a Number")
	}
	if int(idx) < 0 || int(idx) >= len(l.Elements) {
		return nil, errors.NewRuntimeError("list:setAt: index out of range")
	}
	out := NewList(len(l.Elements))
	out.Elements = append(out.Elements, l.Elements...)
	out.Elements[int(idx)] = args[2]
	return out, nil
}
