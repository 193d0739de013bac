package vm

import (
	"fmt"
	"strings"
)

type Value interface{}

// NilType is the guest nil. It is distinct from an empty (Undefined) scope
// slot, which is a plain Go nil and never user visible.
type NilType struct{}

// Nil is the guest nil singleton.
var Nil = NilType{}

// PageAddr is a function entry point as stored in the constants table. The VM
// wraps it into a Closure when loaded.
type PageAddr uint16

// List is a shared, mutable ordered sequence.
type List struct {
	Elements []Value
}

// Closure pairs a code page with the scope captured at creation time. Scope
// is nil for functions that capture nothing.
type Closure struct {
	Page  uint16
	Scope *Scope
}

// NativeFunction represents a built-in or host-bound function
type NativeFunction struct {
	Name     string
	Function func(args []Value) (Value, error)
}

// TypeName returns the type of a value as a string
func TypeName(val Value) string {
	switch val.(type) {
	case NilType:
		return "Nil"
	case bool:
		return "Bool"
	case float64:
		return "Number"
	case string:
		return "String"
	case *List:
		return "List"
	case *Closure:
		return "Function"
	case *NativeFunction:
		return "CProc"
	case PageAddr:
		return "Function"
	default:
		return "Undefined"
	}
}

// IsTruthy returns whether a value is considered true: everything except
// false and nil.
func IsTruthy(val Value) bool {
	switch v := val.(type) {
	case bool:
		return v
	case NilType:
		return false
	default:
		return true
	}
}

// Equal compares two values structurally, tag included.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case NilType:
		_, ok := b.(NilType)
		return ok
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case *List:
		bv, ok := b.(*List)
		if !ok || len(av.Elements) != len(bv.Elements) {
			return false
		}
		for i := range av.Elements {
			if !Equal(av.Elements[i], bv.Elements[i]) {
				return false
			}
		}
		return true
	case *Closure:
		bv, ok := b.(*Closure)
		return ok && av.Page == bv.Page && av.Scope == bv.Scope
	case *NativeFunction:
		bv, ok := b.(*NativeFunction)
		return ok && av == bv
	}
	return a == b
}

// Less orders two values of the same comparable kind (numbers or strings).
func Less(a, b Value) (bool, bool) {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv, true
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv, true
		}
	}
	return false, false
}

// ToString converts a value to its printed representation
func ToString(val Value) string {
	switch v := val.(type) {
	case nil:
		return "undefined"
	case NilType:
		return "nil"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%g", v)
	case string:
		return v
	case *List:
		elems := make([]string, len(v.Elements))
		for i, elem := range v.Elements {
			elems[i] = ToString(elem)
		}
		return "[" + strings.Join(elems, " ") + "]"
	case *Closure:
		return fmt.Sprintf("<function page %d>", v.Page)
	case *NativeFunction:
		return fmt.Sprintf("<builtin %s>", v.Name)
	case PageAddr:
		return fmt.Sprintf("<function page %d>", uint16(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// NewList creates a new list
func NewList(capacity int) *List {
	return &List{Elements: make([]Value, 0, capacity)}
}
