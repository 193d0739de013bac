package compiler

import (
	"strings"
	"testing"

	"github.com/Kannupriyasingh/Ark/internal/vm"
)

// compileAndRun drives a source string through the whole toolchain: parse,
// compile, load, execute.
func compileAndRun(t *testing.T, source string) (vm.Value, error) {
	t.Helper()
	c := compileSource(t, source)
	machine := vm.NewVM(false)
	if err := machine.FeedBytes(c.Bytecode()); err != nil {
		t.Fatalf("the compiled container does not load: %v", err)
	}
	return machine.Run()
}

func expectNumber(t *testing.T, source string, expected float64) {
	t.Helper()
	result, err := compileAndRun(t, source)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result != expected {
		t.Errorf("expected %v, got %v", expected, vm.ToString(result))
	}
}

func expectRuntimeError(t *testing.T, source, fragment string) {
	t.Helper()
	_, err := compileAndRun(t, source)
	if err == nil {
		t.Fatalf("expected a runtime error containing %q", fragment)
	}
	if !strings.Contains(err.Error(), fragment) {
		t.Fatalf("expected error containing %q, got: %v", fragment, err)
	}
}

func TestRunArithmetic(t *testing.T) {
	expectNumber(t, `(let x 6) (let y 7) (* x y)`, 42)
	expectNumber(t, `(+ 1 2 3 4)`, 10)
	expectNumber(t, `(- 10 2 3)`, 5)
	expectNumber(t, `(mod 17 5)`, 2)
	expectNumber(t, `(/ 84 2)`, 42)
}

func TestRunConditionals(t *testing.T) {
	expectNumber(t, `(if (< 1 2) 10 20)`, 10)
	expectNumber(t, `(if (> 1 2) 10 20)`, 20)
	expectNumber(t, `(if (= 1 1) 1 2)`, 1)
	// no else branch falls through
	expectNumber(t, `(let r 0) (if false (set r 1)) (+ r 40)`, 40)
}

func TestRunWhile(t *testing.T) {
	expectNumber(t, `
		(mut i 0)
		(mut total 0)
		(while (< i 5)
			(begin
				(set total (+ total i))
				(set i (+ i 1))))
		total`, 10)
}

func TestRunRecursion(t *testing.T) {
	expectNumber(t, `
		(let f (fun (n)
			(if (< n 2)
				n
				(+ (f (- n 1)) (f (- n 2))))))
		(f 10)`, 55)
}

func TestRunCapturedMutableScope(t *testing.T) {
	expectNumber(t, `
		(let make (fun (x)
			(fun (&x) (begin
				(set x (+ x 1))
				x))))
		(let counter (make 0))
		(counter)
		(counter)
		(counter)`, 3)
}

func TestRunListOperations(t *testing.T) {
	expectNumber(t, `(let xs (list 1 2 3)) (append! xs 4) (len xs)`, 4)
	expectNumber(t, `(len (concat (list 1) (list 2 3) (list 4)))`, 4)
	expectNumber(t, `(head (tail (list 1 2 3)))`, 2)
	expectNumber(t, `(@ (list 4 5 6) 1)`, 5)
	expectNumber(t, `(@ (list 4 5 6) -1)`, 6)
	expectNumber(t, `(len (pop (list 1 2 3) 0))`, 2)

	result, err := compileAndRun(t, `(concat (list 1) (list 2 3) (list 4))`)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	expected := &vm.List{Elements: []vm.Value{float64(1), float64(2), float64(3), float64(4)}}
	if !vm.Equal(result, expected) {
		t.Errorf("expected %s, got %s", vm.ToString(expected), vm.ToString(result))
	}
}

func TestRunInPlaceSharing(t *testing.T) {
	// two bindings to the same list both observe the in-place append
	expectNumber(t, `
		(let xs (list 1 2))
		(let ys xs)
		(append! ys 3)
		(len xs)`, 3)
}

func TestRunStrings(t *testing.T) {
	result, err := compileAndRun(t, `(+ "foo" "bar")`)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result != "foobar" {
		t.Errorf("expected foobar, got %v", result)
	}
	expectNumber(t, `(len "hello")`, 5)
	expectNumber(t, `(toNumber "21.5")`, 21.5)

	result, err = compileAndRun(t, `(toString 42)`)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result != "42" {
		t.Errorf("expected \"42\", got %v", result)
	}
}

func TestRunBuiltins(t *testing.T) {
	result, err := compileAndRun(t, `(list:reverse (list 1 2 3))`)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	expected := &vm.List{Elements: []vm.Value{float64(3), float64(2), float64(1)}}
	if !vm.Equal(result, expected) {
		t.Errorf("expected %s, got %s", vm.ToString(expected), vm.ToString(result))
	}

	expectNumber(t, `(list:find (list 4 5 6) 5)`, 1)
	expectNumber(t, `(list:find (list 4 5 6) 9)`, -1)
	expectNumber(t, `(len (list:fill 4 nil))`, 4)
	expectNumber(t, `(@ (list:setAt (list 1 2 3) 0 9) 0)`, 9)
	expectNumber(t, `(@ (list:sort (list 3 1 2)) 0)`, 1)
	expectNumber(t, `(len (list:slice (list 1 2 3 4 5) 1 4 1))`, 3)
}

func TestRunQuote(t *testing.T) {
	expectNumber(t, `(let q (quote (+ 1 2))) (q)`, 3)
}

func TestRunFieldAccess(t *testing.T) {
	expectNumber(t, `
		(let a 5)
		(let obj (fun (&a) 0))
		obj.a`, 5)
}

func TestRunNilAndBooleans(t *testing.T) {
	result, err := compileAndRun(t, `(nil? nil)`)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result != true {
		t.Errorf("expected true, got %v", result)
	}

	result, err = compileAndRun(t, `(not true)`)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result != false {
		t.Errorf("expected false, got %v", result)
	}

	result, err = compileAndRun(t, `(empty? (list))`)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result != true {
		t.Errorf("expected true, got %v", result)
	}
}

func TestRunDel(t *testing.T) {
	expectRuntimeError(t, `(let x 1) (del x) x`, "unbound variable")
}

func TestRunRuntimeErrors(t *testing.T) {
	expectRuntimeError(t, `(/ 1 0)`, "division by zero")
	expectRuntimeError(t, `(let x 1) (let x 2)`, "redefine")
	expectRuntimeError(t, `(let x 1) (x)`, "non-function")
	expectRuntimeError(t, `(+ 1 "a")`, "type error")
	expectRuntimeError(t, `(@ (list 1) 5)`, "out of range")
	expectRuntimeError(t, `(assert false "boom")`, "boom")
}

func TestRunHashMismatchRefusesToLoad(t *testing.T) {
	c := compileSource(t, `(let x 6) (let y 7) (* x y)`)
	data := append([]byte{}, c.Bytecode()...)
	data[len(data)-2] ^= 0xff

	machine := vm.NewVM(false)
	err := machine.FeedBytes(data)
	if err == nil {
		t.Fatal("expected the loader to reject a corrupted container")
	}
	if !strings.Contains(err.Error(), "hash") {
		t.Fatalf("expected a hash mismatch error, got: %v", err)
	}
}

func TestRunDeepCallStack(t *testing.T) {
	// CALL/RET must leave the stack balanced across many frames
	expectNumber(t, `
		(let sum (fun (n)
			(if (= n 0)
				0
				(+ n (sum (- n 1))))))
		(sum 100)`, 5050)
}
