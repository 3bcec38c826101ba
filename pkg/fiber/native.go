package fiber

import (
	"fmt"
	"sync"

	"github.com/nanovm/nanovm/pkg/value"
)

// NativeBody is the Go closure standing in for a compiled function's
// bytecode body, used by NativeExecutor. It receives the fiber so it
// can read its own arguments off the stack (f.Stack[f.StackStart():])
// and call f.OpenFrame/PopFrame for further calls, and returns the
// signal the bytecode interpreter would have raised.
type NativeBody func(f *Fiber) (Signal, value.Value, error)

// NativeExecutor is the reference Executor shipped by nanovm for
// testing and for cmd/nanovm's demos (SPEC_FULL.md's "Executor plug
// point"). It is not a bytecode interpreter: FuncDef.Bytecode is never
// decoded. Each FuncDef that should be runnable is instead registered
// with a Go closure via Register.
type NativeExecutor struct {
	mu     sync.Mutex
	bodies map[*value.FuncDef]NativeBody
}

func NewNativeExecutor() *NativeExecutor {
	return &NativeExecutor{bodies: make(map[*value.FuncDef]NativeBody)}
}

// Register associates def with a Go closure body.
func (n *NativeExecutor) Register(def *value.FuncDef, body NativeBody) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies[def] = body
}

func (n *NativeExecutor) lookup(def *value.FuncDef) (NativeBody, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	b, ok := n.bodies[def]
	return b, ok
}

// Step implements Executor by running the current frame's registered
// body to completion, popping the frame on return. Since a NativeBody
// runs to completion rather than suspending mid-instruction, nested
// calls it makes via f.OpenFrame/PopFrame happen synchronously within
// the same Step call -- adequate for exercising frame mechanics,
// arity, tail calls, and GC marking without a real interpreter loop.
func (n *NativeExecutor) Step(f *Fiber) (Signal, value.Value, error) {
	frame := f.CurrentFrame()
	if frame == nil {
		return SigOK, value.Nil, nil
	}
	body, ok := n.lookup(frame.Function.Def)
	if !ok {
		return SigError, value.Nil, fmt.Errorf("fiber: no native body registered for function %q", nameOf(frame.Function.Def))
	}

	sig, out, err := body(f)
	if err != nil {
		return SigError, out, err
	}

	// A body that opened further frames and left them open is
	// suspending (e.g. it installed a listener and returned SigEvent);
	// only pop the frame on a terminal, non-suspending signal.
	if sig == SigOK || sig == SigError {
		if f.CurrentFrame() == frame {
			f.PopFrame()
		}
	}
	return sig, out, nil
}

func nameOf(def *value.FuncDef) string {
	if def.Name != nil {
		return def.Name.String()
	}
	return "<anonymous>"
}
