// Package syntax models the source-level syntax tree stored in an
// artifact's debug-info chunk, and provides the restricted constant
// evaluation used to recover a supervisor's startup argument and child
// specification without running a whole program.
package syntax

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Stored syntax tree
// ---------------------------------------------------------------------------

// ExprKind discriminates the node variants of a stored expression.
type ExprKind uint8

const (
	KindInt ExprKind = iota + 1
	KindAtom
	KindString
	KindNil   // the empty list
	KindList  // list cons structure: Elems prepended onto Tail
	KindTuple // fixed-arity product of Elems
	KindVar   // named variable, non-constant
	KindCall  // remote or local call, non-constant
	KindMap   // map construct, non-constant for folding purposes
)

// Expr is one node of the stored syntax tree. Exactly the fields implied
// by Kind are populated.
type Expr struct {
	Kind  ExprKind `cbor:"1,keyasint"`
	Int   int64    `cbor:"2,keyasint,omitempty"`
	Text  string   `cbor:"3,keyasint,omitempty"` // atom, string or variable name; call target as "mod:fun"
	Elems []*Expr  `cbor:"4,keyasint,omitempty"`
	Tail  *Expr    `cbor:"5,keyasint,omitempty"` // list tail; nil means the empty list
}

// Clause is one clause of a function definition.
type Clause struct {
	Params []*Expr `cbor:"1,keyasint,omitempty"`
	Body   []*Expr `cbor:"2,keyasint,omitempty"`
}

// Function is a named function definition.
type Function struct {
	Name    string    `cbor:"1,keyasint"`
	Arity   int       `cbor:"2,keyasint"`
	Clauses []*Clause `cbor:"3,keyasint,omitempty"`
}

// Module is the decoded debug-info chunk: the module's forms.
type Module struct {
	Name      string      `cbor:"1,keyasint"`
	Functions []*Function `cbor:"2,keyasint,omitempty"`
}

// Function returns the definition of name/arity, or nil.
func (m *Module) Function(name string, arity int) *Function {
	for _, f := range m.Functions {
		if f.Name == name && f.Arity == arity {
			return f
		}
	}
	return nil
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("syntax: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Encode serializes a module's forms for storage in the debug-info chunk.
func Encode(m *Module) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

// Decode parses a debug-info chunk payload.
func Decode(payload []byte) (*Module, error) {
	var m Module
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("syntax: decoding forms: %w", err)
	}
	return &m, nil
}

// ---------------------------------------------------------------------------
// Folded terms
// ---------------------------------------------------------------------------

// Term is a concrete value produced by constant folding. The variants
// mirror the foldable expression shapes plus Unknown for anything
// non-constant.
type Term interface{ term() }

// Int is an integer term.
type Int int64

// Atom is a symbolic constant term.
type Atom string

// Str is a string term.
type Str string

// List is a proper list term.
type List []Term

// Tuple is a fixed-arity product term.
type Tuple []Term

// Unknown marks a value that could not be determined statically: a
// variable or a call folds to this placeholder.
type Unknown struct{}

func (Int) term()     {}
func (Atom) term()    {}
func (Str) term()     {}
func (List) term()    {}
func (Tuple) term()   {}
func (Unknown) term() {}

// ---------------------------------------------------------------------------
// Restricted constant folding
// ---------------------------------------------------------------------------

// Fold statically evaluates an expression to a concrete term. Literals
// fold to themselves, list-cons structures fold recursively, tuples fold
// element-wise; variables, calls and anything else fold to Unknown.
func Fold(e *Expr) Term {
	return foldEnv(e, nil)
}

func foldEnv(e *Expr, env map[string]Term) Term {
	if e == nil {
		return Unknown{}
	}
	switch e.Kind {
	case KindInt:
		return Int(e.Int)
	case KindAtom:
		return Atom(e.Text)
	case KindString:
		return Str(e.Text)
	case KindNil:
		return List(nil)
	case KindList:
		tail := List(nil)
		if e.Tail != nil {
			folded := foldEnv(e.Tail, env)
			t, ok := folded.(List)
			if !ok {
				return Unknown{}
			}
			tail = t
		}
		out := make(List, 0, len(e.Elems)+len(tail))
		for _, el := range e.Elems {
			out = append(out, foldEnv(el, env))
		}
		return append(out, tail...)
	case KindTuple:
		out := make(Tuple, 0, len(e.Elems))
		for _, el := range e.Elems {
			out = append(out, foldEnv(el, env))
		}
		return out
	case KindVar:
		if env != nil {
			if v, ok := env[e.Text]; ok {
				return v
			}
		}
		return Unknown{}
	default:
		return Unknown{}
	}
}

// ---------------------------------------------------------------------------
// Transient module loading and init invocation
// ---------------------------------------------------------------------------

var (
	ErrNoInit        = errors.New("module defines no init/1 function")
	ErrManyClauses   = errors.New("init/1 has more than one clause")
	ErrAlreadyLoaded = errors.New("module already loaded")
)

// InitFunctionName is the sole recognized initializer.
const InitFunctionName = "init"

// Runtime is the capability used to obtain a module's declared runtime
// configuration: load its stored forms transiently, invoke its
// initializer, and unload it again. Implementations must make Unload
// safe to call exactly once per successful LoadTransient.
type Runtime interface {
	LoadTransient(module string, debugChunk []byte) (*Module, error)
	InvokeInit(m *Module, arg Term) (Term, error)
	Unload(module string)
}

// WithModule loads a module, runs fn against the handle, and guarantees
// the unload happens on every exit path.
func WithModule(r Runtime, module string, debugChunk []byte, fn func(*Module) error) error {
	m, err := r.LoadTransient(module, debugChunk)
	if err != nil {
		return err
	}
	defer r.Unload(module)
	return fn(m)
}

// Evaluator is the default Runtime: it interprets the stored forms with
// the same restricted folding rules used for arguments, so an init body
// consisting of constant construction evaluates fully and anything else
// degrades to Unknown placeholders.
type Evaluator struct {
	loaded map[string]*Module
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{loaded: make(map[string]*Module)}
}

// LoadTransient decodes the debug-info chunk and records the module as
// loaded.
func (ev *Evaluator) LoadTransient(module string, debugChunk []byte) (*Module, error) {
	if _, ok := ev.loaded[module]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLoaded, module)
	}
	m, err := Decode(debugChunk)
	if err != nil {
		return nil, err
	}
	ev.loaded[module] = m
	return m, nil
}

// Loaded reports whether the module is currently loaded.
func (ev *Evaluator) Loaded(module string) bool {
	_, ok := ev.loaded[module]
	return ok
}

// Unload discards the module's forms.
func (ev *Evaluator) Unload(module string) {
	delete(ev.loaded, module)
}

// InvokeInit evaluates the module's init/1 with the given argument bound
// to the clause's formal parameter. The result is the folded value of the
// clause's final body expression.
func (ev *Evaluator) InvokeInit(m *Module, arg Term) (Term, error) {
	fn := m.Function(InitFunctionName, 1)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoInit, m.Name)
	}
	if len(fn.Clauses) != 1 {
		return nil, fmt.Errorf("%w: %s has %d", ErrManyClauses, m.Name, len(fn.Clauses))
	}
	clause := fn.Clauses[0]
	if len(clause.Body) == 0 {
		return Unknown{}, nil
	}

	env := map[string]Term{}
	if len(clause.Params) == 1 && clause.Params[0].Kind == KindVar {
		env[clause.Params[0].Text] = arg
	}
	return foldEnv(clause.Body[len(clause.Body)-1], env), nil
}

// InitArgument extracts and folds the formal argument pattern of the
// module's init/1 clause: the static guess at what the supervisor is
// started with.
func InitArgument(m *Module) (Term, error) {
	fn := m.Function(InitFunctionName, 1)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoInit, m.Name)
	}
	if len(fn.Clauses) != 1 {
		return nil, fmt.Errorf("%w: %s has %d", ErrManyClauses, m.Name, len(fn.Clauses))
	}
	if len(fn.Clauses[0].Params) != 1 {
		return Unknown{}, nil
	}
	return Fold(fn.Clauses[0].Params[0]), nil
}
