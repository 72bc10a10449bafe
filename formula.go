package cellgraph

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Cell error codes stored by formula fields.
const (
	CodeError   = "#ERROR!"
	CodeValue   = "#VALUE!"
	CodeDivZero = "#DIV/0!"
	CodeNum     = "#NUM!"
)

// FormulaEvaluator evaluates a field expression against a record's cells.
// Failures are returned as a CellError value, never as a Go error.
type FormulaEvaluator interface {
	Evaluate(expression string, fields map[string]any) any
}

// FormulaError is a structured failure from compiling or running a formula.
type FormulaError struct {
	Expression string
	Phase      string // "compile" or "run"
	Cause      error
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula %q failed during %s: %v", e.Expression, e.Phase, e.Cause)
}

func (e *FormulaError) Unwrap() error {
	return e.Cause
}

// fieldRef matches {fieldId} references in an expression. Map literals such
// as {"a": 1} do not match.
var fieldRef = regexp.MustCompile(`\{\s*([A-Za-z0-9_-]+)\s*\}`)

type compiled struct {
	program *vm.Program
	refs    []string
	err     error
}

// Formulas evaluates expressions with expr-lang. Field references are written
// {fieldId}; compiled programs are cached per expression.
type Formulas struct {
	mu    sync.Mutex
	cache map[string]*compiled
}

// NewFormulas creates an empty evaluator.
func NewFormulas() *Formulas {
	return &Formulas{cache: make(map[string]*compiled)}
}

// Refs returns the field ids referenced by expression, in order of first use.
func Refs(expression string) []string {
	var refs []string
	seen := map[string]bool{}
	for _, m := range fieldRef.FindAllStringSubmatch(expression, -1) {
		id := m[1]
		if !seen[id] {
			seen[id] = true
			refs = append(refs, id)
		}
	}
	return refs
}

func refVar(i int) string {
	return fmt.Sprintf("__f%d", i)
}

func (f *Formulas) compile(expression string) *compiled {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cache[expression]; ok {
		return c
	}

	refs := Refs(expression)
	pos := make(map[string]int, len(refs))
	for i, id := range refs {
		pos[id] = i
	}
	src := fieldRef.ReplaceAllStringFunc(expression, func(m string) string {
		return refVar(pos[fieldRef.FindStringSubmatch(m)[1]])
	})

	c := &compiled{refs: refs}
	c.program, c.err = expr.Compile(src,
		expr.AllowUndefinedVariables(),
		expr.Function("CONCATENATE", concatenate),
		expr.Function("SUM", sumAll),
	)
	if c.err != nil {
		c.err = &FormulaError{Expression: expression, Phase: "compile", Cause: c.err}
	}
	f.cache[expression] = c
	return c
}

// Evaluate implements FormulaEvaluator.
func (f *Formulas) Evaluate(expression string, fields map[string]any) any {
	c := f.compile(expression)
	if c.err != nil {
		return CellError{Code: CodeError, Message: c.err.Error()}
	}

	env := make(map[string]any, len(c.refs))
	for i, id := range c.refs {
		env[refVar(i)] = formulaArg(fields[id])
	}

	out, err := runProgram(c.program, env)
	if err != nil {
		ferr := &FormulaError{Expression: expression, Phase: "run", Cause: err}
		if strings.Contains(err.Error(), "divide by zero") {
			return CellError{Code: CodeDivZero, Message: ferr.Error()}
		}
		return CellError{Code: CodeValue, Message: ferr.Error()}
	}
	return formulaResult(out)
}

func runProgram(p *vm.Program, env map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return expr.Run(p, env)
}

// formulaArg converts a cell into the value a formula sees.
func formulaArg(v any) any {
	switch t := v.(type) {
	case LinkValue, []LinkValue:
		return DisplayString(t)
	case CellError:
		return nil
	}
	return normalizeNumber(v)
}

func formulaResult(v any) any {
	v = normalizeNumber(v)
	switch t := v.(type) {
	case float64:
		if math.IsInf(t, 0) {
			return CellError{Code: CodeDivZero}
		}
		if math.IsNaN(t) {
			return CellError{Code: CodeNum}
		}
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeNumber(e)
		}
		return out
	}
	return v
}

func concatenate(params ...any) (any, error) {
	var b strings.Builder
	for _, p := range params {
		b.WriteString(DisplayString(normalizeNumber(p)))
	}
	return b.String(), nil
}

var errNotNumber = errors.New("argument is not a number")

func sumAll(params ...any) (any, error) {
	var total float64
	for _, p := range params {
		switch t := p.(type) {
		case nil:
		case []any:
			for _, e := range t {
				n, ok := toFloat(e)
				if !ok && e != nil {
					return nil, errNotNumber
				}
				total += n
			}
		default:
			n, ok := toFloat(t)
			if !ok {
				return nil, errNotNumber
			}
			total += n
		}
	}
	return total, nil
}
