package webhooks

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// FilterEngine compiles and evaluates per-webhook payload filters. Filters
// are CEL expressions over the event type and data, e.g.
//
//	type == "user.created" && data.plan == "pro"
//
// Compiled programs are cached by expression text.
type FilterEngine struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewFilterEngine creates a filter engine with the event evaluation scope.
func NewFilterEngine() (*FilterEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	return &FilterEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates an expression and caches its program. Used at webhook
// registration time so bad filters are rejected before a row exists.
func (e *FilterEngine) Compile(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := e.program(expr)
	return err
}

// Match evaluates the webhook's filter against an event. An empty filter
// matches everything. Evaluation errors are returned so the caller can
// decide the failure mode; the dispatcher fails open.
func (e *FilterEngine) Match(expr, eventType string, data map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	if data == nil {
		data = map[string]any{}
	}

	out, _, err := prg.Eval(map[string]any{
		"type": eventType,
		"data": data,
	})
	if err != nil {
		return false, fmt.Errorf("evaluating filter: %w", err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter did not evaluate to a boolean: %v", out.Value())
	}
	return matched, nil
}

func (e *FilterEngine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()

	return prg, nil
}
