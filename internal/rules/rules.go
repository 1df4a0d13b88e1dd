// Package rules compiles Starlark expressions into pin predicates, so that
// clients can select or filter pins with conditions such as
//
//	pin.status == "Open" and "flashing" in pin.tags
package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"smartpin/api/internal/canvas"
)

const (
	maxExprLength = 1024
	maxSteps      = 10000
	threadName    = "pin-rule"
)

var ErrEmptyExpression = errors.New("rule expression is empty")

// Rule is a compiled predicate. It is safe for concurrent use.
type Rule struct {
	expr string
	fn   *starlark.Function

	mu  sync.Mutex
	err error
}

// Compile checks expr and prepares it for evaluation against pins.
func Compile(expr string) (*Rule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrEmptyExpression
	}
	if len(expr) > maxExprLength {
		return nil, fmt.Errorf("rule expression longer than %d bytes", maxExprLength)
	}
	if strings.ContainsAny(expr, "\r\n") {
		return nil, errors.New("rule expression must be a single line")
	}

	script := "def match(pin):\n    return (" + expr + ")\n"
	thread := newThread()
	globals, err := starlark.ExecFile(thread, threadName, script, starlark.StringDict{})
	if err != nil {
		return nil, fmt.Errorf("compile rule: %w", err)
	}
	fn, ok := globals["match"].(*starlark.Function)
	if !ok {
		return nil, errors.New("compile rule: predicate not defined")
	}
	return &Rule{expr: expr, fn: fn}, nil
}

func newThread() *starlark.Thread {
	thread := &starlark.Thread{Name: threadName, Print: func(_ *starlark.Thread, _ string) {}}
	thread.SetMaxExecutionSteps(maxSteps)
	return thread
}

func (r *Rule) String() string {
	return r.expr
}

// Match evaluates the rule for pin. Evaluation errors count as no match and
// are kept for Err.
func (r *Rule) Match(pin canvas.Pin) bool {
	result, err := starlark.Call(newThread(), r.fn, starlark.Tuple{pinValue(pin)}, nil)
	if err != nil {
		r.mu.Lock()
		if r.err == nil {
			r.err = fmt.Errorf("evaluate rule on pin %s: %w", pin.ID, err)
		}
		r.mu.Unlock()
		return false
	}
	return bool(result.Truth())
}

// Err returns the first evaluation error seen by Match, if any.
func (r *Rule) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Filter returns the pins matching r, in order.
func (r *Rule) Filter(pins []canvas.Pin) []canvas.Pin {
	out := []canvas.Pin{}
	for _, pin := range pins {
		if r.Match(pin) {
			out = append(out, pin)
		}
	}
	return out
}

func pinValue(pin canvas.Pin) starlark.Value {
	tags := make([]starlark.Value, 0, len(pin.Metadata.Tags))
	for _, tag := range pin.Metadata.Tags {
		tags = append(tags, starlark.String(tag))
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":        starlark.String(pin.ID),
		"layer_id":  starlark.String(pin.LayerID),
		"kind":      starlark.String(string(pin.Kind)),
		"x":         starlark.Float(pin.Position.X),
		"y":         starlark.Float(pin.Position.Y),
		"title":     starlark.String(pin.Title),
		"status":    starlark.String(string(pin.Status)),
		"priority":  starlark.String(string(pin.Metadata.Priority)),
		"tags":      starlark.NewList(tags),
		"assignee":  starlark.String(pin.Metadata.Assignee),
		"parent_id": starlark.String(pin.ParentID),
	})
}
