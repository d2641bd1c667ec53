// Package transmuter implements the wfexternal.Transmuter contract: Go
// template rendering and a jq-dialect JSON filter, both grounded on the
// teacher's internal/render and internal/service/workflow/goja.go.
package transmuter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"
	"github.com/rytsh/mugo/fstore"
	_ "github.com/rytsh/mugo/fstore/registry"
	"github.com/rytsh/mugo/templatex"

	"github.com/rakunlabs/loom/internal/wfexternal"
)

// VarLookup resolves an operator-configured named variable (secret or
// plain) for use inside templates and filters, e.g. `{{ var "jira_token"
// }}`. Grounded on workflow.Registry.VarLookup in the teacher.
type VarLookup func(key string) (string, error)

// VarLister enumerates the non-secret variable names available to an
// operator-facing surface; secret variables are listable by name only,
// never by value.
type VarLister func() []string

// Transmuter renders mugo templates and runs goja-backed JSON filters.
type Transmuter struct {
	lookup VarLookup
	lister VarLister
}

// New builds a Transmuter. lookup/lister may be nil when no variable
// store is configured; a template calling var then fails with an error
// naming the key, and filters run without a getVar binding, so a filter
// that calls getVar fails with a script error. Neither panics.
func New(lookup VarLookup, lister VarLister) *Transmuter {
	return &Transmuter{lookup: lookup, lister: lister}
}

var _ wfexternal.Transmuter = (*Transmuter)(nil)

// RenderTemplate renders a Go template using mugo's templatex engine and
// function map, matching internal/render.ExecuteWithFuncs in the teacher.
func (t *Transmuter) RenderTemplate(_ context.Context, text string, vars map[string]any) (string, error) {
	tpl := templatex.New(
		templatex.WithAddFuncMapWithOpts(func(o templatex.Option) map[string]any {
			return fstore.FuncMap(
				fstore.WithLog(slog.Default()),
				fstore.WithTrust(true),
				fstore.WithExecuteTemplate(o.T),
			)
		}),
		templatex.WithAddFuncMap(t.varFuncMap()),
	)

	var buf bytes.Buffer
	if err := tpl.Execute(
		templatex.WithIO(&buf),
		templatex.WithContent(text),
		templatex.WithData(vars),
	); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}

	return buf.String(), nil
}

func (t *Transmuter) varFuncMap() map[string]any {
	return map[string]any{
		"var": func(key string) (string, error) {
			if t.lookup == nil {
				return "", fmt.Errorf("var %q: no variable lookup configured", key)
			}
			return t.lookup(key)
		},
	}
}

// Vars returns the non-secret variable names visible to templates/filters.
func (t *Transmuter) Vars() []string {
	if t.lister == nil {
		return nil
	}
	return t.lister()
}

// gojaFilter is a compiled JS program evaluated against an `input`
// binding, standing in for the jq dialect the teacher's nodes dispatch
// through goja (see nodes/conditional.go, goja.go).
type gojaFilter struct {
	program *goja.Program
	t       *Transmuter
}

// InitFilter compiles text as a JS expression/program. The program reads
// the bound `input` value and returns the transformed result; this is
// the engine's jq-dialect per spec.md §6 Transmuter.init_filter.
func (t *Transmuter) InitFilter(_ context.Context, text string) (wfexternal.Filter, error) {
	program, err := goja.Compile("filter", text, true)
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return &gojaFilter{program: program, t: t}, nil
}

func (f *gojaFilter) Run(_ context.Context, input any) (out any, err error) {
	vm := goja.New()
	if err := registerHelpers(vm); err != nil {
		return nil, err
	}
	if f.t != nil && f.t.lookup != nil {
		lookup := f.t.lookup
		if err := vm.Set("getVar", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				panic(vm.NewTypeError("getVar: key is required"))
			}
			val, lerr := lookup(call.Arguments[0].String())
			if lerr != nil {
				panic(vm.NewTypeError(fmt.Sprintf("getVar: %v", lerr)))
			}
			return vm.ToValue(val)
		}); err != nil {
			return nil, err
		}
	}
	if err := vm.Set("input", input); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			if gerr, ok := r.(*goja.Exception); ok {
				err = fmt.Errorf("run filter: %w", gerr)
				return
			}
			err = fmt.Errorf("run filter: %v", r)
		}
	}()

	v, rerr := vm.RunProgram(f.program)
	if rerr != nil {
		return nil, fmt.Errorf("run filter: %w", rerr)
	}
	return v.Export(), nil
}
