package rpc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

// Procedure is one callable operation.
type Procedure struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema

	err     error
	install func(s *mcp.Server, t *mcp.Tool)
}

// Tool describes the procedure as an MCP tool.
func (p Procedure) Tool() *mcp.Tool {
	return &mcp.Tool{Name: p.Name, Description: p.Description, InputSchema: p.Schema}
}

// Typed builds a Procedure whose arguments decode into P. Arguments are
// checked against the inferred schema, then against the validate tags of P,
// before fn runs. Errors returned by fn become failed tool results.
func Typed[P any](name, description string, fn func(ctx context.Context, p P) (any, error)) Procedure {
	schema, err := SchemaFor[P]()
	proc := Procedure{Name: name, Description: description, Schema: schema}
	if err != nil {
		proc.err = fmt.Errorf("procedure %s: %w", name, err)
		return proc
	}
	proc.install = func(s *mcp.Server, t *mcp.Tool) {
		mcp.AddTool(s, t, func(ctx context.Context, _ *mcp.CallToolRequest, p P) (*mcp.CallToolResult, any, error) {
			if err := ValidateParams(&p); err != nil {
				return nil, nil, err
			}
			out, err := invoke(ctx, name, p, fn)
			if err != nil {
				return errorResult(err), nil, nil
			}
			if out == nil {
				out = struct{}{}
			}
			return nil, out, nil
		})
	}
	return proc
}

func invoke[P any](ctx context.Context, name string, p P, fn func(context.Context, P) (any, error)) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[rpc] panic in %s: %v\n%s", name, r, debug.Stack())
			err = fmt.Errorf("procedure %s panicked: %v", name, r)
		}
	}()
	return fn(ctx, p)
}

// ValidateParams runs the validate tags of a decoded params struct. Failures
// are -32602 protocol errors listing each offending field.
func ValidateParams(v any) error {
	err := models.Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return invalidParams(fmt.Sprintf("invalid params: %v", err), nil)
	}
	fields := make([]FieldError, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := paramPath(fe.Namespace())
		fields = append(fields, FieldError{Field: field, Rule: fe.Tag(), Param: fe.Param()})
		msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return invalidParams("invalid params: "+strings.Join(msgs, "; "), map[string]any{"fields": fields})
}

// FieldError describes one validation failure in the error data.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// paramPath drops the root struct name from a validator namespace.
func paramPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// Registry is an immutable name → procedure table.
type Registry struct {
	procs map[string]Procedure
	names []string
}

// NewRegistry builds a registry. Empty names, procedures whose schema could
// not be inferred and duplicate names are rejected.
func NewRegistry(procs ...Procedure) (*Registry, error) {
	r := &Registry{procs: make(map[string]Procedure, len(procs))}
	for _, p := range procs {
		if p.Name == "" {
			return nil, errors.New("procedure with empty name")
		}
		if p.err != nil {
			return nil, p.err
		}
		if p.install == nil {
			return nil, fmt.Errorf("procedure %s has no handler", p.Name)
		}
		if _, dup := r.procs[p.Name]; dup {
			return nil, fmt.Errorf("duplicate procedure %s", p.Name)
		}
		r.procs[p.Name] = p
		r.names = append(r.names, p.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the procedure registered under name.
func (r *Registry) Lookup(name string) (Procedure, bool) {
	p, ok := r.procs[name]
	return p, ok
}

// List returns every procedure sorted by name.
func (r *Registry) List() []Procedure {
	out := make([]Procedure, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.procs[name])
	}
	return out
}

// Len returns the number of registered procedures.
func (r *Registry) Len() int {
	return len(r.names)
}

// install adds every procedure to s as a tool.
func (r *Registry) install(s *mcp.Server) {
	for _, p := range r.List() {
		p.install(s, p.Tool())
	}
}
