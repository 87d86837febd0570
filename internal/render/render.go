// Package render turns service definitions into unit file content.
package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"text/template"

	"golang.org/x/sync/errgroup"
)

// ErrTemplateNotFound is wrapped by Error when the template file is missing.
var ErrTemplateNotFound = errors.New("template not found")

// Error reports a failure to render a unit from its template
type Error struct {
	Template string
	Unit     string
	Err      error
}

func (e *Error) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("render template %s: %v", e.Template, e.Err)
	}
	return fmt.Sprintf("render %s from template %s: %v", e.Unit, e.Template, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Renderer produces unit file text from a named template and its variables.
// Implementations must be safe for concurrent use.
type Renderer interface {
	Render(templateName string, variables map[string]string) (string, error)
}

// Spec is one desired unit: the template to render and the variables to
// render it with.
type Spec struct {
	Template  string
	Unit      string
	Variables map[string]string
}

// Unit is a rendered unit file
type Unit struct {
	Name        string
	Template    string
	Content     string
	ContentHash string
}

// Hash returns the hex-encoded SHA256 digest of unit content
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// NewUnit builds a rendered unit and computes its content hash
func NewUnit(name, templateName, content string) Unit {
	return Unit{
		Name:        name,
		Template:    templateName,
		Content:     content,
		ContentHash: Hash([]byte(content)),
	}
}

// TemplateRenderer renders Go text/template files from a directory.
// Referencing a variable that is not provided is an error.
type TemplateRenderer struct {
	dir string
}

// NewTemplateRenderer creates a renderer reading templates from dir
func NewTemplateRenderer(dir string) *TemplateRenderer {
	return &TemplateRenderer{dir: dir}
}

// Dir returns the templates directory
func (r *TemplateRenderer) Dir() string {
	return r.dir
}

// Render reads templateName from the templates directory and executes it.
// Variables are available both as fields ({{ .port }}) and through the
// required helper ({{ required "port" }}).
func (r *TemplateRenderer) Render(templateName string, variables map[string]string) (string, error) {
	path, err := r.templatePath(templateName)
	if err != nil {
		return "", &Error{Template: templateName, Err: err}
	}

	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &Error{Template: templateName, Err: fmt.Errorf("%w: %s", ErrTemplateNotFound, path)}
		}
		return "", &Error{Template: templateName, Err: err}
	}

	vars := variables
	if vars == nil {
		vars = map[string]string{}
	}

	tmpl, err := template.New(templateName).
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"required": func(name string) (string, error) {
				v, ok := vars[name]
				if !ok || v == "" {
					return "", fmt.Errorf("variable %q is required", name)
				}
				return v, nil
			},
			"default": func(def, value string) string {
				if value == "" {
					return def
				}
				return value
			},
			"quote": func(s string) string {
				return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
			},
			"lookup": func(name string) string {
				return vars[name]
			},
		}).
		Parse(string(src))
	if err != nil {
		return "", &Error{Template: templateName, Err: fmt.Errorf("failed to parse template: %w", err)}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", &Error{Template: templateName, Err: fmt.Errorf("failed to execute template: %w", err)}
	}

	return buf.String(), nil
}

// templatePath resolves a template name inside the templates directory,
// rejecting names that escape it.
func (r *TemplateRenderer) templatePath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("template name is empty")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("template name %q must be relative to the templates directory", name)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("template name %q escapes the templates directory", name)
	}
	return filepath.Join(r.dir, clean), nil
}

// RenderAll renders every spec, in parallel, and returns the units sorted by
// name. The first failure cancels the remaining work and is returned as an
// *Error naming the unit.
func RenderAll(ctx context.Context, r Renderer, specs []Spec) ([]Unit, error) {
	units := make([]Unit, len(specs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, spec := range specs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			content, err := r.Render(spec.Template, spec.Variables)
			if err != nil {
				var rErr *Error
				if errors.As(err, &rErr) {
					return &Error{Template: spec.Template, Unit: spec.Unit, Err: rErr.Err}
				}
				return &Error{Template: spec.Template, Unit: spec.Unit, Err: err}
			}
			units[i] = NewUnit(spec.Unit, spec.Template, content)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(units, func(a, b Unit) int {
		return strings.Compare(a.Name, b.Name)
	})
	return units, nil
}
