package view

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/docflow/docflow/web"
)

// Engine renders the embedded document templates.
type Engine struct {
	templates *template.Template
}

// NewEngine parses the embedded templates.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"formatDay": func(t time.Time) string {
			if t.IsZero() {
				return "TBA"
			}
			return t.Format("02 Jan 2006")
		},
		"formatMoney": func(d decimal.Decimal) string {
			return "PHP " + d.StringFixedBank(2)
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/partials/*.html", "templates/documents/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Has reports whether a template with the given name is defined.
func (e *Engine) Has(name string) bool {
	return e != nil && e.templates.Lookup(name) != nil
}

// Render executes a named template into w.
func (e *Engine) Render(w io.Writer, name string, data any) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	return e.templates.ExecuteTemplate(w, name, data)
}

// RenderBytes executes a named template and returns the output.
func (e *Engine) RenderBytes(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Render(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
