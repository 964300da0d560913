// Package render turns document payloads into stored artifacts.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/docflow/docflow/internal/view"
)

// ErrUnknownTemplate indicates no template exists for the document type.
var ErrUnknownTemplate = errors.New("render: unknown template")

// PDFConverter converts rendered HTML to PDF.
type PDFConverter interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// Renderer executes the document template and hands the artifact to a Store.
type Renderer struct {
	engine *view.Engine
	pdf    PDFConverter
	store  Store
	logger *slog.Logger
}

// New builds a Renderer. A nil pdf converter stores the HTML as is.
func New(engine *view.Engine, pdf PDFConverter, store Store, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{engine: engine, pdf: pdf, store: store, logger: logger}
}

// RenderTemplate renders the template of docType with data and returns the stored reference.
// When PDF conversion fails the HTML is kept instead.
func (r *Renderer) RenderTemplate(ctx context.Context, docType string, data any) (string, error) {
	name := docType + ".html"
	if !r.engine.Has(name) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, docType)
	}
	html, err := r.engine.RenderBytes(name, data)
	if err != nil {
		return "", fmt.Errorf("render: execute %s: %w", name, err)
	}

	content, ext, contentType := html, ".html", "text/html; charset=utf-8"
	if r.pdf != nil {
		pdf, err := r.pdf.RenderHTML(ctx, html)
		if err != nil {
			r.logger.Warn("pdf conversion failed, storing html", slog.String("doc_type", docType), slog.Any("error", err))
		} else {
			content, ext, contentType = pdf, ".pdf", "application/pdf"
		}
	}
	if r.store == nil {
		return "", errors.New("render: no artifact store")
	}
	return r.store.Put(ctx, docType+"/"+uuid.NewString()+ext, content, contentType)
}
