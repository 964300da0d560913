package web

import "embed"

// Templates embeds the document artifact templates.
//
//go:embed templates/partials/*.html templates/documents/*.html
var Templates embed.FS
