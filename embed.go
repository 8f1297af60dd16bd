// Package agixtweb embeds the web assets of the AGiXT chat UI.
package agixtweb

import "embed"

// TemplateFS contains the HTML templates of the chat UI, split into layouts, pages and partials.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the scripts and stylesheets served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
