// Package i18n renders localized messages for error codes returned over
// gRPC.
package i18n

import (
	"strings"
	"sync"
	"text/template"

	i18ncatalog "github.com/louisbranch/taskescrow/internal/platform/i18n/catalog"
)

// Code is an error code name such as "DeadlinePassed".
type Code = string

// Catalog holds the compiled "errors" namespace for one locale.
type Catalog struct {
	locale    string
	raw       map[Code]string
	templates map[Code]*template.Template
}

var (
	catalogsMu sync.Mutex
	catalogs   = map[string]*Catalog{}
)

// GetCatalog returns the catalog closest to locale, falling back to the base
// locale. Catalogs are compiled once per resolved locale.
func GetCatalog(locale string) *Catalog {
	requested := strings.TrimSpace(locale)
	if requested == "" {
		requested = i18ncatalog.BaseLocale
	}

	catalogsMu.Lock()
	defer catalogsMu.Unlock()
	if c, ok := catalogs[requested]; ok {
		return c
	}
	resolved, messages := i18ncatalog.Default().NamespaceMessagesWithFallback(requested, "errors")
	c, ok := catalogs[resolved]
	if !ok {
		c = NewCatalog(resolved, messages)
		catalogs[resolved] = c
	}
	catalogs[requested] = c
	return c
}

// NewCatalog compiles messages for locale. Messages that are not valid
// templates are kept and rendered verbatim.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	c := &Catalog{
		locale:    locale,
		raw:       make(map[Code]string, len(messages)),
		templates: make(map[Code]*template.Template, len(messages)),
	}
	for code, text := range messages {
		c.raw[code] = text
		if tmpl, err := template.New(code).Parse(text); err == nil {
			c.templates[code] = tmpl
		}
	}
	return c
}

// Locale is the locale the catalog was resolved to.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message for code with metadata as template data. An
// unknown code renders as itself.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	text, ok := c.raw[code]
	if !ok {
		return code
	}
	tmpl, ok := c.templates[code]
	if !ok {
		return text
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, metadata); err != nil {
		return text
	}
	return b.String()
}

// ResolveLocale picks the supported locale closest to an Accept-Language value.
func ResolveLocale(acceptLanguage string) string {
	return i18ncatalog.Default().Match(acceptLanguage)
}
