// Package catalog loads the locale message files embedded in the binary.
//
// Files live at locales/<locale>/<namespace>.yaml and declare both values
// again in their body so a misplaced file fails to load.
package catalog

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// BaseLocale is the locale every other locale falls back to.
const BaseLocale = "en-US"

const catalogGlob = "locales/*/*.yaml"

//go:embed locales/*/*.yaml
var embedded embed.FS

var defaultBundle = func() *Bundle {
	b, err := LoadEmbedded()
	if err != nil {
		panic(err)
	}
	return b
}()

// Bundle holds messages by locale, then namespace, then key.
type Bundle struct {
	messages map[string]map[string]map[string]string
	// tags is ordered like Locales so matcher indexes resolve into it.
	tags    []language.Tag
	matcher language.Matcher
}

type file struct {
	Locale    string            `yaml:"locale"`
	Namespace string            `yaml:"namespace"`
	Messages  map[string]string `yaml:"messages"`
}

// Default returns the bundle compiled into the binary.
func Default() *Bundle {
	return defaultBundle
}

// LoadEmbedded parses the embedded catalogs.
func LoadEmbedded() (*Bundle, error) {
	return LoadFromFS(embedded)
}

// LoadFromFS parses every catalog under locales/ in fsys. The base locale
// must be present.
func LoadFromFS(fsys fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(fsys, catalogGlob)
	if err != nil {
		return nil, fmt.Errorf("glob catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, errors.New("no catalog files found")
	}
	slices.Sort(paths)

	b := &Bundle{messages: map[string]map[string]map[string]string{}}
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		f, err := decode(p, data)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", p, err)
		}
		namespaces := b.messages[f.Locale]
		if namespaces == nil {
			namespaces = map[string]map[string]string{}
			b.messages[f.Locale] = namespaces
		}
		namespaces[f.Namespace] = f.Messages
	}
	if !b.HasLocale(BaseLocale) {
		return nil, fmt.Errorf("base locale %s has no catalogs", BaseLocale)
	}

	for _, locale := range b.Locales() {
		b.tags = append(b.tags, language.MustParse(locale))
	}
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

// decode parses one catalog file and checks it against its path. Unknown
// top-level fields and duplicate keys are rejected.
func decode(p string, data []byte) (file, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return file{}, fmt.Errorf("decode yaml: %w", err)
	}

	f.Locale = strings.TrimSpace(f.Locale)
	f.Namespace = strings.TrimSpace(f.Namespace)
	wantLocale := path.Base(path.Dir(p))
	wantNamespace := strings.TrimSuffix(path.Base(p), path.Ext(p))
	switch {
	case f.Locale != wantLocale:
		return file{}, fmt.Errorf("locale %q does not match directory %q", f.Locale, wantLocale)
	case f.Namespace != wantNamespace:
		return file{}, fmt.Errorf("namespace %q does not match file name %q", f.Namespace, wantNamespace)
	case len(f.Messages) == 0:
		return file{}, errors.New("no messages")
	}
	if _, err := language.Parse(f.Locale); err != nil {
		return file{}, fmt.Errorf("locale tag %q: %w", f.Locale, err)
	}

	messages := make(map[string]string, len(f.Messages))
	for key, value := range f.Messages {
		key = strings.TrimSpace(key)
		if key == "" {
			return file{}, errors.New("blank message key")
		}
		messages[key] = value
	}
	f.Messages = messages
	return f, nil
}

// HasLocale reports whether any catalog was loaded for locale.
func (b *Bundle) HasLocale(locale string) bool {
	if b == nil {
		return false
	}
	_, ok := b.messages[strings.TrimSpace(locale)]
	return ok
}

// Locales lists the loaded locales, BaseLocale first and the rest sorted.
func (b *Bundle) Locales() []string {
	if b == nil {
		return nil
	}
	others := slices.Sorted(maps.Keys(b.messages))
	others = slices.DeleteFunc(others, func(l string) bool { return l == BaseLocale })
	return append([]string{BaseLocale}, others...)
}

// Match resolves an Accept-Language value to the closest loaded locale.
// Unparseable or unsupported input resolves to BaseLocale.
func (b *Bundle) Match(acceptLanguage string) string {
	if b == nil || b.matcher == nil {
		return BaseLocale
	}
	value := strings.TrimSpace(acceptLanguage)
	if value == "" {
		return BaseLocale
	}
	desired, _, err := language.ParseAcceptLanguage(value)
	if err != nil || len(desired) == 0 {
		return BaseLocale
	}
	_, index, confidence := b.matcher.Match(desired...)
	if confidence == language.No {
		return BaseLocale
	}
	return b.tags[index].String()
}

// NamespaceMessages returns a copy of one namespace for an exact locale, or
// an empty map.
func (b *Bundle) NamespaceMessages(locale, namespace string) map[string]string {
	if b == nil {
		return map[string]string{}
	}
	messages := b.messages[strings.TrimSpace(locale)][strings.TrimSpace(namespace)]
	if messages == nil {
		return map[string]string{}
	}
	return maps.Clone(messages)
}

// NamespaceMessagesWithFallback is NamespaceMessages falling back to
// BaseLocale. It also returns the locale that supplied the messages.
func (b *Bundle) NamespaceMessagesWithFallback(locale, namespace string) (string, map[string]string) {
	locale = strings.TrimSpace(locale)
	if messages := b.NamespaceMessages(locale, namespace); len(messages) > 0 {
		return locale, messages
	}
	return BaseLocale, b.NamespaceMessages(BaseLocale, namespace)
}
