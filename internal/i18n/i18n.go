package i18n

import (
	"embed"
	"fmt"
	"path"
	"strings"

	textembed "modbot/internal/embed"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

type Catalog struct {
	fallback string
	messages map[string]map[string]string
}

// Load reads every bundled locale. fallback is used for languages without
// a catalog and for keys a catalog lacks.
func Load(fallback string) (*Catalog, error) {
	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	catalog := &Catalog{fallback: fallback, messages: make(map[string]map[string]string)}
	for _, entry := range entries {
		raw, err := locales.ReadFile(path.Join("locales", entry.Name()))
		if err != nil {
			return nil, err
		}
		var messages map[string]string
		if err := yaml.Unmarshal(raw, &messages); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", entry.Name(), err)
		}
		catalog.messages[strings.TrimSuffix(entry.Name(), ".yaml")] = messages
	}
	if _, ok := catalog.messages[fallback]; !ok {
		catalog.fallback = "en"
	}
	return catalog, nil
}

func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.messages))
	for lang := range c.messages {
		out = append(out, lang)
	}
	return out
}

// T looks key up for lang and fills in vars. Unknown keys come back as is.
func (c *Catalog) T(lang, key string, vars map[string]any) string {
	message, ok := c.lookup(lang, key)
	if !ok {
		return key
	}
	if len(vars) == 0 {
		return message
	}
	out, err := textembed.Interpolate(message, vars)
	if err != nil {
		return message
	}
	return out
}

func (c *Catalog) lookup(lang, key string) (string, bool) {
	for _, candidate := range []string{lang, baseLanguage(lang), c.fallback} {
		if messages, ok := c.messages[candidate]; ok {
			if message, ok := messages[key]; ok {
				return message, true
			}
		}
	}
	return "", false
}

func baseLanguage(lang string) string {
	if idx := strings.IndexAny(lang, "-_"); idx > 0 {
		return lang[:idx]
	}
	return lang
}
