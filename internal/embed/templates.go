package embed

import (
	_ "embed"
	"fmt"
	"time"

	"modbot/internal/apperr"

	"github.com/bwmarrin/discordgo"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

type Template struct {
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Color       int     `yaml:"color"`
	URL         string  `yaml:"url"`
	Author      string  `yaml:"author"`
	Footer      string  `yaml:"footer"`
	Thumbnail   string  `yaml:"thumbnail"`
	Fields      []Field `yaml:"fields"`
}

type Field struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Inline bool   `yaml:"inline"`
	// Optional fields are dropped when their variables are missing.
	Optional bool `yaml:"optional"`
}

type Catalog struct {
	templates map[string]Template
	colors    map[string]int
}

// Load parses a template catalog. An empty document falls back to the
// templates shipped with the binary.
func Load(raw []byte) (*Catalog, error) {
	if len(raw) == 0 {
		raw = defaultTemplates
	}
	var templates map[string]Template
	if err := yaml.Unmarshal(raw, &templates); err != nil {
		return nil, fmt.Errorf("parse embed templates: %w", err)
	}
	return &Catalog{templates: templates, colors: map[string]int{}}, nil
}

func MustDefault() *Catalog {
	catalog, err := Load(nil)
	if err != nil {
		panic(err)
	}
	return catalog
}

// SetColor overrides the color of a template, usually from config.
func (c *Catalog) SetColor(name string, color int) {
	c.colors[name] = color
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.templates[name]
	return ok
}

// Mount fills the named template with vars.
func (c *Catalog) Mount(name string, vars map[string]any) (*discordgo.MessageEmbed, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return nil, apperr.Newf(apperr.Internal, apperr.NotFound, "Embed template %s does not exist!", name)
	}

	var err error
	out := &discordgo.MessageEmbed{
		Color:     tmpl.Color,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if color, ok := c.colors[name]; ok {
		out.Color = color
	}
	if out.Title, err = Interpolate(tmpl.Title, vars); err != nil {
		return nil, err
	}
	if out.Description, err = Interpolate(tmpl.Description, vars); err != nil {
		return nil, err
	}
	if out.URL, err = Interpolate(tmpl.URL, vars); err != nil {
		return nil, err
	}
	if tmpl.Author != "" {
		author, err := Interpolate(tmpl.Author, vars)
		if err != nil {
			return nil, err
		}
		out.Author = &discordgo.MessageEmbedAuthor{Name: author}
	}
	if tmpl.Footer != "" {
		footer, err := Interpolate(tmpl.Footer, vars)
		if err != nil {
			return nil, err
		}
		out.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	}
	if tmpl.Thumbnail != "" {
		thumbnail, err := Interpolate(tmpl.Thumbnail, vars)
		if err == nil && thumbnail != "" {
			out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: thumbnail}
		}
	}

	for _, field := range tmpl.Fields {
		fieldName, nameErr := Interpolate(field.Name, vars)
		value, valueErr := Interpolate(field.Value, vars)
		if nameErr != nil || valueErr != nil {
			if field.Optional {
				continue
			}
			if nameErr != nil {
				return nil, nameErr
			}
			return nil, valueErr
		}
		if value == "" {
			if field.Optional {
				continue
			}
			value = "-"
		}
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: fieldName, Value: truncate(value, 1024), Inline: field.Inline})
	}
	out.Description = truncate(out.Description, 4096)
	return out, nil
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}
