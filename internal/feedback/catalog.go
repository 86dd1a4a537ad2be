// Package feedback holds every user-facing notice the kiosk can show.
package feedback

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var messagesYAML []byte

// Tone drives the display color and audio cue.
type Tone string

const (
	ToneSuccess Tone = "success"
	ToneInfo    Tone = "info"
	ToneWarning Tone = "warning"
	ToneError   Tone = "error"
)

// Notice is a rendered message.
type Notice struct {
	Key         string        `json:"key"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Tone        Tone          `json:"tone"`
	Duration    time.Duration `json:"duration"`
}

type entry struct {
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Tone        Tone          `yaml:"tone"`
	Duration    time.Duration `yaml:"duration"`
}

// Catalog maps notice keys to templates.
type Catalog struct {
	entries map[string]entry
}

// Default parses the embedded messages.
func Default() (*Catalog, error) {
	return Parse(messagesYAML)
}

// MustDefault is Default for package init paths.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse reads a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var entries map[string]entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	for k, e := range entries {
		if e.Title == "" {
			return nil, fmt.Errorf("message %q has no title", k)
		}
		if e.Tone == "" {
			e.Tone = ToneInfo
			entries[k] = e
		}
	}
	return &Catalog{entries: entries}, nil
}

// Has reports whether key exists.
func (c *Catalog) Has(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// Keys returns the sorted catalog keys.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Notice renders key with data. Only placeholders present in data are replaced.
// Unknown keys render as a generic error carrying the key itself.
func (c *Catalog) Notice(key string, data map[string]string) Notice {
	e, ok := c.entries[key]
	if !ok {
		return Notice{Key: key, Title: "Error", Description: key, Tone: ToneError, Duration: 5 * time.Second}
	}
	return Notice{
		Key:         key,
		Title:       expand(e.Title, data),
		Description: expand(e.Description, data),
		Tone:        e.Tone,
		Duration:    e.Duration,
	}
}

func expand(s string, data map[string]string) string {
	if len(data) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
