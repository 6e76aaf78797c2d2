// Package prompts renders the model prompts. Templates ship embedded and can be
// overridden by pointing PROMPTS_FILE at a YAML file with the same shape.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var embedded []byte

const (
	Route     = "route"
	Extract   = "extract"
	Rewrite   = "rewrite"
	Answer    = "answer"
	Aggregate = "aggregate"
	Fallback  = "fallback"
	Evaluate  = "evaluate"
)

var required = []string{Route, Extract, Rewrite, Answer, Aggregate, Fallback, Evaluate}

type entry struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type pair struct {
	system *template.Template
	user   *template.Template
}

// Library holds parsed templates keyed by prompt name.
type Library struct {
	byName map[string]pair
}

// Default parses the embedded templates or PROMPTS_FILE when set.
func Default() (*Library, error) {
	if p := os.Getenv("PROMPTS_FILE"); p != "" {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read prompts: %w", err)
		}
		return Parse(data)
	}
	return Parse(embedded)
}

func Parse(data []byte) (*Library, error) {
	var raw map[string]entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	lib := &Library{byName: make(map[string]pair, len(raw))}
	for name, e := range raw {
		sys, err := template.New(name + ".system").Option("missingkey=error").Parse(e.System)
		if err != nil {
			return nil, fmt.Errorf("prompt %s system: %w", name, err)
		}
		usr, err := template.New(name + ".user").Option("missingkey=error").Parse(e.User)
		if err != nil {
			return nil, fmt.Errorf("prompt %s user: %w", name, err)
		}
		lib.byName[name] = pair{system: sys, user: usr}
	}
	for _, name := range required {
		if _, ok := lib.byName[name]; !ok {
			return nil, fmt.Errorf("prompt %s missing", name)
		}
	}
	return lib, nil
}

// Render returns the system and user text for name.
func (l *Library) Render(name string, data map[string]any) (string, string, error) {
	p, ok := l.byName[name]
	if !ok {
		return "", "", fmt.Errorf("unknown prompt %s", name)
	}
	var sys, usr bytes.Buffer
	if err := p.system.Execute(&sys, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	if err := p.user.Execute(&usr, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return sys.String(), usr.String(), nil
}
