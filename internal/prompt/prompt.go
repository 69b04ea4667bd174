// Package prompt loads and renders prompt templates from YAML files.
//
// Each template declares a system role, an instruction body with {name} and
// {name_json} placeholders, the tools the agent may call, and an optional
// JSON schema for the expected response. Templates are cached after first
// load; an optional fsnotify watcher invalidates the cache on file changes.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound indicates the named prompt file does not exist.
	ErrNotFound = errors.New("prompt not found")

	// ErrInvalidTemplate indicates the prompt YAML could not be parsed.
	ErrInvalidTemplate = errors.New("invalid prompt template")
)

// DefaultResponseType is assumed when a template omits response_type.
const DefaultResponseType = "JSON"

// Variable describes a placeholder a template expects at render time.
type Variable struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Schema      map[string]any `yaml:"schema" json:"schema,omitempty"`
}

// Template is a loaded prompt definition.
type Template struct {
	Version        string         `yaml:"version" json:"version"`
	PromptType     string         `yaml:"prompt_type" json:"prompt_type"`
	Role           string         `yaml:"role" json:"role"`
	Instruction    string         `yaml:"instruction" json:"instruction"`
	Variables      []Variable     `yaml:"variables" json:"variables,omitempty"`
	Tools          []string       `yaml:"tools" json:"tools,omitempty"`
	ResponseType   string         `yaml:"response_type" json:"response_type"`
	ResponseSchema map[string]any `yaml:"response_schema" json:"response_schema,omitempty"`
}

// Info is the metadata exposed by the prompts listing endpoint.
type Info struct {
	Key          string   `json:"key"`
	Version      string   `json:"version"`
	PromptType   string   `json:"prompt_type"`
	Tools        []string `json:"tools,omitempty"`
	Variables    []string `json:"variables,omitempty"`
	ResponseType string   `json:"response_type"`
}

// Loader reads prompt templates from a directory and caches them.
// Safe for concurrent use.
type Loader struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Template
}

// NewLoader creates a loader for the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:   dir,
		cache: make(map[string]*Template),
	}
}

// Dir returns the directory the loader reads from.
func (l *Loader) Dir() string {
	return l.dir
}

// templateExts are the file extensions the loader discovers, in lookup
// preference order.
var templateExts = []string{".yaml", ".yml"}

// trimTemplateExt strips a recognized template extension, if any.
func trimTemplateExt(name string) string {
	for _, ext := range templateExts {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// hasTemplateExt reports whether name carries a recognized extension.
func hasTemplateExt(name string) bool {
	for _, ext := range templateExts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Load returns the template for key, reading and caching it on first use.
// The key may be given with or without the .yaml/.yml extension; on disk
// a .yaml file wins over a .yml file of the same key.
func (l *Loader) Load(key string) (*Template, error) {
	key = trimTemplateExt(key)

	l.mu.RLock()
	if tpl, ok := l.cache[key]; ok {
		l.mu.RUnlock()
		return tpl, nil
	}
	l.mu.RUnlock()

	var data []byte
	err := os.ErrNotExist
	for _, ext := range templateExts {
		data, err = os.ReadFile(filepath.Join(l.dir, key+ext))
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading prompt %s: %w", key, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	tpl, err := parseTemplate(key, data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[key] = tpl
	l.mu.Unlock()

	return tpl, nil
}

// List returns metadata for every .yaml/.yml template in the directory,
// sorted by key. Files that fail to parse are skipped; listing is a
// discovery surface, not a validation pass.
func (l *Loader) List() ([]Info, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("reading prompt directory %s: %w", l.dir, err)
	}

	var infos []Info
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !hasTemplateExt(entry.Name()) {
			continue
		}
		key := trimTemplateExt(entry.Name())
		if seen[key] {
			continue
		}
		seen[key] = true
		tpl, err := l.Load(key)
		if err != nil {
			continue
		}

		names := make([]string, 0, len(tpl.Variables))
		for _, v := range tpl.Variables {
			names = append(names, v.Name)
		}
		infos = append(infos, Info{
			Key:          key,
			Version:      tpl.Version,
			PromptType:   tpl.PromptType,
			Tools:        tpl.Tools,
			Variables:    names,
			ResponseType: tpl.ResponseType,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Invalidate drops the cached template for key, forcing a reload on next use.
func (l *Loader) Invalidate(key string) {
	key = trimTemplateExt(key)
	l.mu.Lock()
	delete(l.cache, key)
	l.mu.Unlock()
}

// ClearCache drops all cached templates.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*Template)
	l.mu.Unlock()
}

func parseTemplate(key string, data []byte) (*Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, key, err)
	}

	if tpl.Version == "" {
		tpl.Version = "0.1.0"
	}
	if tpl.PromptType == "" {
		tpl.PromptType = key
	}
	if tpl.ResponseType == "" {
		tpl.ResponseType = DefaultResponseType
	}
	tpl.Role = strings.TrimSpace(tpl.Role)
	tpl.Instruction = strings.TrimSpace(tpl.Instruction)

	return &tpl, nil
}

// placeholderRe matches {name} and {name_json} placeholders.
var placeholderRe = regexp.MustCompile(`\{(\w+?)(_json)?\}`)

// Render substitutes variables into the template and returns the system
// prompt (the role) and the rendered user prompt (the instruction).
//
// Substitution rules:
//   - {name_json} inserts the value as indented JSON, or "null" when missing
//   - {name} inserts scalars via fmt, maps and slices as compact JSON, and
//     the empty string when missing
func (t *Template) Render(vars map[string]any) (system, user string) {
	system = t.Role
	user = placeholderRe.ReplaceAllStringFunc(t.Instruction, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		name, asJSON := sub[1], sub[2] != ""

		value, ok := vars[name]
		if asJSON {
			if !ok || value == nil {
				return "null"
			}
			out, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return "null"
			}
			return string(out)
		}

		if !ok || value == nil {
			return ""
		}
		switch v := value.(type) {
		case string:
			return v
		case map[string]any, []any:
			out, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(out)
		default:
			return fmt.Sprintf("%v", v)
		}
	})
	return system, user
}

// MissingVariables returns declared variable names absent from vars.
// Useful for request validation before an expensive agent run.
func (t *Template) MissingVariables(vars map[string]any) []string {
	var missing []string
	for _, v := range t.Variables {
		if _, ok := vars[v.Name]; !ok {
			missing = append(missing, v.Name)
		}
	}
	return missing
}
