// Package msgcat renders notification text from YAML template catalogs.
package msgcat

import (
    "embed"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "text/template"

    yaml "gopkg.in/yaml.v3"
)

const defaultFile = "messages.en.yaml"

//go:embed messages.en.yaml
var defaultFiles embed.FS

// Catalog holds parsed templates keyed by dotted path ("match.timeout").
// Embedded defaults load first; files in an override directory replace
// individual keys.
type Catalog struct {
    mu     sync.RWMutex
    tpls   map[string]*template.Template
    origin map[string]string // key → file that defined it
}

func New(overrideDir string) (*Catalog, error) {
    c := &Catalog{tpls: make(map[string]*template.Template), origin: make(map[string]string)}
    raw, err := defaultFiles.ReadFile(defaultFile)
    if err != nil {
        return nil, fmt.Errorf("read embedded messages: %w", err)
    }
    entries, err := decode(defaultFile, raw)
    if err != nil {
        return nil, err
    }
    if err := c.install(defaultFile, entries); err != nil {
        return nil, err
    }
    if dir := strings.TrimSpace(overrideDir); dir != "" {
        if err := c.overlay(dir); err != nil {
            return nil, err
        }
    }
    return c, nil
}

// overlay applies every *.yaml / *.yml file in dir in name order. Two
// override files defining the same key is a configuration error.
func (c *Catalog) overlay(dir string) error {
    names, err := yamlFiles(dir)
    if err != nil {
        return err
    }
    claimed := make(map[string]string)
    for _, name := range names {
        raw, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil {
            return fmt.Errorf("read %s: %w", name, err)
        }
        entries, err := decode(name, raw)
        if err != nil {
            return err
        }
        for k := range entries {
            if prev, dup := claimed[k]; dup {
                return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
            }
            claimed[k] = name
        }
        if err := c.install(name, entries); err != nil {
            return err
        }
    }
    return nil
}

func yamlFiles(dir string) ([]string, error) {
    list, err := os.ReadDir(dir)
    if err != nil {
        return nil, fmt.Errorf("read template dir: %w", err)
    }
    var names []string
    for _, e := range list {
        if e.IsDir() { continue }
        switch strings.ToLower(filepath.Ext(e.Name())) {
        case ".yaml", ".yml":
            names = append(names, e.Name())
        }
    }
    sort.Strings(names)
    return names, nil
}

// install parses all templates first so a bad file changes nothing.
func (c *Catalog) install(file string, entries map[string]string) error {
    parsed := make(map[string]*template.Template, len(entries))
    for k, text := range entries {
        t, err := template.New(k).Option("missingkey=error").Parse(text)
        if err != nil { return fmt.Errorf("%s: template %s: %w", file, k, err) }
        parsed[k] = t
    }
    c.mu.Lock()
    defer c.mu.Unlock()
    for k, t := range parsed {
        c.tpls[k] = t
        c.origin[k] = file
    }
    return nil
}

// decode walks the YAML document and collects string leaves under their
// dotted path. Non-string scalars and sequences are rejected.
func decode(file string, raw []byte) (map[string]string, error) {
    var doc yaml.Node
    if err := yaml.Unmarshal(raw, &doc); err != nil {
        return nil, fmt.Errorf("parse %s: %w", file, err)
    }
    out := make(map[string]string)
    if doc.Kind == 0 || len(doc.Content) == 0 {
        return out, nil
    }
    if err := walk(doc.Content[0], "", out); err != nil {
        return nil, fmt.Errorf("parse %s: %w", file, err)
    }
    return out, nil
}

func walk(n *yaml.Node, prefix string, out map[string]string) error {
    switch n.Kind {
    case yaml.MappingNode:
        for i := 0; i+1 < len(n.Content); i += 2 {
            k := n.Content[i].Value
            if prefix != "" { k = prefix + "." + k }
            if err := walk(n.Content[i+1], k, out); err != nil { return err }
        }
        return nil
    case yaml.ScalarNode:
        if prefix == "" {
            return fmt.Errorf("line %d: value without key", n.Line)
        }
        tag := n.ShortTag()
        if tag == "!!null" { return nil }
        if tag != "!!str" {
            return fmt.Errorf("line %d: %s must be a string, got %s", n.Line, prefix, tag)
        }
        out[prefix] = n.Value
        return nil
    default:
        return fmt.Errorf("line %d: unsupported node at %q", n.Line, prefix)
    }
}

// Has reports whether key is defined.
func (c *Catalog) Has(key string) bool {
    c.mu.RLock()
    defer c.mu.RUnlock()
    _, ok := c.tpls[strings.TrimSpace(key)]
    return ok
}

// Missing returns the keys from want that the catalog does not define.
func (c *Catalog) Missing(want ...string) []string {
    var out []string
    for _, k := range want {
        if !c.Has(k) { out = append(out, k) }
    }
    return out
}

// Source names the file a key was last loaded from.
func (c *Catalog) Source(key string) string {
    c.mu.RLock()
    defer c.mu.RUnlock()
    return c.origin[strings.TrimSpace(key)]
}

// Render executes the template for key. Missing keys in data are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
    c.mu.RLock()
    t, ok := c.tpls[strings.TrimSpace(key)]
    c.mu.RUnlock()
    if !ok {
        return "", fmt.Errorf("template not found: %s", key)
    }
    var b strings.Builder
    if err := t.Execute(&b, data); err != nil { return "", err }
    return b.String(), nil
}
