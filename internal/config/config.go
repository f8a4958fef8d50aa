// Package config loads the per-node configuration (spec.md §6): a
// multi-format (JSON/YAML/XML) document with a `$ref` mechanism, overlaid
// on sensible defaults. Grounded on
// sneh-joshi-epochq/internal/config/config.go's Default()+Load()+Validate()
// shape, generalized from YAML-only to the spec's format dispatch.
package config

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root per-node configuration.
type Config struct {
	Network     NetworkConfig `json:"network" yaml:"network"`
	Zk          ZkConfig      `json:"zk" yaml:"zk"`
	ServiceHost string        `json:"service_hosts" yaml:"service_hosts"`
	Modules     []string      `json:"modules" yaml:"modules"`
}

// NetworkConfig controls the Network Boundary.
type NetworkConfig struct {
	WorkerThreads int          `json:"worker_threads" yaml:"worker_threads"`
	Listen        ListenConfig `json:"listen" yaml:"listen"`
}

// ListenConfig is the inbound bind address.
type ListenConfig struct {
	IP   string `json:"ip" yaml:"ip"`
	Port int    `json:"port" yaml:"port"`
}

// ZkConfig controls the coordination-service client.
type ZkConfig struct {
	Hosts            string  `json:"hosts" yaml:"hosts"`
	Root             string  `json:"root" yaml:"root"`
	SessionTimeoutMs int     `json:"session_timeout_ms" yaml:"session_timeout_ms"`
	Auth             *ZkAuth `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// ZkAuth is optional coordination-service credential configuration.
type ZkAuth struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// DefaultConfigPath is the CLI's default config file location.
const DefaultConfigPath = "config/basenode.json"

// Default returns a Config populated with the defaults spec.md §6
// specifies for every option it names.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			WorkerThreads: 1,
			Listen:        ListenConfig{IP: "0.0.0.0", Port: 9527},
		},
		Zk: ZkConfig{
			Root:             "/basenode",
			SessionTimeoutMs: 3000,
		},
	}
}

// Validate checks that the config values are consistent and within
// acceptable ranges, returning the first error found.
func (c *Config) Validate() error {
	if c.Network.Listen.Port < 1 || c.Network.Listen.Port > 65535 {
		return fmt.Errorf("config: network.listen.port must be between 1 and 65535")
	}
	if c.Network.WorkerThreads < 1 {
		return fmt.Errorf("config: network.worker_threads must be at least 1")
	}
	if c.Zk.Hosts == "" {
		return fmt.Errorf("config: zk.hosts must not be empty")
	}
	if c.Zk.Root == "" {
		return fmt.Errorf("config: zk.root must not be empty")
	}
	if c.ServiceHost == "" {
		return fmt.Errorf("config: service_hosts must not be empty")
	}
	return nil
}

// Load reads the config document at path, resolving any `$ref` object
// recursively, and overlays it on Default(). The document's format is
// chosen by file extension: .json, .yaml/.yml, or .xml.
func Load(path string) (*Config, error) {
	raw, err := loadRefResolved(path, newCycleGuard())
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := remarshalInto(stripAttrPrefix(raw), cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", path, err)
	}
	return cfg, nil
}

// stripAttrPrefix drops the "@" XML-attribute marker parseXML adds, so a
// document sourced from XML decodes into Config the same way an
// equivalent JSON or YAML document would. Left to the generic parse/$ref
// functions, which other callers may use on documents with no fixed Go
// schema, to preserve the "@" marker.
func stripAttrPrefix(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[strings.TrimPrefix(k, "@")] = stripAttrPrefix(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripAttrPrefix(val)
		}
		return out
	default:
		return v
	}
}

// remarshalInto re-encodes a generic decoded document (produced by any of
// the three format parsers, all normalized to JSON-shaped
// map[string]any/[]any/scalars) as JSON and decodes it into cfg, letting
// the json tags on Config do the field mapping regardless of which
// format the document originated in.
func remarshalInto(doc any, cfg *Config) error {
	bs, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(bs, cfg)
}

type cycleGuard struct {
	stack map[string]bool
}

func newCycleGuard() *cycleGuard { return &cycleGuard{stack: make(map[string]bool)} }

func (g *cycleGuard) enter(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if g.stack[abs] {
		return fmt.Errorf("config: cyclic $ref through %q", path)
	}
	g.stack[abs] = true
	return nil
}

func (g *cycleGuard) leave(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	delete(g.stack, abs)
}

// loadRefResolved parses path with the format its extension selects, then
// recursively resolves every {"$ref": "other/path"} object it finds,
// substituting the referenced document's parsed contents in place.
func loadRefResolved(path string, guard *cycleGuard) (any, error) {
	if err := guard.enter(path); err != nil {
		return nil, err
	}
	defer guard.leave(path)

	doc, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	return resolveRefs(doc, filepath.Dir(path), guard)
}

func parseFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("config: parse JSON %q: %w", path, err)
		}
		return v, nil
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("config: parse YAML %q: %w", path, err)
		}
		return normalizeYAML(v), nil
	case ".xml":
		v, err := parseXML(data)
		if err != nil {
			return nil, fmt.Errorf("config: parse XML %q: %w", path, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("config: unrecognized format %q", path)
	}
}

// normalizeYAML walks a yaml.v3-decoded value (which uses
// map[string]interface{} for mappings, same as JSON) and coerces nested
// map[interface{}]interface{} values some decoders produce into
// map[string]interface{} so $ref resolution and remarshalInto see a
// uniform shape.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

// resolveRefs walks doc, replacing every {"$ref": "path"} object with the
// parsed (and itself $ref-resolved) contents of path, resolved relative
// to baseDir if not absolute.
func resolveRefs(doc any, baseDir string, guard *cycleGuard) (any, error) {
	switch t := doc.(type) {
	case map[string]any:
		if ref, ok := t["$ref"].(string); ok && len(t) == 1 {
			refPath := ref
			if !filepath.IsAbs(refPath) {
				refPath = filepath.Join(baseDir, refPath)
			}
			return loadRefResolved(refPath, guard)
		}
		out := make(map[string]any, len(t))
		for k, v := range t {
			resolved, err := resolveRefs(v, baseDir, guard)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			resolved, err := resolveRefs(v, baseDir, guard)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return doc, nil
	}
}

// xmlNode is the generic tree xml.Unmarshal can populate without a
// caller-supplied schema: attributes become "@name" keys (the
// conventional XML->JSON attribute-prefix mapping), element text becomes
// "#text", and repeated child element names collapse into a slice.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  []byte     `xml:",innerxml"`
	Text     string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func parseXML(data []byte) (any, error) {
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	return xmlNodeToValue(root), nil
}

func xmlNodeToValue(n xmlNode) any {
	if len(n.Children) == 0 && len(n.Attrs) == 0 {
		return yamlScalar(strings.TrimSpace(string(n.Content)))
	}
	out := make(map[string]any)
	for _, a := range n.Attrs {
		out["@"+a.Name.Local] = yamlScalar(a.Value)
	}
	if text := strings.TrimSpace(n.Text); text != "" {
		out["#text"] = yamlScalar(text)
	}
	byName := make(map[string][]any)
	for _, c := range n.Children {
		byName[c.XMLName.Local] = append(byName[c.XMLName.Local], xmlNodeToValue(c))
	}
	for name, vals := range byName {
		if len(vals) == 1 {
			out[name] = vals[0]
		} else {
			out[name] = vals
		}
	}
	return out
}

// yamlScalar type-infers a bare XML text node the same way YAML scalars
// are type-inferred: bool, int, float, else string.
func yamlScalar(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
