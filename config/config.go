// Package config loads the pod manifest: the declarative list of
// datasets, models, embeddings and tools the runtime serves. Component
// params are opaque string maps; values may reference the environment
// so secrets stay out of the manifest.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Component is one declared unit: a dataset, model, embedding or tool.
// From is the provider directive, e.g. "openai:gpt-4o-mini" or
// "postgres:public.events".
type Component struct {
	Name      string            `json:"name"`
	From      string            `json:"from"`
	Params    map[string]string `json:"params,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
}

// Directive splits From into provider and remainder.
func (c Component) Directive() (provider, rest string) {
	provider, rest, ok := strings.Cut(c.From, ":")
	if !ok {
		return c.From, ""
	}
	return provider, rest
}

// Param returns the named param after placeholder resolution.
func (c Component) Param(key string) string {
	return resolveValue(c.Params[key])
}

// Pod is the manifest root.
type Pod struct {
	Name       string      `json:"name"`
	Datasets   []Component `json:"datasets,omitempty"`
	Models     []Component `json:"models,omitempty"`
	Embeddings []Component `json:"embeddings,omitempty"`
	Tools      []Component `json:"tools,omitempty"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Pod, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a manifest from its raw bytes.
func Parse(raw []byte) (*Pod, error) {
	var pod Pod
	if err := json.Unmarshal(raw, &pod); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	seen := map[string]bool{}
	for _, group := range [][]Component{pod.Datasets, pod.Models, pod.Embeddings, pod.Tools} {
		for _, component := range group {
			if component.Name == "" {
				return nil, fmt.Errorf("component with from=%q has no name", component.From)
			}
			if seen[component.Name] {
				return nil, fmt.Errorf("duplicate component name %q", component.Name)
			}
			seen[component.Name] = true
		}
	}
	return &pod, nil
}

// placeholderRe matches ${env:NAME} and ${secrets:name} references.
var placeholderRe = regexp.MustCompile(`\$\{(env|secrets):([A-Za-z0-9_.-]+)\}`)

// resolveValue expands placeholders against the environment. Secret
// references map to SPICED_SECRET_<NAME> with the name uppercased and
// dots/dashes folded to underscores. Unresolvable references expand to
// the empty string.
func resolveValue(value string) string {
	return placeholderRe.ReplaceAllStringFunc(value, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		kind, name := groups[1], groups[2]
		if kind == "env" {
			return os.Getenv(name)
		}
		folded := strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToUpper(name))
		return os.Getenv("SPICED_SECRET_" + folded)
	})
}
