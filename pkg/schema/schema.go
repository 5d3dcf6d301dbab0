package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// Schema validates documents against a JSON Schema. Documents are checked
// in their JSON form: ObjectIDs and dates are seen as strings.
type Schema struct {
	name     string
	source   map[string]interface{}
	compiled *jsonschema.Schema
}

// New compiles a JSON Schema document.
func New(name string, source []byte) (*Schema, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(source, &doc); err != nil {
		return nil, fmt.Errorf("schema %s is not a JSON object: %w", name, err)
	}
	return compile(name, doc)
}

// MustNew is like New but panics on an invalid schema.
func MustNew(name, source string) *Schema {
	s, err := New(name, []byte(source))
	if err != nil {
		panic(err)
	}
	return s
}

// Load compiles the schema stored at path, named after the file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return New(name, data)
}

func compile(name string, doc map[string]interface{}) (*Schema, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	url := "mem://schemas/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &Schema{name: name, source: doc, compiled: compiled}, nil
}

// Name returns the schema name.
func (s *Schema) Name() string {
	return s.name
}

// Validate checks doc and returns a copy with top-level defaults filled in.
// Failures are reported as a *domain.ValidationError with one issue per
// failing keyword.
func (s *Schema) Validate(doc domain.Document) (domain.Document, error) {
	instance, err := toJSONValue(doc)
	if err != nil {
		return nil, &domain.ValidationError{Issues: []domain.Issue{{Path: "/", Message: err.Error()}}}
	}
	if err := s.compiled.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, &domain.ValidationError{Issues: issues(ve)}
		}
		return nil, &domain.ValidationError{Issues: []domain.Issue{{Path: "/", Message: err.Error()}}}
	}
	return s.applyDefaults(doc), nil
}

// DeepPartial returns a schema with every "required" list removed at every
// depth. Only the root object is opened to unknown fields; nested closed
// objects stay closed.
func (s *Schema) DeepPartial() domain.Schema {
	relaxed, err := compile(s.name+".partial", relax(s.source, true).(map[string]interface{}))
	if err != nil {
		// relax only removes keywords from a schema that already compiled.
		panic(fmt.Sprintf("relaxed schema %s failed to compile: %v", s.name, err))
	}
	return relaxed
}

func (s *Schema) applyDefaults(doc domain.Document) domain.Document {
	out := domain.Clone(doc)
	if out == nil {
		out = domain.Document{}
	}
	props, _ := s.source["properties"].(map[string]interface{})
	for field, raw := range props {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if def, ok := prop["default"]; ok {
			if _, present := out[field]; !present {
				out[field] = def
			}
		}
	}
	return out
}

func relax(v interface{}, root bool) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, child := range node {
			switch k {
			case "required":
				continue
			case "additionalProperties", "unevaluatedProperties":
				if b, ok := child.(bool); ok && !b && root {
					continue
				}
			}
			out[k] = relax(child, false)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, child := range node {
			out[i] = relax(child, false)
		}
		return out
	}
	return v
}

// toJSONValue renders doc the way the validator expects: plain maps, slices,
// strings, bools and json.Number.
func toJSONValue(doc domain.Document) (interface{}, error) {
	if doc == nil {
		doc = domain.Document{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("document is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// issues flattens the cause tree into its leaves.
func issues(ve *jsonschema.ValidationError) []domain.Issue {
	var out []domain.Issue
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := e.InstanceLocation
			if path == "" {
				path = "/"
			}
			out = append(out, domain.Issue{Path: path, Message: e.Message})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
