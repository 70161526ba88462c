// Package main generates the combined OpenAPI 3.0 document for the Chronos
// HTTP surface. Specs are collected from processor packages that register
// themselves with the service registry at init time.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	// Registers the review API spec via init().
	_ "github.com/c360studio/chronos/processor/review-api"

	"github.com/c360studio/semstreams/service"
	"gopkg.in/yaml.v3"
)

func main() {
	out := flag.String("o", "./api/openapi.v3.yaml", "Output path for the OpenAPI document")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL recorded in the document")
	flag.Parse()

	specs := service.GetAllOpenAPISpecs()
	log.Printf("Chronos OpenAPI generator: %d registered specs", len(specs))
	for _, name := range sortedNames(specs) {
		log.Printf("  - %s", name)
	}

	doc := buildDocument(specs, *serverURL)

	if err := os.MkdirAll(filepath.Dir(*out), 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := writeDocument(*out, doc); err != nil {
		log.Fatalf("Failed to write OpenAPI document: %v", err)
	}
	log.Printf("Wrote %s", *out)
}

// Document is the root of an OpenAPI 3.0 specification.
type Document struct {
	OpenAPI    string              `yaml:"openapi"`
	Info       Info                `yaml:"info"`
	Servers    []Server            `yaml:"servers"`
	Paths      map[string]PathItem `yaml:"paths"`
	Components Components          `yaml:"components"`
	Tags       []Tag               `yaml:"tags"`
}

// Info carries API metadata.
type Info struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

// Server names an API server.
type Server struct {
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
}

// Components holds reusable schema definitions.
type Components struct {
	Schemas map[string]any `yaml:"schemas"`
}

// Tag groups related operations.
type Tag struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// PathItem lists the operations available on a path.
type PathItem struct {
	Get    *Operation `yaml:"get,omitempty"`
	Post   *Operation `yaml:"post,omitempty"`
	Put    *Operation `yaml:"put,omitempty"`
	Delete *Operation `yaml:"delete,omitempty"`
}

// Operation describes a single API operation.
type Operation struct {
	Summary     string              `yaml:"summary"`
	Description string              `yaml:"description,omitempty"`
	Tags        []string            `yaml:"tags,omitempty"`
	Parameters  []Parameter         `yaml:"parameters,omitempty"`
	Responses   map[string]Response `yaml:"responses"`
}

// Parameter describes an operation parameter.
type Parameter struct {
	Name        string    `yaml:"name"`
	In          string    `yaml:"in"`
	Required    bool      `yaml:"required,omitempty"`
	Description string    `yaml:"description,omitempty"`
	Schema      SchemaRef `yaml:"schema"`
}

// Response describes one response of an operation.
type Response struct {
	Description string               `yaml:"description"`
	Content     map[string]MediaType `yaml:"content,omitempty"`
}

// MediaType pairs a content type with its schema.
type MediaType struct {
	Schema SchemaRef `yaml:"schema"`
}

// SchemaRef is either a $ref or an inline scalar/array schema.
type SchemaRef struct {
	Ref   string     `yaml:"$ref,omitempty"`
	Type  string     `yaml:"type,omitempty"`
	Items *SchemaRef `yaml:"items,omitempty"`
}

// buildDocument merges every registered spec into one document. Specs are
// walked in sorted name order so output is stable across runs.
func buildDocument(specs map[string]*service.OpenAPISpec, serverURL string) Document {
	paths := make(map[string]PathItem)
	schemas := make(map[string]any)
	tagsByName := make(map[string]Tag)
	seenTypes := make(map[reflect.Type]bool)

	for _, name := range sortedNames(specs) {
		spec := specs[name]

		for path, ps := range spec.Paths {
			paths[path] = pathItemFrom(ps)
		}

		for _, t := range spec.ResponseTypes {
			if seenTypes[t] {
				continue
			}
			seenTypes[t] = true
			schemas[typeName(t)] = schemaForType(t)
		}

		for _, tag := range spec.Tags {
			if _, ok := tagsByName[tag.Name]; !ok {
				tagsByName[tag.Name] = Tag{Name: tag.Name, Description: tag.Description}
			}
		}
	}

	tags := make([]Tag, 0, len(tagsByName))
	for _, name := range sortedNames(tagsByName) {
		tags = append(tags, tagsByName[name])
	}

	return Document{
		OpenAPI: "3.0.3",
		Info: Info{
			Title:       "Chronos API",
			Description: "HTTP API for incident coordination - fix review, decisions, and verification records",
			Version:     "0.1.0",
		},
		Servers: []Server{
			{URL: serverURL, Description: "Local chronos instance"},
		},
		Paths:      paths,
		Components: Components{Schemas: schemas},
		Tags:       tags,
	}
}

func pathItemFrom(ps service.PathSpec) PathItem {
	item := PathItem{}
	if ps.GET != nil {
		item.Get = operationFrom(ps.GET)
	}
	if ps.POST != nil {
		item.Post = operationFrom(ps.POST)
	}
	if ps.PUT != nil {
		item.Put = operationFrom(ps.PUT)
	}
	if ps.DELETE != nil {
		item.Delete = operationFrom(ps.DELETE)
	}
	return item
}

func operationFrom(op *service.OperationSpec) *Operation {
	out := &Operation{
		Summary:     op.Summary,
		Description: op.Description,
		Tags:        op.Tags,
		Responses:   make(map[string]Response, len(op.Responses)),
	}

	for _, p := range op.Parameters {
		out.Parameters = append(out.Parameters, Parameter{
			Name:        p.Name,
			In:          p.In,
			Required:    p.Required,
			Description: p.Description,
			Schema:      SchemaRef{Type: p.Schema.Type},
		})
	}

	for code, resp := range op.Responses {
		out.Responses[code] = responseFrom(resp)
	}

	return out
}

func responseFrom(resp service.ResponseSpec) Response {
	out := Response{Description: resp.Description}

	switch {
	case resp.SchemaRef != "":
		contentType := resp.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		schema := SchemaRef{Ref: resp.SchemaRef}
		if resp.IsArray {
			schema = SchemaRef{Type: "array", Items: &SchemaRef{Ref: resp.SchemaRef}}
		}
		out.Content = map[string]MediaType{contentType: {Schema: schema}}

	case resp.ContentType != "" && resp.ContentType != "text/event-stream":
		out.Content = map[string]MediaType{
			resp.ContentType: {Schema: SchemaRef{Type: "object"}},
		}
	}

	return out
}

// schemaForType derives a JSON Schema fragment from a Go type by reflection.
func schemaForType(t reflect.Type) map[string]any {
	if t.Kind() == reflect.Ptr {
		schema := schemaForType(t.Elem())
		schema["nullable"] = true
		return schema
	}

	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return map[string]any{"type": "integer"}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer", "minimum": 0}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Struct:
		if t == reflect.TypeOf(time.Time{}) {
			return map[string]any{"type": "string", "format": "date-time"}
		}
		return schemaForStruct(t)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return map[string]any{"type": "string", "format": "byte"}
		}
		return map[string]any{"type": "array", "items": schemaForType(t.Elem())}
	case reflect.Map:
		return map[string]any{"type": "object", "additionalProperties": schemaForType(t.Elem())}
	case reflect.Interface:
		return map[string]any{}
	default:
		return map[string]any{"type": "string"}
	}
}

// schemaForStruct emits an object schema. Fields without omitempty that are
// not pointers become required.
func schemaForStruct(t reflect.Type) map[string]any {
	properties := make(map[string]any)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}

		name := field.Name
		omitempty := false
		if tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitempty = true
				}
			}
		}

		properties[name] = schemaForType(field.Type)
		if !omitempty && field.Type.Kind() != reflect.Ptr {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// typeName produces the schema name for a Go type. Unexported wire types
// still document the payload shape, so the leading letter is capitalized.
func typeName(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		return typeName(t.Elem())
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return name
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeDocument(path string, doc Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	header := "# OpenAPI 3.0 document for the Chronos API.\n" +
		"# Generated by cmd/openapi-generator from service registrations. Do not edit.\n\n"

	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}
