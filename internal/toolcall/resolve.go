// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolcall

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// INVOCATION TYPES
// =============================================================================

// Kind identifies a tool action.
type Kind int

const (
	// KindWebSearch queries the configured search service.
	KindWebSearch Kind = iota + 1

	// KindCurrentDateTime reads the clock.
	KindCurrentDateTime
)

// String returns the canonical invocation name for the kind.
func (k Kind) String() string {
	switch k {
	case KindWebSearch:
		return "web_search"
	case KindCurrentDateTime:
		return "get_current_datetime"
	default:
		return "unknown"
	}
}

// Invocation is a validated tool request. The set of implementations is
// closed: WebSearch and CurrentDateTime.
type Invocation interface {
	Kind() Kind
	invocation()
}

// WebSearch asks for a web search with a non-empty query.
type WebSearch struct {
	Query string
}

// Kind implements Invocation.
func (WebSearch) Kind() Kind  { return KindWebSearch }
func (WebSearch) invocation() {}

// CurrentDateTime asks for the present date and time.
type CurrentDateTime struct{}

// Kind implements Invocation.
func (CurrentDateTime) Kind() Kind  { return KindCurrentDateTime }
func (CurrentDateTime) invocation() {}

// Payload is the untyped shape of an invocation object before it is
// matched against the known tools.
type Payload struct {
	Name  string  `json:"name"`
	Query *string `json:"query,omitempty"`
}

// =============================================================================
// NAME ALIASES
// =============================================================================

// aliases maps folded invocation names to their action. Models are
// inconsistent about spelling, so several phrasings are accepted.
var aliases = map[string]Kind{
	"web_search":      KindWebSearch,
	"websearch":       KindWebSearch,
	"search":          KindWebSearch,
	"search_web":      KindWebSearch,
	"internet_search": KindWebSearch,

	"get_current_datetime": KindCurrentDateTime,
	"current_datetime":     KindCurrentDateTime,
	"get_datetime":         KindCurrentDateTime,
	"datetime":             KindCurrentDateTime,
	"get_current_time":     KindCurrentDateTime,
	"current_time":         KindCurrentDateTime,
	"get_time":             KindCurrentDateTime,
	"get_date":             KindCurrentDateTime,
	"current_date":         KindCurrentDateTime,
	"date_time":            KindCurrentDateTime,
}

// nameReplacer treats hyphens and spaces like underscores.
var nameReplacer = strings.NewReplacer("-", "_", " ", "_")

// foldName normalizes an invocation name for alias lookup.
func foldName(name string) string {
	folded := cases.Fold().String(norm.NFKC.String(strings.TrimSpace(name)))
	return nameReplacer.Replace(folded)
}

// KindForName returns the action an invocation name refers to.
func KindForName(name string) (Kind, bool) {
	kind, ok := aliases[foldName(name)]
	return kind, ok
}

// =============================================================================
// SCHEMA
// =============================================================================

const payloadSchemaURL = "urn:rigrun-chat:tool-call.json"

const payloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name":  {"type": "string", "minLength": 1},
    "query": {"type": ["string", "null"]}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// schema compiles the payload schema on first use.
func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse tool-call schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(payloadSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add tool-call schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(payloadSchemaURL)
	})
	return compiledSchema, schemaErr
}

// ParsePayload decodes and validates the JSON text of an invocation object.
func ParsePayload(text string) (Payload, error) {
	sch, err := schema()
	if err != nil {
		return Payload{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return Payload{}, fmt.Errorf("invalid payload: %w", err)
	}

	var p Payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve turns the JSON text of an invocation object into a typed
// invocation. It returns false on a parse error, a missing or unknown name,
// or a web search without a usable query.
func Resolve(text string) (Invocation, bool) {
	p, err := ParsePayload(text)
	if err != nil {
		return nil, false
	}
	return p.Invocation()
}

// Invocation types the payload.
func (p Payload) Invocation() (Invocation, bool) {
	kind, ok := KindForName(p.Name)
	if !ok {
		return nil, false
	}
	switch kind {
	case KindWebSearch:
		if p.Query == nil {
			return nil, false
		}
		q := strings.TrimSpace(*p.Query)
		if q == "" {
			return nil, false
		}
		return WebSearch{Query: q}, true
	case KindCurrentDateTime:
		return CurrentDateTime{}, true
	}
	return nil, false
}
