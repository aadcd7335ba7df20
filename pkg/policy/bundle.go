package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// bundleSchema describes the canonical JSON shape a policy bundle must
// take (spec §6): {mode, terms, relations, risk_weights}. Validated via
// jsonschema before structural (term-reference) validation, catching
// shape errors with a precise pointer into the offending field.
const bundleSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["mode", "terms", "relations"],
  "properties": {
    "mode": {"type": "string", "enum": ["PERMISSIVE", "STRICT", "PARANOID"]},
    "paranoid_risk_threshold": {"type": "integer", "minimum": 1, "maximum": 5},
    "terms": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "category"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "category": {"type": "string", "enum": ["actor", "action", "resource", "data_class", "context"]},
          "label": {"type": "string"},
          "attributes": {"type": "object"}
        }
      }
    },
    "relations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "subject", "action"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "enum": ["permits", "forbids", "requires"]},
          "subject": {"type": "string", "minLength": 1},
          "action": {"type": "string", "minLength": 1},
          "object": {"type": "string"},
          "constraint": {"type": "string"}
        }
      }
    },
    "risk_weights": {"type": "object"}
  }
}`

var compiledBundleSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("bundle.json", bytes.NewReader([]byte(bundleSchemaJSON))); err != nil {
		panic(fmt.Sprintf("policy: invalid embedded bundle schema: %v", err))
	}
	sch, err := compiler.Compile("bundle.json")
	if err != nil {
		panic(fmt.Sprintf("policy: invalid embedded bundle schema: %v", err))
	}
	compiledBundleSchema = sch
}

// LoadBundle parses, schema-validates, and structurally validates a
// policy bundle, returning an indexed, hashed Policy. A relation that
// references an undeclared term fails with ErrPolicyMalformed.
func LoadBundle(data []byte) (*Policy, error) {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, &ErrPolicyMalformed{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := compiledBundleSchema.Validate(generic); err != nil {
		return nil, &ErrPolicyMalformed{Reason: fmt.Sprintf("schema: %v", err)}
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ErrPolicyMalformed{Reason: fmt.Sprintf("decode: %v", err)}
	}

	return NewPolicy(p)
}
