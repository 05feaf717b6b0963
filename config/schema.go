package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/dataflow/errors"
)

// configSchema is the structural schema applied before decoding.
// Semantic rules (per-type required fields, path syntax, transform
// construction) live in Validate.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "engine": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "metrics_addr": {"type": "string"},
        "shutdown_timeout": {"$ref": "#/definitions/duration"}
      }
    },
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["timer", "httppoll", "stream", "broker", "file"]},
          "path": {"type": "string"},
          "interval": {"$ref": "#/definitions/duration"},
          "url": {"type": "string"},
          "timeout": {"$ref": "#/definitions/duration"},
          "headers": {"type": "object", "additionalProperties": {"type": "string"}},
          "subject": {"type": "string"},
          "file": {"type": "string"},
          "watch": {"type": "boolean"},
          "format": {"enum": ["json", "text"]},
          "retry": {"type": "object"},
          "reconnect": {"type": "object"},
          "broker": {"type": "object"},
          "transforms": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["op"],
              "properties": {
                "op": {"enum": ["map", "filter", "select", "sort", "take", "skip"]}
              }
            }
          }
        }
      }
    },
    "bindings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "source": {"type": "string", "minLength": 1},
          "target": {
            "type": "object",
            "required": ["component", "property"],
            "properties": {
              "component": {"type": "string", "minLength": 1},
              "property": {"type": "string", "minLength": 1}
            }
          },
          "mode": {"enum": ["one-way", "two-way", "one-time"]},
          "transform": {"type": "object"}
        }
      }
    },
    "triggers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path", "condition", "action"],
        "properties": {
          "path": {"type": "string", "minLength": 1},
          "condition": {
            "type": "object",
            "required": ["kind"],
            "properties": {
              "kind": {"enum": ["path-changed", "expression", "threshold"]},
              "field": {"type": "string"},
              "operator": {"enum": ["eq", "neq", "gt", "lt", "gte", "lte", "contains"]},
              "direction": {"enum": ["above", "below"]}
            }
          },
          "action": {"type": "string", "minLength": 1},
          "params": {"type": "object"},
          "debounce": {"$ref": "#/definitions/duration"},
          "throttle": {"$ref": "#/definitions/duration"}
        }
      }
    }
  },
  "definitions": {
    "duration": {
      "oneOf": [
        {"type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"},
        {"type": "integer"}
      ]
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(configSchema)

// validateSchema checks the raw YAML document against the structural
// schema, reporting every violation with its field path
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.WrapInvalid(err, "config", "validateSchema", "decode yaml")
	}
	if doc == nil {
		return nil
	}

	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapInvalid(err, "config", "validateSchema", "convert to json")
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(jsonDoc))
	if err != nil {
		return errors.WrapInvalid(err, "config", "validateSchema", "run schema validation")
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return errors.WrapInvalid(
			fmt.Errorf("%s: %w", strings.Join(msgs, "; "), errors.ErrInvalidConfig),
			"config", "validateSchema", "check document")
	}
	return nil
}
