// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package config

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the generated config schema.
const SchemaID = "https://github.com/knat-dev/jwtserver/schemas/config.schema.json"

// durationPattern matches Go duration strings such as 15m, 168h or 1h30m.
const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

var compiledSchema = sync.OnceValues(compileSchema)

// GenerateSchema returns the JSON Schema for the YAML config file.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:        "string",
					Pattern:     durationPattern,
					Description: "Go duration such as 10s, 15m or 168h",
				}
			}
			return nil
		},
	}
	schema := r.Reflect(&Config{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "jwtserver configuration"
	schema.Description = "Schema for the jwtserver YAML config file"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("CONFIG_SCHEMA_FAILED").Wrap(err)
	}
	return data, nil
}

// ValidateYAML checks a YAML config document against the schema.
// Unknown keys are rejected so typos do not silently fall back to defaults.
// An empty document is valid.
func ValidateYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("CONFIG_YAML_INVALID").Wrap(err)
	}
	if doc == nil {
		return nil
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(toJSONTypes(doc)); err != nil {
		return oops.Code("CONFIG_SCHEMA_VIOLATION").Wrap(err)
	}
	return nil
}

func compileSchema() (*jschema.Schema, error) {
	raw, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, oops.Code("CONFIG_SCHEMA_FAILED").Wrap(err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("config.schema.json", doc); err != nil {
		return nil, oops.Code("CONFIG_SCHEMA_FAILED").Wrap(err)
	}
	sch, err := c.Compile("config.schema.json")
	if err != nil {
		return nil, oops.Code("CONFIG_SCHEMA_FAILED").Wrap(err)
	}
	return sch, nil
}

// toJSONTypes rewrites YAML-decoded values into the shapes encoding/json
// would produce, so the validator sees float64 numbers and string-keyed maps.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSONTypes(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSONTypes(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case string, float64, bool, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var out any
			if err := json.Unmarshal(b, &out); err == nil {
				return out
			}
		}
		return val
	}
}
