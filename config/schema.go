package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/wippyai/wasm-interop/errors"
)

// JSONSchema describes Duration as a duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration string, for example 5s or 250ms",
	}
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		ExpandedStruct: true,
		FieldNameTag:   "toml",
	}
	s := r.Reflect(&Config{})
	s.Title = "wasm-interop configuration"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "marshal schema")
	}
	return data, nil
}
