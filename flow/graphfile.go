package flow

import (
	"gopkg.in/yaml.v3"
)

// ParseDefinition decodes a graph definition from YAML or JSON bytes.
//
// YAML is a superset of JSON, so a single decoder handles both the YAML
// files operators author by hand and the JSON bodies the HTTP API receives.
// The decoded definition is validated before being returned; a definition
// that parses but is structurally broken fails with CodeInvalidGraph.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, &EngineError{
			Code:    CodeInvalidGraph,
			Message: "failed to parse graph definition",
			Cause:   err,
		}
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}
