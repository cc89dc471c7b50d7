package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// JSONSchema describes the config file, keyed by YAML field names. It is
// computed once.
var JSONSchema = sync.OnceValues(func() ([]byte, error) {
	reflector := jsonschema.Reflector{
		FieldNameTag:   "yaml",
		DoNotReference: true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "nexuscore configuration"
	schema.Description = "Context sources, tool chains, event log, LLM provider and observability for nexuscore."
	return json.MarshalIndent(schema, "", "  ")
})
