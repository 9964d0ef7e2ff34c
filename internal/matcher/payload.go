package matcher

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaOps = []string{"expected_feature_count", "enroll", "authenticate"}

type payloadSchemas struct {
	byOp map[string]*jsonschema.Schema
}

// loadSchemas compiles the embedded response schemas. They are fixed at build
// time, so a compile failure is a programming error.
func loadSchemas() *payloadSchemas {
	compiler := jsonschema.NewCompiler()
	ps := &payloadSchemas{byOp: map[string]*jsonschema.Schema{}}
	for _, op := range schemaOps {
		name := "schemas/" + op + ".json"
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			panic(fmt.Sprintf("matcher: missing embedded schema %s: %v", name, err))
		}
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("matcher: invalid embedded schema %s: %v", name, err))
		}
		ps.byOp[op] = compiler.MustCompile(name)
	}
	return ps
}

func (p *payloadSchemas) validate(op string, body []byte) error {
	schema, ok := p.byOp[op]
	if !ok {
		return fmt.Errorf("no schema for %s", op)
	}
	var instance any
	if err := json.Unmarshal(body, &instance); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("unexpected response shape: %w", err)
	}
	return nil
}
