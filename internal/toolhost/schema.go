package toolhost

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaResourceURL = "mem://toolhost/schema.json"

// compileSchema parses and compiles a tool's advertised input schema so
// callTool can validate arguments before they ever reach the subprocess. An
// empty schema is treated as "accepts anything".
func compileSchema(toolName string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte(`{}`)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResourceURL+"#"+toolName, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(schemaResourceURL + "#" + toolName)
}

// validateAgainstSchema checks args (a raw JSON object, possibly nil) against
// sch, the way the turn engine must before forwarding a model-requested
// tool call to its owning subprocess.
func validateAgainstSchema(sch *jsonschema.Schema, args json.RawMessage) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = []byte(`{}`)
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return sch.Validate(doc)
}
