package workflow

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const planSchemaURL = "https://semplan.schemas.local/plan.schema.json"

// planSchema is the wire shape a model must produce. Task IDs and
// dependencies may be numbers or strings; steps is accepted for tasks.
const planSchema = `{
  "type": "object",
  "required": ["title"],
  "anyOf": [
    {"required": ["tasks"]},
    {"required": ["steps"]}
  ],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "tasks": {"$ref": "#/$defs/tasks"},
    "steps": {"$ref": "#/$defs/tasks"}
  },
  "$defs": {
    "id": {"type": ["integer", "string"]},
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "id": {"$ref": "#/$defs/id"},
          "title": {"type": "string"},
          "description": {"type": "string"},
          "status": {"type": "string"},
          "priority": {"type": ["string", "integer"]},
          "complexity": {"type": ["string", "integer"]},
          "estimatedDuration": {"type": ["string", "number"]},
          "estimatedTimeMin": {"type": "number"},
          "dependencies": {
            "type": "array",
            "items": {"$ref": "#/$defs/id"}
          }
        }
      }
    }
  }
}`

var (
	compiledOnce sync.Once
	compiled     *jsonschema.Schema
	compileErr   error
)

func planWireSchema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(planSchemaURL, strings.NewReader(planSchema)); err != nil {
			compileErr = fmt.Errorf("plan schema load failed: %w", err)
			return
		}
		compiled, compileErr = c.Compile(planSchemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("plan schema compile failed: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// CheckWireShape validates a decoded JSON object against the plan wire
// schema. Failures are *ValidationError wrapping ErrSchemaMismatch.
func CheckWireShape(obj map[string]any) error {
	schema, err := planWireSchema()
	if err != nil {
		return err
	}
	if obj == nil {
		return &ValidationError{Err: ErrSchemaMismatch, Detail: "empty object"}
	}
	if err := schema.Validate(obj); err != nil {
		return &ValidationError{Err: ErrSchemaMismatch, Detail: schemaDetail(err)}
	}
	return nil
}

// schemaDetail flattens the validator's nested causes into one line.
func schemaDetail(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var parts []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
