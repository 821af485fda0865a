package validate

import (
	"fmt"
	"sync"

	"github.com/initializ/dockflow/schemas"
	"github.com/xeipuuv/gojsonschema"
)

type compiledSchema struct {
	source []byte
	once   sync.Once
	schema *gojsonschema.Schema
	err    error
}

func (c *compiledSchema) get() (*gojsonschema.Schema, error) {
	c.once.Do(func() {
		c.schema, c.err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(c.source))
	})
	return c.schema, c.err
}

var (
	outcomeRecordSchema = &compiledSchema{source: schemas.OutcomeRecordV1Schema}
	runtimeStateSchema  = &compiledSchema{source: schemas.RuntimeStateV1Schema}
)

// ValidateOutcomeRecord validates raw JSON bytes against the outcome record
// schema. It returns the violations, and an error only when the document
// cannot be checked at all (schema compilation, unparseable JSON).
func ValidateOutcomeRecord(jsonData []byte) ([]string, error) {
	return validateAgainst(outcomeRecordSchema, "outcome record", jsonData)
}

// ValidateRuntimeState validates raw JSON bytes against the compose runtime
// state schema.
func ValidateRuntimeState(jsonData []byte) ([]string, error) {
	return validateAgainst(runtimeStateSchema, "runtime state", jsonData)
}

func validateAgainst(c *compiledSchema, what string, jsonData []byte) ([]string, error) {
	schema, err := c.get()
	if err != nil {
		return nil, fmt.Errorf("compiling %s schema: %w", what, err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("validating %s: %w", what, err)
	}

	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
