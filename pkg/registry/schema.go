package registry

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/release.schema.json
var releaseSchemaBytes []byte

var (
	releaseSchema     *jsonschema.Schema
	releaseSchemaOnce sync.Once
	releaseSchemaErr  error
)

// getReleaseSchema compiles the embedded release schema once.
func getReleaseSchema() (*jsonschema.Schema, error) {
	releaseSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(releaseSchemaBytes))
		if err != nil {
			releaseSchemaErr = fmt.Errorf("unmarshaling release schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("release.schema.json", doc); err != nil {
			releaseSchemaErr = fmt.Errorf("adding release schema resource: %w", err)
			return
		}
		releaseSchema, releaseSchemaErr = c.Compile("release.schema.json")
		if releaseSchemaErr != nil {
			releaseSchemaErr = fmt.Errorf("compiling release schema: %w", releaseSchemaErr)
		}
	})
	return releaseSchema, releaseSchemaErr
}

// validateRelease checks a release body against the registry contract.
func validateRelease(body []byte) error {
	sch, err := getReleaseSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("malformed release body: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("release body does not match contract: %w", err)
	}
	return nil
}
