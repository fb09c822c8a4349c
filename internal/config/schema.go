package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed config.schema.json
var schemaJSON []byte

const schemaURL = "config.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateSchema checks c against the embedded JSON schema. Violations are
// reported as ValidationErrors keyed by instance location.
func ValidateSchema(c *Config) error {
	schema, err := configSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	var errs ValidationErrors
	collectSchemaErrors(verr, &errs)
	if len(errs) == 0 {
		errs.add("/", "%s", verr.Message)
	}
	return errs
}

func collectSchemaErrors(v *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(v.Causes) == 0 {
		field := v.InstanceLocation
		if field == "" {
			field = "/"
		}
		errs.add(field, "%s", v.Message)
		return
	}
	for _, c := range v.Causes {
		collectSchemaErrors(c, errs)
	}
}
