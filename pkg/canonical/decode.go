package canonical

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/deal.schema.json
var dealSchemaJSON string

const dealSchemaURL = "https://mismo.schemas.local/canonical/deal.schema.json"

var (
	dealSchemaOnce sync.Once
	dealSchema     *jsonschema.Schema
	dealSchemaErr  error
)

func compiledDealSchema() (*jsonschema.Schema, error) {
	dealSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(dealSchemaURL, bytes.NewReader([]byte(dealSchemaJSON))); err != nil {
			dealSchemaErr = fmt.Errorf("deal schema load failed: %w", err)
			return
		}
		dealSchema, dealSchemaErr = c.Compile(dealSchemaURL)
		if dealSchemaErr != nil {
			dealSchemaErr = fmt.Errorf("deal schema compile failed: %w", dealSchemaErr)
		}
	})
	return dealSchema, dealSchemaErr
}

// ShapeError reports a payload that does not have the canonical deal shape.
// It is a request problem, not a preflight finding: the payload never
// became a Deal.
type ShapeError struct {
	Err error
}

func (e *ShapeError) Error() string { return "canonical deal shape: " + e.Err.Error() }
func (e *ShapeError) Unwrap() error { return e.Err }

// DecodeDeal checks raw JSON against the canonical deal schema, decodes it
// and normalises every string to NFC. Unknown top-level or nested keys are
// rejected so no unmapped data can ride along outside Extensions, as are
// extension keys that differ only in surrounding space or Unicode form.
func DecodeDeal(raw []byte) (*Deal, error) {
	schema, err := compiledDealSchema()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ShapeError{Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &ShapeError{Err: err}
	}

	var d Deal
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &ShapeError{Err: err}
	}
	if keys := ExtensionKeyCollisions(d.Extensions); len(keys) > 0 {
		return nil, &ShapeError{Err: fmt.Errorf("extension keys collide after normalisation: %q", keys)}
	}
	d.Normalize()
	return &d, nil
}
