package txodds

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

//go:embed schema/*.json
var schemaFS embed.FS

const (
	schemaBase              = "https://txoracle.local/schema/"
	schemaStatValidation    = "stat_validation.json"
	schemaFixtureValidation = "fixture_validation.json"
	schemaOddsValidation    = "odds_validation.json"
)

// bundleValidator checks proof bundles against their JSON schemas before
// decoding. A violation is a protocol mismatch.
type bundleValidator struct {
	schemas map[string]*jsonschema.Schema
}

func newBundleValidator() (*bundleValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return nil, fmt.Errorf("txodds: read schemas: %w", err)
	}
	for _, e := range entries {
		data, err := schemaFS.ReadFile("schema/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("txodds: read schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("txodds: add schema %s: %w", e.Name(), err)
		}
	}

	v := &bundleValidator{schemas: make(map[string]*jsonschema.Schema)}
	for _, name := range []string{schemaStatValidation, schemaFixtureValidation, schemaOddsValidation} {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("txodds: compile schema %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// decode validates body against the named schema and unmarshals it into out.
func (v *bundleValidator) decode(name string, body []byte, out any) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	if err := v.schemas[name].Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrMalformedPayload, name, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	return nil
}
