package rpc

import (
	"fmt"
	"strings"

	"github.com/aretw0/stepflow/pkg/schema"
	"github.com/mitchellh/mapstructure"
)

// Request is one outbound call, validated before transmission.
type Request interface {
	Operation() string
	Validate() error
	Params() map[string]any
}

// Raw is an untyped request for flows defined in files, where the parameter mapping is
// the answer set itself.
type Raw struct {
	Name   string
	Args   map[string]any
	Schema schema.Schema
}

func (r *Raw) Operation() string { return r.Name }

func (r *Raw) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("operation name is required")
	}
	return schema.Validate(r.Schema, r.Args)
}

func (r *Raw) Params() map[string]any {
	out := make(map[string]any, len(r.Args))
	for k, v := range r.Args {
		out[k] = v
	}
	return out
}

// Decode fills the record pointed to by out from loosely typed input.
// Numbers arriving as float64 or strings (JSON bodies, CLI input) are converted.
func Decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}
	return nil
}

// MissingFields extracts field names from a validation error produced by a record.
func MissingFields(err error) []string {
	var fields []string
	for _, e := range schema.ValidationErrors(err) {
		if vErr, ok := e.(*schema.ValidationError); ok {
			fields = append(fields, vErr.Key)
		}
	}
	return fields
}
