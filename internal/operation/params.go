package operation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tombee/areahub/internal/params"
	"github.com/tombee/areahub/internal/platform"
)

// jsonTypes are the parameter types a descriptor may declare.
var jsonTypes = map[string]bool{
	"string": true, "integer": true, "number": true,
	"boolean": true, "array": true, "object": true,
}

// compiledOp is a descriptor prepared for dispatch.
type compiledOp struct {
	desc    platform.Descriptor
	schema  *jsonschema.Schema
	mapping map[string]string
}

func compileOp(integration string, desc platform.Descriptor) (*compiledOp, error) {
	properties := make(map[string]any, len(desc.Parameters))
	mapping := make(map[string]string)
	for _, p := range desc.Parameters {
		if p.Name == "" {
			return nil, fmt.Errorf("%s.%s: parameter with empty name", integration, desc.Name)
		}
		prop := map[string]any{}
		if p.Type != "" {
			if !jsonTypes[p.Type] {
				return nil, fmt.Errorf("%s.%s: parameter %q has unsupported type %q", integration, desc.Name, p.Name, p.Type)
			}
			prop["type"] = p.Type
		}
		properties[p.Name] = prop
		if p.Source != "" {
			mapping[p.Name] = p.Source
		}
	}

	url := fmt.Sprintf("https://areahub.local/schemas/%s/%s/%s.json", integration, desc.Kind, desc.Name)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, map[string]any{
		"type":       "object",
		"properties": properties,
	}); err != nil {
		return nil, fmt.Errorf("%s.%s: %w", integration, desc.Name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: failed to compile parameter schema: %w", integration, desc.Name, err)
	}
	return &compiledOp{desc: desc, schema: schema, mapping: mapping}, nil
}

// buildParams merges config and input, applies declared source paths and
// defaults, then checks required parameters and declared types.
func (op *compiledOp) buildParams(config, input map[string]any) (params.Bag, error) {
	bag := params.MergeConfigAndInput(config, input)
	for name, v := range params.Resolve(op.mapping, config, input) {
		bag[name] = v
	}

	for _, p := range op.desc.Parameters {
		if isAbsent(bag, p.Name) && p.Default != nil {
			bag[p.Name] = p.Default
		}
	}
	for _, p := range op.desc.Parameters {
		if p.Required && isAbsent(bag, p.Name) {
			return nil, &platform.Error{
				Kind:      platform.KindMissingParameter,
				Operation: op.desc.Name,
				Field:     p.Name,
				Message:   fmt.Sprintf("required parameter %q is missing", p.Name),
			}
		}
	}

	if err := op.validateTypes(bag); err != nil {
		return nil, err
	}
	return bag, nil
}

// isAbsent treats nil and empty strings as not provided.
func isAbsent(bag params.Bag, name string) bool {
	v, ok := bag[name]
	if !ok || v == nil {
		return true
	}
	s, isString := v.(string)
	return isString && s == ""
}

func (op *compiledOp) validateTypes(bag params.Bag) error {
	// The validator expects decoded JSON values, so normalize Go types
	// (int, structs, typed maps) through a JSON round trip.
	raw, err := json.Marshal(bag)
	if err != nil {
		return &platform.Error{
			Kind:      platform.KindInvalidParameter,
			Operation: op.desc.Name,
			Message:   "parameters are not JSON-serializable",
			Cause:     err,
		}
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}

	err = op.schema.Validate(instance)
	if err == nil {
		return nil
	}

	field := ""
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		field = firstInvalidField(ve)
	}
	msg := "parameter does not match its declared type"
	for _, p := range op.desc.Parameters {
		if p.Name == field {
			msg = fmt.Sprintf("expected %s", p.Type)
		}
	}
	return &platform.Error{
		Kind:      platform.KindInvalidParameter,
		Operation: op.desc.Name,
		Field:     field,
		Message:   msg,
		Cause:     err,
	}
}

func firstInvalidField(ve *jsonschema.ValidationError) string {
	if len(ve.InstanceLocation) > 0 {
		return ve.InstanceLocation[0]
	}
	for _, cause := range ve.Causes {
		if f := firstInvalidField(cause); f != "" {
			return f
		}
	}
	return ""
}
