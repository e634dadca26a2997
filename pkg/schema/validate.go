package schema

import "sort"

// Schema is a map of field names to their expected types.
// Example: {"first_name": Text(), "year_group": Int()}
type Schema map[string]Type

// Keys returns the field names in sorted order.
func (s Schema) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks if data conforms to the schema.
// Every field is required. Errors are reported in field name order.
func Validate(schema Schema, data map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	var errs []error
	for _, fieldName := range schema.Keys() {
		value, exists := data[fieldName]
		if !exists || value == nil {
			errs = append(errs, &ValidationError{
				Key:    fieldName,
				Reason: "required",
			})
			continue
		}

		if err := schema[fieldName].Validate(value); err != nil {
			errs = append(errs, &ValidationError{
				Key:    fieldName,
				Reason: err.Error(),
				Value:  value,
			})
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// Missing returns the names of fields that are absent or invalid in data, sorted.
// A nil or non-map data reports every field.
func Missing(schema Schema, data any) []string {
	if len(schema) == 0 {
		return nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return schema.Keys()
	}

	var missing []string
	for _, err := range ValidationErrors(Validate(schema, m)) {
		if vErr, ok := err.(*ValidationError); ok {
			missing = append(missing, vErr.Key)
		}
	}
	return missing
}
