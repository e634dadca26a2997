// Package schema provides a small type system for validating step answers and
// outgoing RPC records.
//
// Schemas map field names to types. Built-in types are string, text (non-blank
// string), int, float, bool, date (YYYY-MM-DD), slices ("[text]") and closed
// choices ("one_of(a|b)"). Every field in a schema is required.
//
//	fields := schema.Schema{
//	    "first_name": schema.Text(),
//	    "year_group": schema.Int(),
//	}
//
//	missing := schema.Missing(fields, answer) // e.g. ["year_group"]
//
// Flow files declare the same schemas as YAML mappings:
//
//	fields:
//	  first_name: text
//	  year_group: int
package schema
