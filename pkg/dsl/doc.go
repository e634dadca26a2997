/*
Package dsl provides a fluent Go API for defining stepflow flows.

It is an alternative to YAML flow files when flows are generated in code or built inside
tests, with the compiler checking field types and predicates.

Example usage:

	def, err := dsl.New("survey").
		Title("Quick survey").
		Step("name").Prompt("What is your name?").Field("first_name", schema.Text()).Required().
		Step("mood").Options("good", "bad").AutoAdvance().Required().
		Step("why").SkipWhen("mood == 'good'").
		Complete("rpc_submit_survey").
		Build()
*/
package dsl
