/*
Package flow defines wizard flows: the ordered steps, the completion call a finished
traversal hands to the backend, and optional side actions bound to single steps.

Flows come from two places: the built-in Onboarding and Session definitions, and YAML
files loaded with Load or LoadDir.

	name: onboarding-lite
	steps:
	  - id: when
	    options: [this_term, next_term, no_date]
	    required: true
	    auto_advance: true
	  - id: feeling
	    options: [feeling_ahead, feeling_behind]
	    required: true
	    auto_advance: true
	completion:
	  operation: rpc_parent_create_child_and_plan
*/
package flow
