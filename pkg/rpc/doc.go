// Package rpc defines the typed request records sent through the single named-call
// backend surface.
//
// Every record knows its operation name, validates itself before transmission, and
// renders the parameter mapping the backend expects (p_-prefixed names). Records are
// decoded from loosely typed wizard answers with Decode.
package rpc
