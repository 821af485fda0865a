// Package schemas embeds the JSON schemas for files dockflow exchanges
// between phases.
package schemas

import _ "embed"

// OutcomeRecordV1Schema describes a cross-phase outcome record.
//
//go:embed outcome-record.schema.json
var OutcomeRecordV1Schema []byte

// RuntimeStateV1Schema describes the compose runtime-state file read by
// test code.
//
//go:embed runtime-state.schema.json
var RuntimeStateV1Schema []byte
