package pgstore

import _ "embed"

// Schema is the full DDL for the reconciliation tables, applied by the
// DB_MIGRATE startup path. Every statement is idempotent.
//
//go:embed schema.sql
var Schema string
