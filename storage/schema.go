package storage

import _ "embed"

// Schema is the reference DDL for the ragpg tables. It is idempotent
// (CREATE ... IF NOT EXISTS) and requires the pgvector extension.
//
//go:embed schema.sql
var Schema string
