// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: write-once correlation keys via ON CONFLICT DO NOTHING,
// sequence-ordered checkpoints and events, embedded SQL migrations.
package postgres
