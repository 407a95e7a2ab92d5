// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver. Suitable for embedded and edge
// deployments, CLI tools, and standalone single-node services.
//
//	s, err := sqlite.Open(ctx, "file:approvals.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
//
// Use New to wrap a *sql.DB the caller already owns; Close then leaves the
// handle open.
package sqlite
