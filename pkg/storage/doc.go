// Package storage provides the transactional store for the tracking package.
//
// This package includes:
//   - GormStorage: a GORM-based store supporting SQLite and PostgreSQL
//   - Tx: the unit, catalog, attempt and history queries run inside one transaction
//   - Partial unique indexes that reject a second open attempt per unit or per batch
//   - MapError: translation of driver errors into core error kinds
//
// Most users should import the root package github.com/jdziat/simple-process-tracking
// which provides Open() to create storage instances.
package storage
