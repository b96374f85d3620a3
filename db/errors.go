package db

import "errors"

// Common errors
var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDatabaseConnection = errors.New("database connection error")
	ErrTransactionFailed  = errors.New("transaction failed")
	ErrMigrationFailed    = errors.New("migration failed")
)
