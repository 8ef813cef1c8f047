package repository

import (
	"database/sql"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5/pgconn"

	auth "github.com/healthapp/go-auth"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mapNotFound(err error, sentinel *goerrors.Error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "database query failed")
}

func mapWriteError(err error, conflict *goerrors.Error) error {
	if isUniqueViolation(err) {
		return conflict
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "database write failed")
}

func alreadyProcessed(reason string) error {
	clone := auth.ErrAlreadyProcessed.Clone()
	clone.Source = auth.ErrAlreadyProcessed
	return clone.WithMetadata(map[string]any{"reason": reason})
}
