package apperr

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes translated by FromDB.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgInvalidText         = "22P02"
	pgNoDataFound         = "P0002"

	// Raised by migrations' SQL functions with RAISE ... USING ERRCODE.
	pgInvalidTransition = "PA001"
	pgExpired           = "PA002"
	pgForbidden         = "PA003"
)

// FromDB translates a pgx error into the taxonomy. Unknown errors are returned
// wrapped as KindUnexpected so the caller logs them.
func FromDB(err error, notFoundMessage string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Wrap(KindNotFound, notFoundMessage, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return Wrap(KindConflict, "El registro ya existe", err)
		case pgForeignKeyViolation, pgNoDataFound:
			return Wrap(KindNotFound, notFoundMessage, err)
		case pgCheckViolation, pgInvalidText, pgInvalidTransition:
			return Wrap(KindValidation, messageOr(pgErr.Message, "Datos inválidos"), err)
		case pgExpired:
			return Wrap(KindGone, messageOr(pgErr.Message, "El recurso ha expirado"), err)
		case pgForbidden:
			return Wrap(KindUnauthorized, messageOr(pgErr.Message, "No tienes permisos para esta acción"), err)
		}
	}
	return Wrap(KindUnexpected, "Ocurrió un error inesperado", err)
}

// IsUniqueViolation reports whether err is a Postgres unique violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
