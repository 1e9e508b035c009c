package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrConflict は一意制約違反を表す。
// 競合の最終判定はDBの一意インデックスで行い、呼び出し側はこのエラーで分岐する。
var ErrConflict = errors.New("repository: unique constraint violation")

// PostgreSQLのunique_violation
const pqUniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
