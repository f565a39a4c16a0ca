package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pqUniqueViolation = "23505"

// isUniqueViolation はerrが指定制約の一意制約違反かを判定する。
// constraintが空の場合は制約名を問わない。
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// touchWatermark はユーザーのジョブ状態ウォーターマークを更新する。
// 既存の値より古い時刻では更新しない（単調増加）。
func touchWatermark(ctx context.Context, ex execer, userID string, now time.Time) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO job_state_watermarks (user_id, updated_at)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET updated_at = GREATEST(job_state_watermarks.updated_at, EXCLUDED.updated_at)`,
		userID, now,
	)
	if err != nil {
		return fmt.Errorf("ウォーターマークの更新に失敗しました: %w", err)
	}
	return nil
}
