package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/feedsub/internal/model"
)

const jobStateColumns = `id, user_id, fetch_url, state, feed_id, error_code, error_detail, created_at, updated_at`

// PostgresJobStateRepo はPostgreSQLを使用したジョブ状態リポジトリ。
// 変更系の操作はjob_state_watermarksの更新と同一トランザクションで実行する。
type PostgresJobStateRepo struct {
	db *sql.DB
}

// NewPostgresJobStateRepo はPostgresJobStateRepoを生成する。
func NewPostgresJobStateRepo(db *sql.DB) *PostgresJobStateRepo {
	return &PostgresJobStateRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobState(s rowScanner) (*model.JobState, error) {
	js := &model.JobState{}
	var feedID, errorCode, errorDetail sql.NullString
	var state string
	if err := s.Scan(&js.ID, &js.UserID, &js.FetchURL, &state, &feedID,
		&errorCode, &errorDetail, &js.CreatedAt, &js.UpdatedAt); err != nil {
		return nil, err
	}
	js.State = model.JobStatus(state)
	js.FeedID = nullStringValue(feedID)
	js.ErrorCode = nullStringValue(errorCode)
	js.ErrorDetail = nullStringValue(errorDetail)
	return js, nil
}

// Create はジョブ状態を作成し、ユーザーのウォーターマークを更新する。
func (r *PostgresJobStateRepo) Create(ctx context.Context, js *model.JobState) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_states (`+jobStateColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		js.ID, js.UserID, js.FetchURL, string(js.State), nullString(js.FeedID),
		nullString(js.ErrorCode), nullString(js.ErrorDetail), js.CreatedAt, js.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ジョブ状態の作成に失敗しました: %w", err)
	}

	if err := touchWatermark(ctx, tx, js.UserID, js.UpdatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのジョブ状態を取得する。見つからない場合はnilを返す。
func (r *PostgresJobStateRepo) FindByID(ctx context.Context, id string) (*model.JobState, error) {
	js, err := scanJobState(r.db.QueryRowContext(ctx,
		`SELECT `+jobStateColumns+` FROM job_states WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ジョブ状態の取得に失敗しました: %w", err)
	}
	return js, nil
}

// ListByUserID はユーザーのジョブ状態を作成日時の昇順で返す。
func (r *PostgresJobStateRepo) ListByUserID(ctx context.Context, userID string) ([]*model.JobState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobStateColumns+`
		 FROM job_states WHERE user_id = $1
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ジョブ状態一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var states []*model.JobState
	for rows.Next() {
		js, err := scanJobState(rows)
		if err != nil {
			return nil, fmt.Errorf("ジョブ状態行の読み取りに失敗しました: %w", err)
		}
		states = append(states, js)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ジョブ状態の走査に失敗しました: %w", err)
	}
	return states, nil
}

// Transition はRUNNING状態のジョブ状態を終端状態に遷移させる。
// 行ロックを取ってから遷移を適用するため、同一ジョブへの並行した遷移は一方のみが成功する。
func (r *PostgresJobStateRepo) Transition(ctx context.Context, id string, t model.JobTransition, now time.Time) (*model.JobState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	js, err := scanJobState(tx.QueryRowContext(ctx,
		`SELECT `+jobStateColumns+` FROM job_states WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", model.ErrJobStateNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ジョブ状態の取得に失敗しました: %w", err)
	}

	if err := js.Apply(t, now); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE job_states
		 SET state = $2, feed_id = $3, error_code = $4, error_detail = $5, updated_at = $6
		 WHERE id = $1`,
		js.ID, string(js.State), nullString(js.FeedID), nullString(js.ErrorCode), nullString(js.ErrorDetail), js.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("ジョブ状態の遷移に失敗しました: %w", err)
	}

	if err := touchWatermark(ctx, tx, js.UserID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return js, nil
}

// DeleteByUserAndID はユーザーが所有するジョブ状態を削除し、ウォーターマークを更新する。
func (r *PostgresJobStateRepo) DeleteByUserAndID(ctx context.Context, userID, id string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM job_states WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("ジョブ状態の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrJobStateNotFound, id)
	}

	if err := touchWatermark(ctx, tx, userID, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// DeleteTerminatedBefore は指定日時より前に作成された終端状態のジョブ状態を削除する。
// 削除したジョブ状態の所有ユーザーのウォーターマークも更新する。
func (r *PostgresJobStateRepo) DeleteTerminatedBefore(ctx context.Context, before, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`DELETE FROM job_states
		 WHERE state IN ('SUCCESS', 'ERROR') AND created_at < $1
		 RETURNING user_id`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("古いジョブ状態の削除に失敗しました: %w", err)
	}

	var deleted int64
	users := make(map[string]struct{})
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("削除行の読み取りに失敗しました: %w", err)
		}
		users[userID] = struct{}{}
		deleted++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("削除行の走査に失敗しました: %w", err)
	}

	for userID := range users {
		if err := touchWatermark(ctx, tx, userID, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return deleted, nil
}

// Watermark はユーザーのジョブ状態が最後に変更された日時を返す。
func (r *PostgresJobStateRepo) Watermark(ctx context.Context, userID string) (time.Time, error) {
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT updated_at FROM job_state_watermarks WHERE user_id = $1`, userID,
	).Scan(&updatedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("ウォーターマークの取得に失敗しました: %w", err)
	}
	return updatedAt, nil
}

// compile-time interface check
var _ JobStateRepository = (*PostgresJobStateRepo)(nil)
