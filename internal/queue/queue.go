// Package queue は非同期購読タスクのキューを提供する。
// PostgreSQLテーブルを使うPostgresQueueと、NATS JetStreamを使うJetStreamQueueがある。
// いずれも少なくとも1回の配信を保証するため、ハンドラは冪等でなければならない。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/feedsub/internal/model"
)

// Handler は1件のタスクを処理する。エラーを返したタスクは再配信される。
type Handler func(ctx context.Context, task model.SubscribeTask) error

// ExhaustedHandler は最大試行回数まで処理しても成功しなかったタスクについて1回だけ呼ばれる。
// 呼び出し後、タスクはキューから取り除かれる。nilの場合は何もしない。
type ExhaustedHandler func(ctx context.Context, task model.SubscribeTask, cause error)

// ErrAbandoned は最後の試行が完了を報告しないまま（プロセス停止など）再配信されたことを表す。
var ErrAbandoned = errors.New("最後の試行が完了しないまま再配信されました")

// notifyExhausted はキャンセル済みのコンテキストでもジョブ状態を記録できるよう、
// 親のキャンセルを引き継がずにExhaustedHandlerを呼ぶ。
func notifyExhausted(ctx context.Context, onExhausted ExhaustedHandler, task model.SubscribeTask, cause error) {
	if onExhausted == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	onExhausted(ctx, task, cause)
}

const (
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

func encodeTask(task model.SubscribeTask) ([]byte, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("タスクのエンコードに失敗しました: %w", err)
	}
	return data, nil
}

func decodeTask(data []byte) (model.SubscribeTask, error) {
	var task model.SubscribeTask
	if err := json.Unmarshal(data, &task); err != nil {
		return model.SubscribeTask{}, fmt.Errorf("タスクのデコードに失敗しました: %w", err)
	}
	if task.JobStateID == "" || task.UserID == "" {
		return model.SubscribeTask{}, fmt.Errorf("タスクに必須項目がありません: job_state_id=%q user_id=%q", task.JobStateID, task.UserID)
	}
	return task, nil
}
