package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hitoshi/feedsub/internal/metrics"
	"github.com/hitoshi/feedsub/internal/model"
)

// JetStreamConfig はJetStreamQueueの設定。
type JetStreamConfig struct {
	Stream        string        // ストリーム名
	Subject       string        // タスクを発行するサブジェクト
	Durable       string        // 永続コンシューマ名
	Concurrency   int           // 同時に処理するタスク数
	AckWait       time.Duration // ACKを待つ時間。超過すると再配信される
	MaxDeliver    int           // この回数失敗したタスクはExhaustedHandlerに渡して破棄する
	RetryDelay    time.Duration // 初回失敗時の再配信までの待ち時間。失敗のたびに倍になる
	MaxRetryDelay time.Duration // 再配信までの待ち時間の上限
}

func (c *JetStreamConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "FEEDSUB_TASKS"
	}
	if c.Subject == "" {
		c.Subject = "feedsub.tasks.subscribe"
	}
	if c.Durable == "" {
		c.Durable = "feedsub-subscribe-worker"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.AckWait <= 0 {
		c.AckWait = 5 * time.Minute
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 5 * time.Minute
	}
}

// JetStreamQueue はNATS JetStreamのワークキューストリームを使うタスクキュー。
// 発行時にJobStateIDをメッセージIDとして付与し、重複発行を抑止する。
type JetStreamQueue struct {
	js      jetstream.JetStream
	cfg     JetStreamConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// Connect はNATSサーバーに接続する。
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("feedsub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("NATSへの接続に失敗しました: %w", err)
	}
	return nc, nil
}

// NewJetStreamQueue はストリームを作成（または更新）してJetStreamQueueを生成する。
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig, mc metrics.MetricsCollector, logger *slog.Logger) (*JetStreamQueue, error) {
	cfg.applyDefaults()

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("JetStreamコンテキストの作成に失敗しました: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("ストリーム %s の作成に失敗しました: %w", cfg.Stream, err)
	}

	return &JetStreamQueue{
		js:      js,
		cfg:     cfg,
		metrics: mc,
		logger:  logger,
	}, nil
}

// Enqueue はタスクをサブジェクトに発行する。
func (q *JetStreamQueue) Enqueue(ctx context.Context, task model.SubscribeTask) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	if _, err := q.js.Publish(ctx, q.cfg.Subject, payload, jetstream.WithMsgID(task.JobStateID)); err != nil {
		return fmt.Errorf("タスクの発行に失敗しました: %w", err)
	}
	q.metrics.RecordTaskEnqueued(BackendNATS, task.IsPartOfBulkImport)
	return nil
}

// Run は永続コンシューマからタスクを受信し、コンテキストがキャンセルされるまで処理する。
// 停止時は受信を止めた後、処理中のタスクの完了を待つ。
func (q *JetStreamQueue) Run(ctx context.Context, handler Handler, onExhausted ExhaustedHandler) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       q.cfg.Durable,
		FilterSubject: q.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		// 破棄の判断はhandleMsgで行う
		MaxDeliver:    -1,
		MaxAckPending: q.cfg.Concurrency * 2,
	})
	if err != nil {
		return fmt.Errorf("コンシューマ %s の作成に失敗しました: %w", q.cfg.Durable, err)
	}

	sem := make(chan struct{}, q.cfg.Concurrency)
	var wg sync.WaitGroup

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// 停止中に受け取ったメッセージは即座に再配信させる
			_ = msg.Nak()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			q.handleMsg(ctx, msg, handler, onExhausted)
		}()
	})
	if err != nil {
		return fmt.Errorf("メッセージ受信の開始に失敗しました: %w", err)
	}

	q.logger.Info("JetStreamタスクキューの処理を開始しました",
		slog.String("stream", q.cfg.Stream),
		slog.String("durable", q.cfg.Durable),
		slog.Int("concurrency", q.cfg.Concurrency),
	)

	<-ctx.Done()
	cc.Stop()
	wg.Wait()

	q.logger.Info("JetStreamタスクキューの処理を停止しました")
	return nil
}

// handleMsg は1件のメッセージを処理し、ACK/NAK/TERMのいずれかを返す。
func (q *JetStreamQueue) handleMsg(ctx context.Context, msg jetstream.Msg, handler Handler, onExhausted ExhaustedHandler) {
	task, err := decodeTask(msg.Data())
	if err != nil {
		q.logger.Error("不正なタスクを破棄します",
			slog.String("error", err.Error()),
		)
		q.settle(msg.Term(), "term")
		return
	}

	delivered := uint64(0)
	if md, mdErr := msg.Metadata(); mdErr == nil {
		delivered = md.NumDelivered
	}
	if delivered > uint64(q.cfg.MaxDeliver) {
		q.logger.Error("最後の試行が完了しなかったためタスクを破棄します",
			slog.String("job_state_id", task.JobStateID),
			slog.Uint64("delivered", delivered),
		)
		q.metrics.RecordTaskProcessed(BackendNATS, false)
		notifyExhausted(ctx, onExhausted, task, ErrAbandoned)
		q.settle(msg.Term(), "term")
		return
	}

	if err := handler(ctx, task); err != nil {
		q.metrics.RecordTaskProcessed(BackendNATS, false)

		if delivered >= uint64(q.cfg.MaxDeliver) {
			q.logger.Error("最大配信回数に達したためタスクを破棄します",
				slog.String("job_state_id", task.JobStateID),
				slog.Uint64("delivered", delivered),
				slog.String("error", err.Error()),
			)
			notifyExhausted(ctx, onExhausted, task, err)
			q.settle(msg.Term(), "term")
			return
		}

		q.logger.Warn("タスクの処理に失敗しました。再配信されます",
			slog.String("job_state_id", task.JobStateID),
			slog.Uint64("delivered", delivered),
			slog.String("error", err.Error()),
		)
		q.settle(msg.NakWithDelay(retryBackoff(q.cfg.RetryDelay, q.cfg.MaxRetryDelay, int(delivered))), "nak")
		return
	}

	q.metrics.RecordTaskProcessed(BackendNATS, true)
	q.settle(msg.Ack(), "ack")
}

func (q *JetStreamQueue) settle(err error, op string) {
	if err == nil || errors.Is(err, nats.ErrConnectionClosed) {
		return
	}
	q.logger.Error("メッセージの応答に失敗しました",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
