package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
)

// streamName はコマンド発行要求を保持するJetStreamストリーム名。
const streamName = "COMMANDS"

// durableName はコンシューマのdurable名。再起動しても配送位置が引き継がれる。
const durableName = "command-delivery"

// maxDeliver は再配送の上限回数。超過したメッセージはJetStream側の
// デッドレター（advisoryイベント）に乗る。
const maxDeliver = 5

// Consumer はメッセージキュー経由のコマンド発行要求を処理するJetStreamコンシューマ。
// 処理失敗はNakで再配送に乗せる。これがこのサブシステム唯一のリトライ機構であり、
// サービス内部にリトライループは存在しない。
type Consumer struct {
	nc      *nats.Conn
	subject string
	service *Service
	logger  *slog.Logger
}

// NewConsumer はConsumerを生成する。
func NewConsumer(nc *nats.Conn, subject string, service *Service, logger *slog.Logger) *Consumer {
	return &Consumer{
		nc:      nc,
		subject: subject,
		service: service,
		logger:  logger,
	}
}

// Start はストリームとdurableコンシューマを確保し、メッセージの消費を開始する。
// 返却される停止関数を呼ぶまでバックグラウンドで動作する。
func (c *Consumer) Start(ctx context.Context) (func(), error) {
	js, err := jetstream.New(c.nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{c.subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", streamName, err)
	}

	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durableName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    maxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", durableName, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	c.logger.Info("コマンドコンシューマを開始しました",
		slog.String("subject", c.subject),
		slog.String("durable", durableName),
	)

	return cc.Stop, nil
}

// handle は1件のコマンド発行要求を処理する。
// 解釈不能なペイロードは再配送しても成功しないためAckして破棄する。
// 処理エラー（アクター未解決を含む）はNakで再配送/デッドレターに委ねる。
func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	var req model.CommandRequest
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		c.logger.Warn("コマンド要求のパースに失敗したため破棄します",
			slog.String("error", err.Error()),
		)
		msg.Ack()
		return
	}

	delivered, err := c.service.IssueCommand(ctx, req.Email, req.Command, req.IssuedAt)
	if err != nil {
		c.logger.Error("コマンド発行に失敗しました",
			slog.String("email", req.Email),
			slog.String("command", string(req.Command)),
			slog.String("error", err.Error()),
		)
		msg.Nak()
		return
	}

	c.logger.Info("コマンド発行要求を処理しました",
		slog.String("email", req.Email),
		slog.String("command", string(req.Command)),
		slog.Bool("delivered", delivered),
	)
	msg.Ack()
}
