package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// MessageHandler processes one SQS message body. A returned error leaves the
// message on the queue for redelivery after the visibility timeout.
type MessageHandler func(ctx context.Context, body []byte) error

// SQSConsumer long-polls a queue and deletes each message its handler accepts.
type SQSConsumer struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger

	waitSeconds int32
	backoff     time.Duration
}

func NewSQSConsumer(cfg sdkaws.Config, queueURL string, logger *zap.Logger) *SQSConsumer {
	return newSQSConsumer(sqs.NewFromConfig(cfg), queueURL, logger)
}

func newSQSConsumer(api sqsAPI, queueURL string, logger *zap.Logger) *SQSConsumer {
	return &SQSConsumer{
		client:      api,
		queueURL:    queueURL,
		logger:      logger.With(zap.String("queue_url", queueURL)),
		waitSeconds: 20,
		backoff:     5 * time.Second,
	}
}

// StartPolling polls until ctx is cancelled.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("SQS consumer started")

	for {
		if ctx.Err() != nil {
			c.logger.Info("SQS consumer stopped")
			return ctx.Err()
		}
		if err := c.pollOnce(ctx, handler); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				continue
			}
			c.logger.Error("Error polling SQS", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
		}
	}
}

func (c *SQSConsumer) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.waitSeconds,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}
		if err := handler(ctx, []byte(*msg.Body)); err != nil {
			c.logger.Warn("Failed to process message", zap.Stringp("message_id", msg.MessageId), zap.Error(err))
			continue
		}
		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &c.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.logger.Warn("Failed to delete message", zap.Stringp("message_id", msg.MessageId), zap.Error(err))
		}
	}
	return nil
}
