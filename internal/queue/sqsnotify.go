package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

// sqsAPI is the subset of the SQS client the notifier calls.
type sqsAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// enqueuedEvent is the best-effort fan-out payload published alongside the
// durable DB enqueue; consumers outside this pipeline (search-index
// warmers, dashboards) can subscribe without touching the database.
type enqueuedEvent struct {
	DocumentID string `json:"document_id"`
}

// SQSNotifier publishes an at-least-once "document enqueued" notification.
type SQSNotifier struct {
	client   sqsAPI
	queueURL string
}

func NewSQSNotifier(client sqsAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL}
}

func (n *SQSNotifier) NotifyEnqueued(ctx context.Context, documentID uuid.UUID) error {
	body, err := json.Marshal(enqueuedEvent{DocumentID: documentID.String()})
	if err != nil {
		return fmt.Errorf("marshal enqueued event: %w", err)
	}
	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send sqs notification: %w", err)
	}
	return nil
}
