// Package notify emits completion events for downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the slice of the SQS client the notifier needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// CompletionEvent is the message body published when a job reaches a
// terminal state.
type CompletionEvent struct {
	VideoID     string   `json:"video_id"`
	Status      string   `json:"status"`
	ManifestKey string   `json:"manifest_key,omitempty"`
	Resolutions []string `json:"resolutions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Notifier publishes completion events to SQS. A nil Notifier is valid and
// drops every event, so wiring stays unconditional when no queue is
// configured.
type Notifier struct {
	client   SQSAPI
	queueURL string
	log      *slog.Logger
}

func NewNotifier(client SQSAPI, queueURL string, log *slog.Logger) *Notifier {
	if queueURL == "" {
		return nil
	}
	return &Notifier{client: client, queueURL: queueURL, log: log}
}

// Publish sends one completion event. Failures are logged, not escalated;
// the job outcome is already durable in the metadata store.
func (n *Notifier) Publish(ctx context.Context, event CompletionEvent) {
	if n == nil {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.log.Error("Failed to marshal completion event", "videoId", event.VideoID, "error", err)
		return
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		n.log.Error("Failed to publish completion event",
			"videoId", event.VideoID,
			"error", fmt.Errorf("sqs send: %w", err),
		)
		return
	}

	n.log.Info("Completion event published", "videoId", event.VideoID, "status", event.Status)
}
