package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, opt ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, opt ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, opt ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue delivers tasks through Amazon SQS. The visibility timeout is kept
// at or above the task timeout so a task is not redelivered while its first
// consumer may still publish a result.
type SQSQueue struct {
	client            SQSAPI
	queueURL          string
	visibilityTimeout int32
}

// NewSQSQueue builds an SQS-backed queue from the ambient AWS configuration.
func NewSQSQueue(ctx context.Context, queueURL string, taskTimeout time.Duration) (*SQSQueue, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSQueueWithClient(sqs.NewFromConfig(cfg), queueURL, taskTimeout), nil
}

// NewSQSQueueWithClient wraps an existing client, for tests.
func NewSQSQueueWithClient(client SQSAPI, queueURL string, taskTimeout time.Duration) *SQSQueue {
	visibility := int32(taskTimeout / time.Second)
	if visibility < 30 {
		visibility = 30
	}
	return &SQSQueue{client: client, queueURL: queueURL, visibilityTimeout: visibility}
}

func (q *SQSQueue) Enqueue(ctx context.Context, task ChunkWriteTask) error {
	payload, err := task.Encode()
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Message, error) {
	wait := int32(timeout / time.Second)
	if wait > 20 {
		wait = 20 // SQS long-poll maximum
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     wait,
		VisibilityTimeout:   q.visibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	msg := out.Messages[0]
	task, err := DecodeTask([]byte(aws.ToString(msg.Body)))
	if err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &Message{Task: task, Receipt: aws.ToString(msg.ReceiptHandle)}, nil
}

func (q *SQSQueue) Ack(ctx context.Context, msg *Message) error {
	if msg.Receipt == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.Receipt),
	})
	return err
}
