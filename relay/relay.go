package relay

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"task-sync/bridge"
	"task-sync/domain"
)

// Queue is the durable event queue the tracker's domain service writes to.
type Queue interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

// AzureQueue adapts an azqueue client to the Queue interface.
type AzureQueue struct {
	client *azqueue.QueueClient
}

// NewAzureQueue creates a queue client from a connection string.
func NewAzureQueue(connStr, queueName string) (*AzureQueue, error) {
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, nil)
	if err != nil {
		return nil, err
	}
	return &AzureQueue{client: client}, nil
}

func (q *AzureQueue) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := q.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

func (q *AzureQueue) Delete(ctx context.Context, id, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, id, receipt, nil)
	return err
}

const defaultPollInterval = time.Second

// Relay drains the durable event queue into the per-user Redis channels the
// bridges subscribe to. Undecodable messages are deleted so they do not jam
// the queue.
type Relay struct {
	queue        Queue
	rc           *redis.Client
	pollInterval time.Duration
}

// New creates a relay.
func New(queue Queue, rc *redis.Client) *Relay {
	return &Relay{queue: queue, rc: rc, pollInterval: defaultPollInterval}
}

// Run pumps messages until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("dequeue failed")
			r.sleep(ctx)
			continue
		}
		if msg == nil {
			r.sleep(ctx)
			continue
		}
		r.forward(ctx, msg)
	}
}

func (r *Relay) forward(ctx context.Context, msg *azqueue.DequeuedMessage) {
	payload := ""
	if msg.MessageText != nil {
		payload = *msg.MessageText
	}
	var ev domain.Event
	if err := sonic.ConfigStd.UnmarshalFromString(payload, &ev); err != nil {
		log.WithError(err).Error("dropping undecodable queue message")
	} else if ev.UserID == "" {
		log.Error("dropping event without user id")
	} else {
		switch ev.Type {
		case domain.TaskCreated, domain.TaskUpdated:
			if err := r.rc.Publish(ctx, bridge.ChannelFor(ev.UserID), payload).Err(); err != nil {
				log.WithError(err).WithField("user", ev.UserID).Error("unable to publish event")
				return // leave the message for redelivery
			}
		default:
			log.WithField("type", ev.Type).Debug("skipping unrecognized event kind")
		}
	}
	if err := r.queue.Delete(ctx, deref(msg.MessageID), deref(msg.PopReceipt)); err != nil {
		log.WithError(err).Error("unable to delete queue message")
	}
}

func (r *Relay) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.pollInterval):
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
