package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"task-sync/domain"
)

// State of the push channel.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// Handler consumes decoded lifecycle events. The bridge forwards events
// without interpreting business meaning.
type Handler interface {
	HandleEvent(ctx context.Context, ev domain.Event) error
}

const defaultReconnectDelay = time.Second

// ChannelFor names the pub/sub channel scoped to one actor identity.
func ChannelFor(userID string) string {
	return "task-events:" + userID
}

// Bridge consumes task lifecycle events for one actor identity from a Redis
// pub/sub channel and forwards them to the handler. Its lifetime is bound to
// the Run context: cancelling it tears the subscription down before Run
// returns, so a stale identity never leaves a duplicate channel open.
type Bridge struct {
	rc             *redis.Client
	userID         string
	handler        Handler
	state          atomic.Int32
	reconnectDelay time.Duration
}

// New creates a bridge in the disconnected state.
func New(rc *redis.Client, userID string, handler Handler) *Bridge {
	return &Bridge{
		rc:             rc,
		userID:         userID,
		handler:        handler,
		reconnectDelay: defaultReconnectDelay,
	}
}

// State returns the current channel state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
}

// Run subscribes and pumps events until ctx is cancelled. A dropped channel
// is not fatal: the bridge falls back to disconnected and resubscribes after
// a short delay, never stacking a second subscription.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.setState(Disconnected)
	channel := ChannelFor(b.userID)
	for {
		b.setState(Connecting)
		sub := b.rc.Subscribe(ctx, channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			b.setState(Disconnected)
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).WithField("channel", channel).Error("subscribe failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.reconnectDelay):
			}
			continue
		}
		b.setState(Connected)

		closed := b.pump(ctx, sub.Channel())
		_ = sub.Close()
		b.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		if closed {
			log.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.reconnectDelay):
		}
	}
}

// pump forwards messages until the context ends or the channel closes. It
// reports whether the channel closed underneath us.
func (b *Bridge) pump(ctx context.Context, ch <-chan *redis.Message) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-ch:
			if !ok {
				return true
			}
			var ev domain.Event
			if err := sonic.ConfigStd.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.WithError(err).Error("unable to parse event payload")
				continue
			}
			switch ev.Type {
			case domain.TaskCreated, domain.TaskUpdated:
			default:
				log.WithField("type", ev.Type).Debug("skipping unrecognized event kind")
				continue
			}
			if err := b.handler.HandleEvent(ctx, ev); err != nil {
				log.WithError(err).WithField("type", ev.Type).Error("event handler failed")
			}
		}
	}
}
