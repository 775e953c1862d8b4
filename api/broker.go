package api

import (
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// Alert is the ephemeral toast payload pushed over the SSE stream.
type Alert struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// AlertBroker fans alerts out to the SSE subscribers of each user. Slow
// subscribers drop alerts rather than block the coordinator: an alert is a
// hint, not state.
type AlertBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func NewAlertBroker() *AlertBroker {
	return &AlertBroker{subs: make(map[string]map[chan []byte]struct{})}
}

func (b *AlertBroker) subscribe(userID string) chan []byte {
	ch := make(chan []byte, 8)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan []byte]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *AlertBroker) unsubscribe(userID string, ch chan []byte) {
	b.mu.Lock()
	if subs := b.subs[userID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subs, userID)
		}
	}
	b.mu.Unlock()
}

// Alert implements the coordinator's alert hook.
func (b *AlertBroker) Alert(userID, title, message string) {
	data, err := sonic.ConfigStd.Marshal(Alert{Title: title, Message: message})
	if err != nil {
		log.WithError(err).Error("unable to encode alert")
		return
	}
	b.mu.Lock()
	for ch := range b.subs[userID] {
		select {
		case ch <- data:
		default:
		}
	}
	b.mu.Unlock()
}
