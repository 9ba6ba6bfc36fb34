// Package sink fans emitted documents out to external systems: webhooks and
// Kafka topics. Delivery is fire-and-forget; failures log and count but
// never fault a flow.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/stream"
)

type SinkType string

const (
	SinkWebhook SinkType = "WEBHOOK"
	SinkKafka   SinkType = "KAFKA"
)

// Event is the envelope delivered to external sinks.
type Event struct {
	ID        string            `json:"id"`
	Stream    string            `json:"stream"`
	Payload   document.Document `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
}

// TriggerConfig wires one stream to one external sink.
type TriggerConfig struct {
	Name   string
	Stream string
	Sink   SinkType
	Config map[string]string // url for webhook, topic for kafka
}

// TriggerManager subscribes triggers to streams and delivers their events.
type TriggerManager struct {
	logger   *zap.Logger
	mgr      *stream.Manager
	client   *http.Client
	kafka    *kgo.Client
	mu       sync.Mutex
	subs     map[string]string // trigger name -> subscription id
	failures int
}

func NewTriggerManager(logger *zap.Logger, mgr *stream.Manager, kafkaBrokers []string) *TriggerManager {
	tm := &TriggerManager{
		logger: logger,
		mgr:    mgr,
		client: &http.Client{Timeout: 5 * time.Second},
		subs:   make(map[string]string),
	}

	if len(kafkaBrokers) > 0 {
		client, err := kgo.NewClient(kgo.SeedBrokers(kafkaBrokers...))
		if err != nil {
			logger.Error("Failed to create Kafka client", zap.Error(err))
		} else {
			tm.kafka = client
			logger.Info("Connected to Kafka", zap.Strings("brokers", kafkaBrokers))
		}
	}

	return tm
}

// AddTrigger subscribes the trigger to its stream.
func (tm *TriggerManager) AddTrigger(cfg TriggerConfig) error {
	id, err := tm.mgr.Subscribe(cfg.Stream, stream.Subscriber{
		OnData: func(ctx context.Context, doc document.Document) error {
			event := Event{
				ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
				Stream:    cfg.Stream,
				Payload:   doc,
				Timestamp: time.Now(),
			}
			go tm.deliver(ctx, cfg, event)
			return nil
		},
	})
	if err != nil {
		return err
	}
	tm.mu.Lock()
	tm.subs[cfg.Name] = id
	tm.mu.Unlock()
	return nil
}

// RemoveTrigger detaches a trigger by name.
func (tm *TriggerManager) RemoveTrigger(name string) error {
	tm.mu.Lock()
	id, ok := tm.subs[name]
	delete(tm.subs, name)
	tm.mu.Unlock()
	if !ok {
		return fmt.Errorf("trigger not found: %s", name)
	}
	return tm.mgr.Unsubscribe(id)
}

func (tm *TriggerManager) deliver(ctx context.Context, cfg TriggerConfig, event Event) {
	switch cfg.Sink {
	case SinkWebhook:
		url := cfg.Config["url"]
		if url == "" {
			return
		}
		data, _ := json.Marshal(event)
		resp, err := tm.client.Post(url, "application/json", bytes.NewBuffer(data))
		if err != nil {
			tm.fail()
			tm.logger.Error("Webhook failed", zap.String("trigger", cfg.Name), zap.Error(err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			tm.fail()
			tm.logger.Error("Webhook error response", zap.String("trigger", cfg.Name), zap.Int("status", resp.StatusCode))
		}

	case SinkKafka:
		if tm.kafka == nil {
			return
		}
		topic := cfg.Config["topic"]
		if topic == "" {
			topic = "events_" + cfg.Stream
		}

		val, _ := json.Marshal(event)
		record := &kgo.Record{
			Topic: topic,
			Key:   []byte(cfg.Stream),
			Value: val,
		}

		if err := tm.kafka.ProduceSync(ctx, record).FirstErr(); err != nil {
			tm.fail()
			tm.logger.Error("Failed to produce to Kafka", zap.String("trigger", cfg.Name), zap.Error(err))
		}
	}
}

func (tm *TriggerManager) fail() {
	tm.mu.Lock()
	tm.failures++
	tm.mu.Unlock()
}

// Failures reports the count of failed deliveries.
func (tm *TriggerManager) Failures() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.failures
}

func (tm *TriggerManager) Close() {
	if tm.kafka != nil {
		tm.kafka.Close()
	}
}
