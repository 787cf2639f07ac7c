package appkafka

import (
	"context"
	"errors"
	"sync"

	"example.com/microblog/internal/events"
	"github.com/segmentio/kafka-go"
)

// MockKafka records published messages and serves a queue of messages to
// read. When Store is set, written events are also applied to it.
type MockKafka struct {
	Store           events.Toucher
	WrittenMessages []kafka.Message // stores messages written via WriteMessages
	ReadMessages    []kafka.Message // queue of messages to be read via ReadMessage
	ShouldFail      bool            // flag to simulate failures during write or read operations
	Closed          bool

	mu sync.Mutex
}

func (m *MockKafka) WriteMessages(messages ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		return errors.New("mock kafka write failed")
	}
	m.WrittenMessages = append(m.WrittenMessages, messages...)

	if m.Store == nil {
		return nil
	}
	for _, msg := range messages {
		evt, err := events.Decode(msg.Value)
		if err != nil {
			return err
		}
		if _, err := events.Apply(context.Background(), m.Store, evt); err != nil {
			return err
		}
	}
	return nil
}

// Written decodes every message written so far.
func (m *MockKafka) Written() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]events.Event, 0, len(m.WrittenMessages))
	for _, msg := range m.WrittenMessages {
		if evt, err := events.Decode(msg.Value); err == nil {
			res = append(res, evt)
		}
	}
	return res
}

// ReadMessage pops the next queued message.
func (m *MockKafka) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		return kafka.Message{}, errors.New("mock kafka read failed")
	}
	if len(m.ReadMessages) == 0 {
		return kafka.Message{}, errors.New("no messages")
	}
	msg := m.ReadMessages[0]
	m.ReadMessages = m.ReadMessages[1:]
	return msg, nil
}

func (m *MockKafka) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	return nil
}

// MockKafkaFail always fails.
type MockKafkaFail struct{}

func (m *MockKafkaFail) WriteMessages(messages ...kafka.Message) error {
	return errors.New("mock kafka write failed")
}

func (m *MockKafkaFail) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("mock kafka read failed")
}

func (m *MockKafkaFail) Close() error { return nil }
