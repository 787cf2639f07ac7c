package appkafka

import (
	"context"
	"testing"
	"time"

	config "example.com/microblog/internal/init"
	"example.com/microblog/internal/events"
	"example.com/microblog/internal/store"
	"example.com/microblog/internal/store/storetest"
	"github.com/segmentio/kafka-go"
)

func TestInline_AppliesSeen(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	id := storetest.MustAccount(t, st, "john")
	later := time.Now().Add(time.Hour).UTC()

	w := NewInline(st)
	if err := events.Publish(w, events.Seen(id, later), events.Created(id, later)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	acc, _ := st.FindAccountByID(ctx, id)
	if !acc.LastSeen.Equal(later) {
		t.Fatalf("expected last seen %v, got %v", later, acc.LastSeen)
	}
}

func TestInline_RejectsGarbage(t *testing.T) {
	w := NewInline(store.NewMemory())
	if err := w.WriteMessages(kafka.Message{Value: []byte("{invalid-json}")}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMockKafka_RecordsAndQueues(t *testing.T) {
	m := &MockKafka{ReadMessages: []kafka.Message{{Value: []byte("x")}}}

	evt := events.Seen(store.NewID(), time.Now())
	if err := events.Publish(m, evt); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if got := m.Written(); len(got) != 1 || got[0].AccountID != evt.AccountID {
		t.Fatalf("unexpected written events: %+v", got)
	}

	if msg, err := m.ReadMessage(context.Background()); err != nil || string(msg.Value) != "x" {
		t.Fatalf("unexpected read: %q, %v", msg.Value, err)
	}
	if _, err := m.ReadMessage(context.Background()); err == nil {
		t.Fatal("expected error on empty queue")
	}

	m.ShouldFail = true
	if err := events.Publish(m, evt); err == nil {
		t.Fatal("expected write failure")
	}
}

func TestConfigFrom(t *testing.T) {
	kc := ConfigFrom(&config.Config{
		KafkaBroker:  "kafka:9092",
		KafkaTopic:   "activity-topic",
		KafkaGroupID: "activity-worker",
		KafkaReadTO:  3 * time.Second,
	})
	if kc.Brokers[0] != "kafka:9092" || kc.Topic != "activity-topic" || kc.GroupID != "activity-worker" {
		t.Fatalf("unexpected config: %+v", kc)
	}

	d := KafkaConfig{Brokers: []string{""}}.withDefaults()
	if d.Brokers[0] != "localhost:9092" || d.WriteTimeout != 10*time.Second || d.ReadTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}
