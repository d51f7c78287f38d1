package messaging

import (
	"log/slog"
	"testing"
)

func TestGetProducerReuse(t *testing.T) {
	k := NewKafkaClient([]string{"localhost:9092"}, slog.Default())
	defer func() {
		if err := k.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	first := k.GetProducer(TopicShares)
	second := k.GetProducer(TopicShares)
	if first != second {
		t.Error("producer not reused for the same topic")
	}

	other := k.GetProducer(TopicBlocks)
	if first == other {
		t.Error("distinct topics share a producer")
	}
}

func TestTopicNames(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{TopicShares, "pool.shares"},
		{TopicBlocks, "pool.blocks"},
		{TopicTelemetry, "pool.telemetry"},
	}

	for _, tt := range tests {
		if tt.topic != tt.want {
			t.Errorf("topic = %q, want %q", tt.topic, tt.want)
		}
	}
}
