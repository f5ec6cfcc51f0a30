package infra

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestNewKafkaWriterValidates(t *testing.T) {
	if _, err := NewKafkaWriter(nil, "topic"); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaWriter([]string{"k1:9092"}, ""); err == nil {
		t.Fatal("expected error without topic")
	}

	w, err := NewKafkaWriter([]string{"k1:9092", "k2:9092"}, "shop.notifications")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if w.Topic != "shop.notifications" || w.RequiredAcks != kafka.RequireOne {
		t.Fatalf("unexpected writer %+v", w)
	}
	if _, ok := w.Balancer.(*kafka.Hash); !ok {
		t.Fatalf("expected hash balancer, got %T", w.Balancer)
	}
}

func TestConstructorsRequireURLs(t *testing.T) {
	if _, err := NewPostgresPool(context.Background(), "", "shop"); err == nil {
		t.Fatal("expected error for empty database url")
	}
	if _, err := NewRedisClient(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty redis url")
	}
}
