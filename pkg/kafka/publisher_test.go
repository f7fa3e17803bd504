package kafka

import "testing"

func TestParseBrokers(t *testing.T) {
	brokers := ParseBrokers(" kafka-1:9092, ,kafka-2:9092,")
	if len(brokers) != 2 || brokers[0] != "kafka-1:9092" || brokers[1] != "kafka-2:9092" {
		t.Fatalf("expected two trimmed brokers, got %v", brokers)
	}
	if got := ParseBrokers(""); len(got) != 0 {
		t.Fatalf("expected no brokers, got %v", got)
	}
}

func TestMessageKeyPrefersTransferID(t *testing.T) {
	if got := string(messageKey([]byte(`{"transfer_id":"abc","amount":"1.00"}`), "transfer.completed")); got != "abc" {
		t.Fatalf("expected transfer id key, got %q", got)
	}
	if got := string(messageKey([]byte(`{"amount":"1.00"}`), "transfer.completed")); got != "transfer.completed" {
		t.Fatalf("expected routing key fallback, got %q", got)
	}
}
