package kafkaconsumer

import (
	"strings"
	"time"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// DedupeSize bounds how many event subjects are remembered.
	DedupeSize int
}

// NewConfig fills the group timings around the connection settings.
func NewConfig(brokersCSV, topic, group string) Config {
	if topic == "" {
		topic = "pollution-invalidation"
	}
	if group == "" {
		group = "cache-invalidator"
	}
	return Config{
		Brokers:             splitCSV(brokersCSV),
		Topic:               topic,
		GroupID:             group,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: false,
		DedupeSize:          4096,
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
