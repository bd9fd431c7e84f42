package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consumerMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velund",
			Name:      "kafka_consumer_messages_total",
			Help:      "Kafka messages handled by consumers, by outcome",
		},
		[]string{"topic", "outcome"},
	)

	consumerProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "velund",
			Name:      "kafka_consumer_processing_duration_seconds",
			Help:      "Duration of Kafka message handling in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	producerMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velund",
			Name:      "kafka_producer_messages_total",
			Help:      "Kafka publish attempts, by outcome",
		},
		[]string{"topic", "outcome"},
	)
)

// Consumer outcomes.
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeMalformed = "malformed"
	outcomeFailed    = "failed"
)
