package kafka

import "time"

// Config holds Kafka producer configuration
type Config struct {
	Brokers  []string
	ClientID string

	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int // 0: no ack, 1: leader ack, -1: all replicas ack
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with local defaults
func DefaultConfig() *Config {
	return &Config{
		Brokers:      []string{"localhost:9092"},
		ClientID:     "biobank-shipments",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: -1,
		WriteTimeout: 10 * time.Second,
	}
}

// Topics contains the Kafka topic names owned by the shipment service
var Topics = struct {
	ShipmentEvents string
	SpecimenEvents string
}{
	ShipmentEvents: "biobank.shipments.events",
	SpecimenEvents: "biobank.shipment-specimens.events",
}
