package ingest

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"

	"TunnelSpectra/internal/config"
	"TunnelSpectra/internal/model"
)

// Publisher publishes raw samples to a NATS subject. Used by the probe and
// by any tunnel endpoint pushing its own readings.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish serializes a sample to JSON and publishes it.
func (p *Publisher) Publish(sample *model.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
