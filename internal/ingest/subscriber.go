package ingest

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"

	"TunnelSpectra/internal/config"
	"TunnelSpectra/internal/model"
)

// SampleHandler is a function that processes one received sample.
// It is expected to be fire-and-forget and must not block.
type SampleHandler func(sample *model.Sample)

// Subscriber subscribes to the sample subject and feeds decoded samples to
// a handler.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.NATSConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes to the configured subject and processes messages with
// the provided handler.
func (s *Subscriber) Start(handler SampleHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var sample model.Sample
		if err := json.Unmarshal(msg.Data, &sample); err != nil {
			log.Printf("Error unmarshalling sample: %v", err)
			return
		}
		handler(&sample)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for samples...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
