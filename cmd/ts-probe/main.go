package main

import (
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"TunnelSpectra/internal/config"
	"TunnelSpectra/internal/ingest"
	"TunnelSpectra/internal/model"
)

// instanceState holds the simulated counters for one fake tunnel instance.
type instanceState struct {
	id     string
	tcpIn  uint64
	tcpOut uint64
	udpIn  uint64
	udpOut uint64
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting ts-probe sample simulator...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	publisher, err := ingest.NewPublisher(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer publisher.Close()

	done := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < cfg.Probe.Instances; i++ {
		inst := &instanceState{id: uuid.NewString()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(publisher, int64(cfg.Probe.EndpointID), inst, cfg.Probe.IntervalDuration, done)
		}()
	}
	log.Printf("Simulating %d instances on endpoint %d every %s", cfg.Probe.Instances, cfg.Probe.EndpointID, cfg.Probe.Interval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	close(done)
	wg.Wait()
	log.Println("Probe stopped.")
}

// run emits one sample per interval with monotonically growing counters,
// an occasional restart-from-zero, and sporadic null ping/pool readings.
func run(publisher *ingest.Publisher, endpointID int64, inst *instanceState, interval time.Duration, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if rand.Intn(500) == 0 {
				// Simulate a tunnel restart.
				inst.tcpIn, inst.tcpOut, inst.udpIn, inst.udpOut = 0, 0, 0, 0
			}
			inst.tcpIn += uint64(rand.Intn(64 << 10))
			inst.tcpOut += uint64(rand.Intn(64 << 10))
			inst.udpIn += uint64(rand.Intn(16 << 10))
			inst.udpOut += uint64(rand.Intn(16 << 10))

			sample := &model.Sample{
				EndpointID: endpointID,
				InstanceID: inst.id,
				TCPIn:      inst.tcpIn,
				TCPOut:     inst.tcpOut,
				UDPIn:      inst.udpIn,
				UDPOut:     inst.udpOut,
				Timestamp:  time.Now(),
			}
			if rand.Intn(10) != 0 {
				ping := 5 + rand.Float64()*80
				pool := float64(1 + rand.Intn(16))
				sample.Ping = &ping
				sample.Pool = &pool
			}
			if err := publisher.Publish(sample); err != nil {
				log.Printf("Error publishing sample for %s: %v", inst.id, err)
			}
		}
	}
}
