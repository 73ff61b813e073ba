package alerter

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"TunnelSpectra/internal/config"
	"TunnelSpectra/internal/model"
)

// StatsFunc returns a point-in-time copy of the pipeline counters.
type StatsFunc func() model.WorkerStats

// Alerter periodically evaluates pipeline-health rules against the worker
// stats and sends a consolidated notification when any rule triggers.
type Alerter struct {
	rules    []config.AlerterRule
	notifier model.Notifier
	stats    StatsFunc
	interval time.Duration
	clock    clock.Clock

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates an alerter. It does not start evaluating until Start.
func New(cfg *config.AlerterConfig, clk clock.Clock, notifier model.Notifier, stats StatsFunc) *Alerter {
	return &Alerter{
		rules:    cfg.Rules,
		notifier: notifier,
		stats:    stats,
		interval: cfg.CheckIntervalDuration,
		clock:    clk,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic evaluation loop.
func (a *Alerter) Start() {
	log.Println("Alerter started")
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := a.clock.Ticker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.evaluate()
			case <-a.stopChan:
				return
			}
		}
	}()
}

// Stop ends the evaluation loop after one final check.
func (a *Alerter) Stop() {
	log.Println("Stopping Alerter...")
	close(a.stopChan)
	a.wg.Wait()
	a.evaluate()
}

func (a *Alerter) evaluate() {
	stats := a.stats()

	var triggered []string
	for _, rule := range a.rules {
		value, ok := metricValue(stats, rule.Metric)
		if !ok {
			log.Printf("WARN: alerter rule %q references unknown metric %q", rule.Name, rule.Metric)
			continue
		}
		if !check(value, rule.Threshold, rule.Operator) {
			continue
		}
		triggered = append(triggered, fmt.Sprintf("<h3>Alert: %s</h3>"+
			"<ul>"+
			"<li><b>Metric:</b> <code>%s</code></li>"+
			"<li><b>Condition:</b> <code>%s %.2f</code></li>"+
			"<li><b>Observed Value:</b> <code>%.0f</code></li>"+
			"</ul>",
			rule.Name, rule.Metric, rule.Operator, rule.Threshold, value))
	}

	if len(triggered) == 0 {
		return
	}
	log.Printf("Alerter evaluation completed. %d alert(s) triggered.", len(triggered))

	body := "<h1>TunnelSpectra Pipeline Alert Summary</h1>" +
		"<p>The following alerts were triggered during the last check:</p><hr>" +
		strings.Join(triggered, "<hr>")
	if err := a.notifier.Send("TunnelSpectra pipeline alerts", body); err != nil {
		log.Printf("ERROR: failed to send alert notification: %v", err)
	}
}

// metricValue maps a rule metric name to the corresponding stats field.
func metricValue(s model.WorkerStats, metric string) (float64, bool) {
	switch metric {
	case "dropped_samples":
		return float64(s.DroppedSamples), true
	case "invalid_samples":
		return float64(s.InvalidSamples), true
	case "anomaly_count":
		return float64(s.AnomalyCount), true
	case "counter_resets":
		return float64(s.CounterResets), true
	case "write_failures":
		return float64(s.WriteFailures), true
	case "queue_depth":
		return float64(s.QueueDepth), true
	case "active_instances":
		return float64(s.ActiveInstanceCount), true
	default:
		return 0, false
	}
}

// check compares a value against a threshold based on an operator.
func check(value, threshold float64, operator string) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "=":
		return value == threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	default:
		log.Printf("Warning: unknown operator '%s' in alerter rule", operator)
		return false
	}
}
