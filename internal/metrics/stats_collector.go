package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// SubscriptionCounter reports the number of live stream subscriptions
type SubscriptionCounter interface {
	TotalSubscribers() int
}

// ConnectionCounter reports the number of open SSE connections
type ConnectionCounter interface {
	TotalConnections() int
}

// ConnectivityReporter reports whether the upstream event source is connected
type ConnectivityReporter interface {
	Connected() bool
}

// StatsCollector samples in-memory relay state into gauges at a fixed interval
type StatsCollector struct {
	subscriptions SubscriptionCounter
	connections   ConnectionCounter
	transport     ConnectivityReporter
	logger        *slog.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewStatsCollector creates a new stats collector. Any source may be nil.
func NewStatsCollector(subs SubscriptionCounter, conns ConnectionCounter, transport ConnectivityReporter, logger *slog.Logger) *StatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsCollector{
		subscriptions: subs,
		connections:   conns,
		transport:     transport,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start begins collecting statistics at regular intervals
func (c *StatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()

	c.logger.Info("stats collector started", slog.Duration("interval", interval))
}

// Stop stops the collector. Safe to call more than once.
func (c *StatsCollector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.logger.Info("stats collector stopped")
	})
}

func (c *StatsCollector) collect() {
	if c.subscriptions != nil {
		StreamSubscriptionsActive.Set(float64(c.subscriptions.TotalSubscribers()))
	}
	if c.connections != nil {
		SSEConnectionsActive.Set(float64(c.connections.TotalConnections()))
	}
	if c.transport != nil {
		if c.transport.Connected() {
			TransportConnected.Set(1)
		} else {
			TransportConnected.Set(0)
		}
	}
}
