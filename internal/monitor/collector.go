package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/rep4rep-bot/internal/model"
)

// MetricsSubject is the NATS subject periodic snapshots are published on
const MetricsSubject = "bot.metrics"

// StatusSource provides the run counters for a snapshot
type StatusSource interface {
	GetStatistics() model.RunStatistics
}

// Snapshot is one periodic sample of host load and run progress
type Snapshot struct {
	Timestamp   time.Time           `json:"timestamp"`
	CPUUsage    float64             `json:"cpu_usage"`
	MemoryUsage float64             `json:"memory_usage"`
	Run         model.RunStatistics `json:"run"`
}

// Collector samples host and run metrics on an interval. When a NATS
// connection is configured the snapshots are also published.
type Collector struct {
	logger   *zap.Logger
	source   StatusSource
	nc       *nats.Conn
	interval time.Duration

	mu   sync.RWMutex
	last Snapshot
	stop chan struct{}
}

// NewCollector creates a collector. nc may be nil; snapshots are then
// only kept locally.
func NewCollector(source StatusSource, nc *nats.Conn, interval time.Duration, logger *zap.Logger) *Collector {
	return &Collector{
		logger:   logger.Named("monitor"),
		source:   source,
		nc:       nc,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start launches the collection loop
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("Starting metrics collector",
		zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop stops the collection loop
func (c *Collector) Stop() {
	c.logger.Info("Stopping metrics collector")
	close(c.stop)
}

// Last returns the most recent snapshot
func (c *Collector) Last() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	snapshot := Snapshot{
		Timestamp: time.Now(),
		Run:       c.source.GetStatistics(),
	}

	if cpuPercent, err := cpu.Percent(0, false); err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		snapshot.CPUUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		snapshot.MemoryUsage = memInfo.UsedPercent
	}

	c.mu.Lock()
	c.last = snapshot
	c.mu.Unlock()

	if c.nc != nil {
		data, err := json.Marshal(snapshot)
		if err != nil {
			c.logger.Error("Failed to marshal metrics", zap.Error(err))
			return
		}
		if err := c.nc.Publish(MetricsSubject, data); err != nil {
			c.logger.Error("Failed to publish metrics", zap.Error(err))
			return
		}
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage),
		zap.Int("completed", snapshot.Run.TotalCompleted),
		zap.Int("failed", snapshot.Run.TotalFailed))
}
