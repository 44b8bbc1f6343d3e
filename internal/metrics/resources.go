package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceUsage is one CPU and memory sample of the backend process.
type ResourceUsage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceConfig controls backend resource sampling.
type ResourceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ResourceSampler periodically samples the backend with gopsutil and
// exports the values as gauges.
type ResourceSampler struct {
	enabled  bool
	interval time.Duration

	mu     sync.RWMutex
	latest ResourceUsage
	ok     bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewResourceSampler creates a sampler; Interval defaults to 5s.
func NewResourceSampler(cfg ResourceConfig) *ResourceSampler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deskhost",
			Subsystem: "backend",
			Name:      name,
			Help:      help,
		}, []string{"pid"})
	}
	return &ResourceSampler{
		enabled:    cfg.Enabled,
		interval:   interval,
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the backend process."),
		memoryRSS:  gauge("memory_rss_bytes", "Resident memory of the backend process."),
		numThreads: gauge("num_threads", "Thread count of the backend process."),
		numFDs:     gauge("num_fds", "Open file descriptors of the backend process (Unix only)."),
	}
}

// RegisterMetrics registers the resource gauges with r.
func (s *ResourceSampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	collectors := []prometheus.Collector{s.cpuPercent, s.memoryRSS, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples pid() every interval until ctx is done or Stop is called.
// A pid of 0 or less means no backend is running.
func (s *ResourceSampler) Start(ctx context.Context, pid func() int) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Collect(ctx, int32(pid()))
			}
		}
	}()
}

// Stop ends sampling and waits for the sampling goroutine.
func (s *ResourceSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Collect takes one sample of pid and updates the gauges. Gauges of a
// previous pid are dropped.
func (s *ResourceSampler) Collect(ctx context.Context, pid int32) {
	s.mu.Lock()
	prev := s.latest.PID
	s.mu.Unlock()
	if prev != 0 && prev != pid {
		s.forget(prev)
	}
	if pid <= 0 {
		return
	}
	u, err := sample(ctx, pid)
	if err != nil {
		slog.Debug("resource sample failed", "pid", pid, "error", err)
		s.forget(pid)
		return
	}
	label := fmt.Sprint(pid)
	s.cpuPercent.WithLabelValues(label).Set(u.CPUPercent)
	s.memoryRSS.WithLabelValues(label).Set(float64(u.MemoryRSS))
	s.numThreads.WithLabelValues(label).Set(float64(u.NumThreads))
	if runtime.GOOS != "windows" && u.NumFDs > 0 {
		s.numFDs.WithLabelValues(label).Set(float64(u.NumFDs))
	}
	s.mu.Lock()
	s.latest, s.ok = u, true
	s.mu.Unlock()
}

// Latest returns the most recent sample, if any.
func (s *ResourceSampler) Latest() (ResourceUsage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ok
}

func (s *ResourceSampler) forget(pid int32) {
	label := fmt.Sprint(pid)
	s.cpuPercent.DeleteLabelValues(label)
	s.memoryRSS.DeleteLabelValues(label)
	s.numThreads.DeleteLabelValues(label)
	s.numFDs.DeleteLabelValues(label)
	s.mu.Lock()
	if s.latest.PID == pid {
		s.latest, s.ok = ResourceUsage{}, false
	}
	s.mu.Unlock()
}

func sample(ctx context.Context, pid int32) (ResourceUsage, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ResourceUsage{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ResourceUsage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	u := ResourceUsage{
		PID:       pid,
		MemoryRSS: mem.RSS,
		MemoryVMS: mem.VMS,
		Timestamp: time.Now(),
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		u.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDsWithContext(ctx); err == nil {
			u.NumFDs = n
		}
	}
	return u, nil
}
