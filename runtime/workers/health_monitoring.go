package workers

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HealthMonitoringWorker samples the relay's own process on a ticker and
// logs CPU and memory figures. Fanout pressure shows up here long before
// clients notice it.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	metricInterval time.Duration
}

func NewHealthMonitoringWorker(log *slog.Logger, metricInterval time.Duration) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{log: log, metricInterval: metricInterval}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			cpuPercent, err := proc.CPUPercent()
			if err != nil {
				w.log.Debug("Error while retrieving CPU usage", "err", err)
				continue
			}
			memInfo, err := proc.MemoryInfo()
			if err != nil {
				w.log.Debug("Error while retrieving memory usage", "err", err)
				continue
			}
			w.log.Info("Process health",
				"cpu_percent", cpuPercent,
				"rss_mb", memInfo.RSS/(1024*1024),
				"goroutines", runtime.NumGoroutine())
		}
	}
}
