package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector 调度器聚合计数的指标上报
type Collector struct {
	entries *prometheus.GaugeVec
}

// NewCollector 创建并注册调度器指标，同一个进程只注册一次
func NewCollector() *Collector {
	entries := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bulletin_scheduler_entries",
			Help: "调度器各数据结构的当前条目数",
		},
		[]string{"kind"},
	)
	prometheus.MustRegister(entries)
	return &Collector{entries: entries}
}

func (c *Collector) Observe(stats Stats) {
	c.entries.WithLabelValues("pending").Set(float64(stats.PendingCount))
	c.entries.WithLabelValues("active").Set(float64(stats.ActiveCount))
	c.entries.WithLabelValues("interval").Set(float64(stats.IntervalCount))
	c.entries.WithLabelValues("buffer").Set(float64(stats.BufferCount))
	c.entries.WithLabelValues("pending_delivery").Set(float64(stats.PendingDeliveryCount))
	c.entries.WithLabelValues("wheel").Set(float64(stats.WheelOccupancy))
}
