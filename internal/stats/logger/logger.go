// Package logger reports cache metrics as zap debug entries, for
// deployments without a metrics backend.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/staticfilecache/staticcache/internal/stats"
)

// Collector writes one debug entry per metric update. Each entry carries
// the metric name and its description so log readers need no lookup table.
type Collector struct {
	logger *zap.Logger
}

var _ stats.Collector = (*Collector)(nil)

// New returns a Collector writing to logger, or discarding when logger is nil.
func New(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{logger: logger}
}

func (c *Collector) IncCounter(name string, delta int64) {
	c.write("counter", name, zap.Int64("delta", delta))
}

func (c *Collector) SetGauge(name string, value int64) {
	c.write("gauge", name, zap.Int64("value", value))
}

func (c *Collector) ObserveHistogram(name string, value float64) {
	c.write("histogram", name, zap.Float64("value", value))
}

// write skips field construction when debug logging is off.
func (c *Collector) write(kind, name string, value zap.Field) {
	ce := c.logger.Check(zapcore.DebugLevel, kind)
	if ce == nil {
		return
	}
	ce.Write(
		zap.String("metric", name),
		zap.String("help", stats.Help(name)),
		value,
	)
}
