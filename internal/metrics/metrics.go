// Package metrics инкапсулирует Prometheus-метрики конвейера разбора.
// Коллектор опционален: все методы безопасны при nil-получателе,
// библиотека без метрик не тянет за собой регистрацию.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector держит счётчики одного процесса разбора демо.
type Collector struct {
	records    prometheus.Counter
	corrupted  prometheus.Counter
	dispatched prometheus.Counter
	duration   prometheus.Histogram
}

// NewCollector создаёт и регистрирует метрики в реестре reg.
// Если reg == nil, используется глобальный реестр Prometheus.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demoparse",
			Name:      "records_total",
			Help:      "Общее число демультиплексированных записей.",
		}),
		corrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demoparse",
			Name:      "corrupted_records_total",
			Help:      "Записей, пропущенных из-за повреждения или сбоя десериализации.",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demoparse",
			Name:      "events_dispatched_total",
			Help:      "Распознанных игровых событий, переданных экстрактору.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "demoparse",
			Name:      "parse_duration_seconds",
			Help:      "Длительность полного прохода разбора демо.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	for _, col := range []prometheus.Collector{c.records, c.corrupted, c.dispatched, c.duration} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// IncRecords учитывает одну прочитанную запись.
func (c *Collector) IncRecords() {
	if c != nil {
		c.records.Inc()
	}
}

// IncCorrupted учитывает одну повреждённую запись.
func (c *Collector) IncCorrupted() {
	if c != nil {
		c.corrupted.Inc()
	}
}

// IncDispatched учитывает одно доставленное игровое событие.
func (c *Collector) IncDispatched() {
	if c != nil {
		c.dispatched.Inc()
	}
}

// ObserveParse фиксирует длительность прохода.
func (c *Collector) ObserveParse(d time.Duration) {
	if c != nil {
		c.duration.Observe(d.Seconds())
	}
}
