package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FinalityCollector reports finality metrics to a prometheus registerer.
type FinalityCollector struct {
	headHeight         prometheus.Gauge
	irreversibleHeight *prometheus.GaugeVec
	producedBlocks     prometheus.Counter
	appliedBlocks      prometheus.Counter
	rejectedBlocks     *prometheus.CounterVec
	poppedBlocks       prometheus.Counter
	scheduleVersion    prometheus.Gauge
	schedulePromotions prometheus.Counter
	activatedFeatures  *prometheus.CounterVec
	doubleProductions  prometheus.Counter
}

var _ FinalityMetrics = (*FinalityCollector)(nil)

// NewFinalityCollector registers the finality metrics with reg. A nil reg
// registers with the prometheus default registerer.
func NewFinalityCollector(reg prometheus.Registerer) *FinalityCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &FinalityCollector{
		headHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "head_height",
			Namespace: namespaceChain,
			Subsystem: subsystemFinality,
			Help:      "the block number of the current head",
		}),

		irreversibleHeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:      "irreversible_height",
			Namespace: namespaceChain,
			Subsystem: subsystemFinality,
			Help:      "the last irreversible block number",
		}, []string{labelScheme}),

		producedBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name:      "produced_blocks_total",
			Namespace: namespaceChain,
			Subsystem: subsystemFinality,
			Help:      "the number of blocks produced locally",
		}),

		appliedBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name:      "applied_blocks_total",
			Namespace: namespaceChain,
			Subsystem: subsystemFinality,
			Help:      "the number of received blocks applied to the head",
		}),

		rejectedBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "rejected_blocks_total",
			Namespace: namespaceChain,
			Subsystem: subsystemFinality,
			Help:      "the number of blocks that failed validation, by reason",
		}, []string{labelReason}),

		poppedBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name:      "popped_blocks_total",
			Namespace: namespaceChain,
			Subsystem: subsystemFinality,
			Help:      "the number of reversible blocks removed from the head",
		}),

		scheduleVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "active_schedule_version",
			Namespace: namespaceChain,
			Subsystem: subsystemFinality,
			Help:      "the version of the active producer schedule",
		}),

		schedulePromotions: factory.NewCounter(prometheus.CounterOpts{
			Name:      "schedule_promotions_total",
			Namespace: namespaceChain,
			Subsystem: subsystemFinality,
			Help:      "the number of pending producer schedules promoted to active",
		}),

		activatedFeatures: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "activations_total",
			Namespace: namespaceChain,
			Subsystem: subsystemFeatures,
			Help:      "the number of protocol feature activations, by codename",
		}, []string{labelCodename}),

		doubleProductions: factory.NewCounter(prometheus.CounterOpts{
			Name:      "double_productions_total",
			Namespace: namespaceChain,
			Subsystem: subsystemEvidence,
			Help:      "the number of conflicting blocks signed by one producer for the same slot",
		}),
	}
}

func (fc *FinalityCollector) BlockProduced(blockNum uint32) {
	fc.producedBlocks.Inc()
	fc.headHeight.Set(float64(blockNum))
}

func (fc *FinalityCollector) BlockApplied(blockNum uint32) {
	fc.appliedBlocks.Inc()
	fc.headHeight.Set(float64(blockNum))
}

func (fc *FinalityCollector) BlockRejected(reason string) {
	fc.rejectedBlocks.WithLabelValues(reason).Inc()
}

func (fc *FinalityCollector) IrreversibleAdvanced(scheme string, lib uint32) {
	fc.irreversibleHeight.WithLabelValues(scheme).Set(float64(lib))
}

func (fc *FinalityCollector) SchedulePromoted(version uint32) {
	fc.schedulePromotions.Inc()
	fc.scheduleVersion.Set(float64(version))
}

func (fc *FinalityCollector) FeatureActivated(codename string) {
	fc.activatedFeatures.WithLabelValues(codename).Inc()
}

func (fc *FinalityCollector) BlocksPopped(count int) {
	fc.poppedBlocks.Add(float64(count))
}

func (fc *FinalityCollector) DoubleProductionDetected() {
	fc.doubleProductions.Inc()
}
