package metrics

type NoopCollector struct{}

var _ FinalityMetrics = (*NoopCollector)(nil)

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (nc *NoopCollector) BlockProduced(uint32)                {}
func (nc *NoopCollector) BlockApplied(uint32)                 {}
func (nc *NoopCollector) BlockRejected(string)                {}
func (nc *NoopCollector) IrreversibleAdvanced(string, uint32) {}
func (nc *NoopCollector) SchedulePromoted(uint32)             {}
func (nc *NoopCollector) FeatureActivated(string)             {}
func (nc *NoopCollector) BlocksPopped(int)                    {}
func (nc *NoopCollector) DoubleProductionDetected()           {}
