package metrics

const (
	namespaceChain    = "finalberry"
	subsystemFinality = "finality"
	subsystemFeatures = "features"
	subsystemEvidence = "evidence"
)

const (
	labelScheme   = "scheme"
	labelReason   = "reason"
	labelCodename = "codename"
)

// Rejection reasons reported by BlockRejected
const (
	ReasonTemporal     = "temporal_order"
	ReasonTemplate     = "template_mismatch"
	ReasonSchedule     = "schedule"
	ReasonSignature    = "signature"
	ReasonConfirmation = "confirmation"
	ReasonFeature      = "protocol_feature"
	ReasonOther        = "other"
)

// FinalityMetrics is implemented by collectors of chain finality metrics.
type FinalityMetrics interface {
	// BlockProduced is called after a locally produced block becomes head.
	BlockProduced(blockNum uint32)
	// BlockApplied is called after a received block becomes head.
	BlockApplied(blockNum uint32)
	// BlockRejected counts a block that failed validation.
	BlockRejected(reason string)
	// IrreversibleAdvanced reports a new last irreversible block.
	IrreversibleAdvanced(scheme string, lib uint32)
	// SchedulePromoted reports the version of a newly active schedule.
	SchedulePromoted(version uint32)
	// FeatureActivated counts a protocol feature activation.
	FeatureActivated(codename string)
	// BlocksPopped counts blocks removed from the head.
	BlocksPopped(count int)
	// DoubleProductionDetected counts conflicting blocks signed by one
	// producer for the same slot.
	DoubleProductionDetected()
}
