// Package metrics exposes finality metrics.
//
// FinalityCollector reports block production, last irreversible block
// progress, schedule promotions and feature activations to prometheus.
// NoopCollector satisfies the same interface and is the default for
// callers that do not export metrics.
package metrics
