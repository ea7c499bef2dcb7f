/*

This file contains the default policy parameters for the BVM.

Values mirror the rebalancing policy the engine was originally operated with:
a 5 percent drift band, two minute quote freshness, and a ten minute cycle.

*/

package config

const (
	// DefaultDriftThresholdPercent is the weight deviation, in integer
	// percent, beyond which a rebalance is triggered. Drift exactly at the
	// threshold does not trigger.
	DefaultDriftThresholdPercent = 5

	// DefaultMaxQuoteAgeSeconds bounds quote staleness on the valuation path.
	DefaultMaxQuoteAgeSeconds = 120

	// DefaultCycleIntervalSeconds is the pause between service-loop cycles.
	DefaultCycleIntervalSeconds = 600
)
