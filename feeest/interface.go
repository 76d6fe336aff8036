// Package feeest declares the FeeEstimator capability interface (spec §6)
// and the confirmation-target constants the channel reactor uses when
// building punish and claim transactions.
package feeest

// ConfTarget is a coarse fee-urgency bucket, mirroring the priority tiers
// a fee estimation backend typically exposes.
type ConfTarget uint8

const (
	// HighPriority is used for punish-transaction broadcast: the engine
	// wants the transaction mined before the counterparty can react.
	HighPriority ConfTarget = iota

	// Background is used for claim-transaction broadcast following a
	// cooperative or unilateral settle, where there is no adversary
	// racing to spend the same output.
	Background
)

// Estimator is the FeeEstimator capability (spec §6).
type Estimator interface {
	// GetEstSatPer1000Weight returns the estimated fee rate, in
	// satoshis per 1000 weight units, for the given confirmation
	// target.
	GetEstSatPer1000Weight(target ConfTarget) (uint64, error)
}

// SatPerVByte converts a sat/kW estimate into the sat/vB rate the spec's
// punish/claim transaction construction uses (fee_estimator(target)/250,
// since 1 vByte = 4 weight units and the estimate is per 1000 weight
// units: 1000/4 = 250).
func SatPerVByte(estimator Estimator, target ConfTarget) (float64, error) {
	satPerKw, err := estimator.GetEstSatPer1000Weight(target)
	if err != nil {
		return 0, err
	}
	return float64(satPerKw) / 250, nil
}
