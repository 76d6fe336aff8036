// Package oracle declares the Oracle capability interface the engine
// consumes to fetch event announcements and attestations. Retrieval of
// announcements/attestations from a concrete oracle server is an external
// collaborator per spec §1.
package oracle

import "github.com/btcsuite/btcd/btcec/v2"

// Announcement is an oracle's pre-commitment to later attest to one of a
// fixed set of outcomes for an event.
type Announcement struct {
	EventID   string
	PublicKey *btcec.PublicKey

	// NoncePoints are the oracle's per-outcome-digit nonce commitments,
	// one per "bit" or enumeration slot depending on the contract's
	// payout representation (numeric or enumerated).
	NoncePoints []*btcec.PublicKey

	// EventMaturityEpoch is the unix time at or after which the oracle
	// commits to having published its attestation.
	EventMaturityEpoch uint64

	// Outcomes enumerates the possible outcome strings for an
	// enumeration-style event; empty for a numeric/digit-decomposed
	// event.
	Outcomes []string
}

// Attestation is the oracle's signed reveal of the outcome of a
// previously-announced event.
type Attestation struct {
	EventID   string
	Outcomes  []string
	Signatures [][]byte
}

// Oracle is the set of operations the engine needs against a single oracle,
// matching spec §6.
type Oracle interface {
	// GetPublicKey returns the oracle's long-term public key.
	GetPublicKey() (*btcec.PublicKey, error)

	// GetAnnouncement fetches the announcement for eventID. Returns an
	// error wrapping dlcerr.KindOracle if the event is unknown.
	GetAnnouncement(eventID string) (*Announcement, error)

	// GetAttestation fetches the attestation for eventID, if the oracle
	// has published one. Returns an error wrapping dlcerr.KindOracle if
	// no attestation is available yet; callers (ContractStateMachine's
	// check_confirmed_contracts) treat this as "skip this oracle for
	// now", not fatal.
	GetAttestation(eventID string) (*Attestation, error)
}

// Registry looks oracles up by the public key named in an announcement, so
// a contract referencing several oracles (an oracle info "threshold" set)
// can resolve each one independently.
type Registry interface {
	OracleFor(pubKey *btcec.PublicKey) (Oracle, bool)
}
