package escrow

import "context"

// Verifier checks that the funds backing a deal have actually been deposited
// into the named escrow account. Implementations talk to whatever settlement
// backend the deployment uses; the deal coordinator only sees this interface.
type Verifier interface {
	// VerifyDeposit reports whether the escrow account holds at least the
	// given amount. The second return distinguishes "not funded" from
	// "could not check".
	VerifyDeposit(ctx context.Context, account string, amount float64) (bool, error)
	Close()
}

// StaticVerifier approves or rejects every deposit unconditionally. It backs
// the memory driver and tests.
type StaticVerifier struct {
	Approve bool
}

// VerifyDeposit implements the Verifier interface.
func (v StaticVerifier) VerifyDeposit(context.Context, string, float64) (bool, error) {
	return v.Approve, nil
}

// Close implements the Verifier interface.
func (StaticVerifier) Close() {}
