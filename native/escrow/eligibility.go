package escrow

// Eligibility is the pure view of which operations are legal at a given time.
// Deposits, withdrawals and delegation are mutually exclusive; once the DAO
// is created every operation is closed.
type Eligibility struct {
	Expired           bool
	FundingReached    bool
	Delegated         bool
	DepositAllowed    bool
	WithdrawalAllowed bool
	DelegationAllowed bool
	Phase             Phase
}

// Evaluate derives the eligibility of s at unix time now. It has no side
// effects.
func Evaluate(s *State, now int64) Eligibility {
	if s == nil {
		return Eligibility{}
	}
	el := Eligibility{
		Expired:        hasExpired(s, now),
		FundingReached: fundingReached(s),
		Delegated:      s.DelegationStatus == DelegationCreated,
	}
	if el.Delegated {
		el.Phase = PhaseDelegated
		return el
	}
	el.DepositAllowed = !el.Expired && !el.FundingReached
	el.WithdrawalAllowed = el.Expired && !el.FundingReached
	el.DelegationAllowed = !el.DepositAllowed && !el.WithdrawalAllowed
	switch {
	case el.DepositAllowed:
		el.Phase = PhaseOpen
	case el.WithdrawalAllowed:
		el.Phase = PhaseFailed
	default:
		el.Phase = PhaseSucceeded
	}
	return el
}

func hasExpired(s *State, now int64) bool { return now >= s.ExpiresAt }

func fundingReached(s *State) bool {
	return cloneAmount(s.TotalFunds).Cmp(cloneAmount(s.FundingLimit)) >= 0
}
