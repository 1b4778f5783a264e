package policy

// PriorApproval is the slice of a previous version's approval that the
// retention resolver needs.
type PriorApproval struct {
	ID     string
	Status string
}

// Seed is the initial state of one approval on a freshly submitted quote
// version, as decided by the smart retention resolver.
type Seed struct {
	Role         Role
	Status       string
	Smart        bool    // true when carried forward via smart rules
	RetainedFrom *string // prior approval id, set only on retention
	Reasons      []Rule  // the rules that fired for this role
}

// SeedApprovals produces the approval set for a new quote version, carrying
// prior approvals forward where the smart rules allow it.
//
// Per required role: a role with no prior approval, or whose prior approval
// was not approved, starts pending; rejections are never carried forward.
// A prior approved role is retained only when every rule currently
// requiring it is a smart rule whose triggering value is no less favorable
// than on the previous snapshot. Roles no longer required simply do not
// appear; their historical rows stay behind for audit.
func (p *Policy) SeedApprovals(
	previous map[Role]PriorApproval,
	prevSnap *Snapshot,
	newSnap Snapshot,
	required map[Role][]Rule,
) []Seed {
	seeds := make([]Seed, 0, len(required))
	for _, role := range p.OrderedRoles(required) {
		reasons := required[role]
		seed := Seed{Role: role, Status: ApprovalPending, Reasons: reasons}

		if prior, ok := previous[role]; ok &&
			prior.Status == ApprovalApproved &&
			prevSnap != nil &&
			p.retainable(reasons, *prevSnap, newSnap) {
			id := prior.ID
			seed.Status = ApprovalApproved
			seed.Smart = true
			seed.RetainedFrom = &id
		}

		seeds = append(seeds, seed)
	}
	return seeds
}

// retainable reports whether an approved prior sign-off survives the new
// snapshot: every currently-firing rule must be smart and no less
// favorable than before. A single non-smart reason forces re-approval.
func (p *Policy) retainable(reasons []Rule, prev, next Snapshot) bool {
	for _, rule := range reasons {
		if !rule.Smart || !p.favorable(rule, prev, next) {
			return false
		}
	}
	return len(reasons) > 0
}

// favorable compares the rule's triggering value across snapshots.
// Numeric rules are monotonic: lower is more favorable, ties retain.
// Fields with a configured ordinal scale compare by ordinal the same way.
// Plain categorical rules retain only when the previous snapshot already
// matched, i.e. the triggering value is unchanged; any other change fails
// closed.
func (p *Policy) favorable(rule Rule, prev, next Snapshot) bool {
	if rule.numeric() {
		pv, ok1 := prev.numericValue(rule.Field)
		nv, ok2 := next.numericValue(rule.Field)
		return ok1 && ok2 && nv <= pv
	}

	if scale, ok := p.Scales[rule.Field]; ok {
		po, ok1 := scale[prev.stringValue(rule.Field)]
		no, ok2 := scale[next.stringValue(rule.Field)]
		return ok1 && ok2 && no <= po
	}

	return rule.Matches(prev)
}
