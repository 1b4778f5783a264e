package policy

// RequiredApprovers evaluates the full catalog against a snapshot and
// returns, for each required role, every rule that fired ("reasons").
// A role is required when any of its rules matches; all matches are kept
// for display and audit. The result is independent of catalog ordering.
func (p *Policy) RequiredApprovers(snap Snapshot) map[Role][]Rule {
	required := make(map[Role][]Rule)
	for _, rule := range p.Rules {
		if rule.Matches(snap) {
			required[rule.Approver] = append(required[rule.Approver], rule)
		}
	}
	return required
}

// OrderedRoles returns the required roles sorted by the precedence order.
func (p *Policy) OrderedRoles(required map[Role][]Rule) []Role {
	roles := make([]Role, 0, len(required))
	for _, role := range p.Order {
		if _, ok := required[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}
