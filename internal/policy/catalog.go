// Package policy implements the approval policy engine: the rule catalog,
// the rule evaluator, smart retention, approver sequencing and quote
// status aggregation. Everything here is pure; storage and transport live
// with the callers.
package policy

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is a required-approver role. Roles are configuration values, not a
// closed set; the defaults mirror the shipped rule catalog.
type Role string

const (
	RoleManager  Role = "Manager"
	RoleServices Role = "Services"
	RoleDealDesk Role = "Deal Desk"
	RoleFinance  Role = "Finance"
	RoleLegal    Role = "Legal"
)

// conditionKind is the parsed form of a rule condition expression.
type conditionKind int

const (
	condAny conditionKind = iota // blanket rule, always matches
	condExact
	condThreshold // strictly greater than
	condRange     // inclusive both ends
)

// Rule is one entry in the approval rule catalog. Static at runtime.
type Rule struct {
	Field     string `yaml:"field" json:"field"`
	Condition string `yaml:"condition" json:"condition"`
	Approver  Role   `yaml:"approver" json:"approver"`
	Smart     bool   `yaml:"smart" json:"smart"`

	kind      conditionKind
	threshold float64
	rangeMin  float64
	rangeMax  float64
}

// Matches reports whether the rule fires for the snapshot. Numeric
// comparisons on a categorical field (or vice versa) fail closed.
func (r *Rule) Matches(snap Snapshot) bool {
	switch r.kind {
	case condAny:
		return true
	case condExact:
		v := snap.stringValue(r.Field)
		return v != "" && v == r.Condition
	case condThreshold:
		v, ok := snap.numericValue(r.Field)
		return ok && v > r.threshold
	case condRange:
		v, ok := snap.numericValue(r.Field)
		return ok && v >= r.rangeMin && v <= r.rangeMax
	}
	return false
}

// compile parses the condition expression into its matchable form.
//
// Recognized shapes:
//   - "Any ..."            blanket rule
//   - "A% - B%"            inclusive numeric range
//   - ">$N" / ">N%"        strict numeric threshold
//   - anything else        case-sensitive exact match
//
// ">Net 60" and "12-24 Months" carry neither $ nor % and stay exact
// matches on the enum value.
func (r *Rule) compile() error {
	c := strings.TrimSpace(r.Condition)
	switch {
	case c == "" || strings.HasPrefix(c, "Any"):
		r.kind = condAny
	case strings.Contains(c, "%") && strings.Contains(c, "-"):
		parts := strings.SplitN(c, "-", 2)
		min, err1 := parseNumeric(parts[0])
		max, err2 := parseNumeric(parts[1])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("rule %s %q: unparsable range", r.Field, r.Condition)
		}
		if min > max {
			return fmt.Errorf("rule %s %q: inverted range", r.Field, r.Condition)
		}
		r.kind = condRange
		r.rangeMin, r.rangeMax = min, max
	case strings.HasPrefix(c, ">") && (strings.Contains(c, "$") || strings.Contains(c, "%")):
		n, err := parseNumeric(c)
		if err != nil {
			return fmt.Errorf("rule %s %q: unparsable threshold", r.Field, r.Condition)
		}
		r.kind = condThreshold
		r.threshold = n
	default:
		r.kind = condExact
	}
	return nil
}

// numeric reports whether the rule compares numbers.
func (r *Rule) numeric() bool {
	return r.kind == condThreshold || r.kind == condRange
}

// parseNumeric extracts a number from a condition fragment by stripping
// everything that is not a digit or decimal point.
func parseNumeric(s string) (float64, error) {
	var b strings.Builder
	for _, ch := range s {
		if ch >= '0' && ch <= '9' || ch == '.' {
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return 0, fmt.Errorf("no numeric value in %q", s)
	}
	return strconv.ParseFloat(b.String(), 64)
}

// Policy bundles the rule catalog with the approver precedence order and
// the per-field favorability scales used by smart retention.
type Policy struct {
	Rules  []Rule                    `yaml:"rules"`
	Order  []Role                    `yaml:"order"`
	Scales map[string]map[string]int `yaml:"scales"`
}

// Default returns the shipped policy: catalog, precedence order and
// ordinal scales as observed in production.
func Default() *Policy {
	p := &Policy{
		Rules: []Rule{
			{Field: FieldTotalAmount, Condition: "Any Amount", Approver: RoleManager, Smart: false},
			{Field: FieldTotalAmount, Condition: ">$10,000", Approver: RoleDealDesk, Smart: true},
			{Field: FieldTotalAmount, Condition: ">$50,000", Approver: RoleFinance, Smart: true},
			{Field: FieldTotalAmount, Condition: ">$100,000", Approver: RoleLegal, Smart: true},
			{Field: FieldDiscountPercentage, Condition: "20% - 30%", Approver: RoleDealDesk, Smart: true},
			{Field: FieldDiscountPercentage, Condition: ">30%", Approver: RoleFinance, Smart: true},
			{Field: FieldDiscountPercentage, Condition: ">40%", Approver: RoleLegal, Smart: true},
			{Field: FieldSpecialTerms, Condition: "Service Terms", Approver: RoleServices, Smart: false},
			{Field: FieldSpecialTerms, Condition: "Non-standard", Approver: RoleLegal, Smart: false},
			{Field: FieldPaymentTerms, Condition: ">Net 60", Approver: RoleFinance, Smart: true},
			{Field: FieldPaymentType, Condition: "Invoice", Approver: RoleFinance, Smart: false},
			{Field: FieldBillingFrequency, Condition: "Monthly", Approver: RoleFinance, Smart: false},
			{Field: FieldProductService, Condition: "Service", Approver: RoleServices, Smart: false},
			{Field: FieldContractDuration, Condition: "12-24 Months", Approver: RoleDealDesk, Smart: true},
			{Field: FieldContractDuration, Condition: ">24 Months", Approver: RoleLegal, Smart: true},
			{Field: FieldDiscountType, Condition: "Non-standard", Approver: RoleDealDesk, Smart: false},
			{Field: FieldRegionTerritory, Condition: "International", Approver: RoleLegal, Smart: false},
		},
		Order: []Role{RoleManager, RoleServices, RoleDealDesk, RoleFinance, RoleLegal},
		Scales: map[string]map[string]int{
			FieldPaymentTerms: {
				"Standard": 1,
				">Net 60":  2,
				">Net 90":  3,
			},
			FieldContractDuration: {
				"Any Duration": 1,
				"12-24 Months": 2,
				">24 Months":   3,
			},
		},
	}
	if err := p.compile(); err != nil {
		// The shipped catalog is covered by tests; a compile failure here
		// is a programming error.
		panic(err)
	}
	return p
}

// Load reads a policy file (YAML). Sections omitted from the file fall
// back to the shipped defaults, so a deployment can override just the
// precedence order or just the catalog.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	def := Default()
	if len(p.Rules) == 0 {
		p.Rules = def.Rules
	}
	if len(p.Order) == 0 {
		p.Order = def.Order
	}
	if p.Scales == nil {
		p.Scales = def.Scales
	}

	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// compile validates and parses every rule, and checks that each approver
// appears in the precedence order.
func (p *Policy) compile() error {
	pos := make(map[Role]int, len(p.Order))
	for i, role := range p.Order {
		pos[role] = i
	}
	for i := range p.Rules {
		if err := p.Rules[i].compile(); err != nil {
			return err
		}
		if _, ok := pos[p.Rules[i].Approver]; !ok {
			return fmt.Errorf("approver %q not in precedence order", p.Rules[i].Approver)
		}
	}
	return nil
}

// rank returns a role's position in the precedence order. Unknown roles
// sort last; compile guarantees catalog approvers are known.
func (p *Policy) rank(role Role) int {
	for i, r := range p.Order {
		if r == role {
			return i
		}
	}
	return len(p.Order)
}
