// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package capability

// Rule grants Actions to every client whose name matches one of
// Clients. Both lists use [MatchPattern] syntax.
type Rule struct {
	Clients []string `yaml:"clients"`
	Actions []string `yaml:"actions"`
}

// Policy is an ordered list of rules. A client receives one grant per
// matching rule; there are no deny rules.
type Policy struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultPolicy lets every client publish, offer, and subscribe.
func DefaultPolicy() Policy {
	return Policy{Rules: []Rule{{
		Clients: []string{"**"},
		Actions: []string{"vms/**"},
	}}}
}

// GrantsFor returns the grants for clientName.
func (p Policy) GrantsFor(clientName string) []Grant {
	var grants []Grant
	for _, rule := range p.Rules {
		if MatchAnyPattern(rule.Clients, clientName) {
			grants = append(grants, Grant{Actions: append([]string(nil), rule.Actions...)})
		}
	}
	return grants
}
