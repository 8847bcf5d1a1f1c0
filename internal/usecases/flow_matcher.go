package usecases

import (
	"sort"
	"strings"

	"saldobot/internal/entities"
)

// MatchResult is the rule that fired for an inbound message
type MatchResult struct {
	Service string
	Keyword string
	Reply   string
}

// FlowMatcher routes provider messages to their service's scripted rules.
// Rules are evaluated in declaration order and the first keyword contained
// in the body wins.
type FlowMatcher struct {
	services []entities.ServiceDefinition
}

func NewFlowMatcher(services []entities.ServiceDefinition) *FlowMatcher {
	return &FlowMatcher{services: services}
}

// Match finds the first rule of the sender's service whose keyword is a
// substring of body and renders its reply for pendingAccount.
func (m *FlowMatcher) Match(sender, body, pendingAccount string) (MatchResult, bool) {
	for _, svc := range m.services {
		if !entities.SameSender(svc.Sender, sender) {
			continue
		}
		for _, rule := range svc.Rules {
			if rule.Keyword == "" || !strings.Contains(body, rule.Keyword) {
				continue
			}
			reply := ""
			if rule.Respond != nil {
				reply = rule.Respond(pendingAccount)
			}
			return MatchResult{Service: svc.Name, Keyword: rule.Keyword, Reply: reply}, true
		}
	}
	return MatchResult{}, false
}

// ServiceBySender returns the first service configured with sender's identity
func (m *FlowMatcher) ServiceBySender(sender string) (entities.ServiceDefinition, bool) {
	for _, svc := range m.services {
		if entities.SameSender(svc.Sender, sender) {
			return svc, true
		}
	}
	return entities.ServiceDefinition{}, false
}

func (m *FlowMatcher) Service(name string) (entities.ServiceDefinition, bool) {
	for _, svc := range m.services {
		if svc.Name == name {
			return svc, true
		}
	}
	return entities.ServiceDefinition{}, false
}

// ServiceNames lists configured services, sorted
func (m *FlowMatcher) ServiceNames() []string {
	names := make([]string, 0, len(m.services))
	for _, svc := range m.services {
		names = append(names, svc.Name)
	}
	sort.Strings(names)
	return names
}
