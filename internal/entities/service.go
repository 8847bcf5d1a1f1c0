package entities

import "strings"

// FlowRule is one step of a provider's scripted menu.
// Respond receives the pending account number; most rules ignore it.
type FlowRule struct {
	Keyword string
	Respond func(accountNumber string) string
}

// ServiceDefinition is a utility provider with its chat identity and ordered rules
type ServiceDefinition struct {
	Name   string
	Sender string
	Rules  []FlowRule
}

// RefreshTarget is an account watched by the scheduled refresh
type RefreshTarget struct {
	Service       string
	AccountNumber string
}

// FixedReply returns a responder that always answers text.
func FixedReply(text string) func(string) string {
	return func(string) string { return text }
}

// AccountReply returns a responder that answers with the pending account number.
func AccountReply() func(string) string {
	return func(accountNumber string) string { return accountNumber }
}

// Servers whose user part is a phone number
const (
	phoneServer       = "s.whatsapp.net"
	legacyPhoneServer = "c.us"
)

// NormalizeSender reduces a chat address to a comparable identity so that
// "5491100000000", "+5491100000000", "5491100000000@s.whatsapp.net" and
// "5491100000000:12@s.whatsapp.net" compare equal. Addresses on any other
// server keep it, so "123@lid" never equals the phone number "123".
func NormalizeSender(sender string) string {
	s := strings.TrimSpace(sender)
	server := ""
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s, server = s[:i], strings.ToLower(s[i+1:])
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "+")
	switch server {
	case "", phoneServer, legacyPhoneServer:
		return s
	default:
		return s + "@" + server
	}
}

// SameSender reports whether two chat addresses denote the same account
func SameSender(a, b string) bool {
	na := NormalizeSender(a)
	return na != "" && na == NormalizeSender(b)
}
