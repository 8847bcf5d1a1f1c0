package usecases

import (
	"reflect"
	"testing"

	"saldobot/internal/entities"
)

func testServices() []entities.ServiceDefinition {
	return []entities.ServiceDefinition{
		{
			Name:   "EDENOR",
			Sender: "5491100000001",
			Rules: []entities.FlowRule{
				{Keyword: "Factura", Respond: entities.FixedReply("Por favor, indícanos tu número de cliente para ayudarte con la factura.")},
				{Keyword: "Corte de luz", Respond: entities.FixedReply("Estamos trabajando para resolver el problema en tu zona.")},
			},
		},
		{
			Name:   "EDESUR",
			Sender: "5491100000002",
			Rules: []entities.FlowRule{
				{Keyword: "2: 💰 Consulta de saldo", Respond: entities.FixedReply("2")},
				{Keyword: "Introducí el número de cliente", Respond: entities.AccountReply()},
				{Keyword: "¿Te puedo ayudar con algo más?", Respond: entities.FixedReply("2")},
			},
		},
		{
			Name:  "METROGAS",
			Rules: []entities.FlowRule{{Keyword: "Consulta de deuda", Respond: entities.FixedReply("ok")}},
		},
	}
}

func TestFlowMatcherMatchesSubstring(t *testing.T) {
	t.Parallel()

	matcher := NewFlowMatcher(testServices())
	got, ok := matcher.Match("5491100000001@s.whatsapp.net", "Tu Factura de este mes no saldo pendiente", "12345")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Service != "EDENOR" || got.Keyword != "Factura" {
		t.Fatalf("unexpected match: %+v", got)
	}
	if got.Reply != "Por favor, indícanos tu número de cliente para ayudarte con la factura." {
		t.Fatalf("unexpected reply: %q", got.Reply)
	}
}

func TestFlowMatcherFirstRuleWins(t *testing.T) {
	t.Parallel()

	matcher := NewFlowMatcher(testServices())
	got, ok := matcher.Match("5491100000001", "Corte de luz en la zona de tu Factura", "")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Keyword != "Factura" {
		t.Fatalf("expected earliest-declared rule to win, got %q", got.Keyword)
	}
}

func TestFlowMatcherTemplatesAccount(t *testing.T) {
	t.Parallel()

	matcher := NewFlowMatcher(testServices())
	got, ok := matcher.Match("5491100000002", "Introducí el número de cliente sin espacios ni letras.", "98765")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Reply != "98765" {
		t.Fatalf("expected account number reply, got %q", got.Reply)
	}
}

func TestFlowMatcherMisses(t *testing.T) {
	t.Parallel()

	matcher := NewFlowMatcher(testServices())
	cases := []struct {
		name   string
		sender string
		body   string
	}{
		{name: "unknown sender", sender: "5491199999999", body: "Factura"},
		{name: "no keyword", sender: "5491100000001", body: "Hola, ¿cómo estás?"},
		{name: "case sensitive", sender: "5491100000001", body: "tu factura"},
		{name: "rule of another service", sender: "5491100000001", body: "2: 💰 Consulta de saldo"},
		{name: "service without sender", sender: "", body: "Consulta de deuda"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got, ok := matcher.Match(tc.sender, tc.body, ""); ok {
				t.Fatalf("expected no match, got %+v", got)
			}
		})
	}
}

func TestFlowMatcherLookups(t *testing.T) {
	t.Parallel()

	matcher := NewFlowMatcher(testServices())
	if names := matcher.ServiceNames(); !reflect.DeepEqual(names, []string{"EDENOR", "EDESUR", "METROGAS"}) {
		t.Fatalf("unexpected names: %v", names)
	}
	svc, ok := matcher.ServiceBySender("+5491100000002")
	if !ok || svc.Name != "EDESUR" {
		t.Fatalf("unexpected service by sender: %+v", svc)
	}
	if _, ok := matcher.Service("AYSA"); ok {
		t.Fatal("expected AYSA to be unknown")
	}
}
