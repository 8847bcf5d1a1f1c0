package repository

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"saldobot/internal/entities"
)

// FlowFile is the YAML layout of a flow table override
type FlowFile struct {
	Services []FlowService `yaml:"services"`
}

type FlowService struct {
	Name  string          `yaml:"name"`
	Rules []FlowRuleEntry `yaml:"rules"`
}

// FlowRuleEntry answers either with a fixed Reply or, when ReplyAccount is set,
// with the pending account number
type FlowRuleEntry struct {
	Keyword      string `yaml:"keyword"`
	Reply        string `yaml:"reply"`
	ReplyAccount bool   `yaml:"reply_account"`
}

// DefaultServices is the built-in flow table for the supported providers.
func DefaultServices() []entities.ServiceDefinition {
	return []entities.ServiceDefinition{
		{
			Name: "EDENOR",
			Rules: []entities.FlowRule{
				{Keyword: "Factura", Respond: entities.FixedReply("Por favor, indícanos tu número de cliente para ayudarte con la factura.")},
				{Keyword: "Corte de luz", Respond: entities.FixedReply("Estamos trabajando para resolver el problema en tu zona.")},
			},
		},
		{
			Name: "EDESUR",
			Rules: []entities.FlowRule{
				{Keyword: "2: 💰 Consulta de saldo", Respond: entities.FixedReply("2")},
				{Keyword: "Introducí el número de cliente sin espacios ni letras.", Respond: entities.AccountReply()},
				{Keyword: "Solamente ingresar números (0 al 9).", Respond: entities.AccountReply()},
				{Keyword: "El número de cliente debe tener hasta 8 dígitos.", Respond: entities.AccountReply()},
				{Keyword: "dirección registrada", Respond: entities.FixedReply("1")},
				{Keyword: "¿Te puedo ayudar con algo más?", Respond: entities.FixedReply("2")},
			},
		},
		{
			Name: "AYSA",
			Rules: []entities.FlowRule{
				{Keyword: "1. Estado de cuenta", Respond: entities.FixedReply("1")},
				{Keyword: "Para pasarte tu Estado de Cuenta 📊, necesito el número de Cuenta de Servicios que está en tu factura. ¿Lo tenés?", Respond: entities.FixedReply("1")},
				{Keyword: "Voy a necesitar tu número de Cuenta de Servicios, que está en tu factura, para informarte sobre tu Estado de Cuenta 📊.", Respond: entities.FixedReply("1")},
				{Keyword: "Se presentó un error, por favor intentá nuevamente.", Respond: entities.FixedReply("SALDO")},
				{Keyword: "ingresá el número de cuenta de servicios:", Respond: entities.AccountReply()},
				{Keyword: "¿Querés realizar otras consultas?", Respond: entities.FixedReply("2")},
			},
		},
		{
			Name: "METROGAS",
			Rules: []entities.FlowRule{
				{Keyword: "Consulta de deuda", Respond: entities.FixedReply("Por favor, indícanos tu número de cliente para continuar.")},
				{Keyword: "Fuga de gas", Respond: entities.FixedReply("Llama al 0800-333-4430 para emergencias.")},
			},
		},
	}
}

// LoadFlowsFile reads a YAML flow table. Rule order in the file is preserved.
func LoadFlowsFile(path string) ([]entities.ServiceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flows file: %w", err)
	}
	return ParseFlows(data)
}

func ParseFlows(data []byte) ([]entities.ServiceDefinition, error) {
	var file FlowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse flows: %w", err)
	}
	if len(file.Services) == 0 {
		return nil, errors.New("flows file defines no services")
	}

	seen := make(map[string]bool, len(file.Services))
	services := make([]entities.ServiceDefinition, 0, len(file.Services))
	for _, fs := range file.Services {
		name := strings.TrimSpace(fs.Name)
		if name == "" {
			return nil, errors.New("service without name")
		}
		if seen[name] {
			return nil, fmt.Errorf("service %s defined twice", name)
		}
		seen[name] = true
		if len(fs.Rules) == 0 {
			return nil, fmt.Errorf("service %s has no rules", name)
		}

		svc := entities.ServiceDefinition{Name: name, Rules: make([]entities.FlowRule, 0, len(fs.Rules))}
		for i, entry := range fs.Rules {
			if entry.Keyword == "" {
				return nil, fmt.Errorf("service %s rule %d: empty keyword", name, i+1)
			}
			if entry.ReplyAccount == (entry.Reply != "") {
				return nil, fmt.Errorf("service %s rule %d: set exactly one of reply or reply_account", name, i+1)
			}
			rule := entities.FlowRule{Keyword: entry.Keyword, Respond: entities.FixedReply(entry.Reply)}
			if entry.ReplyAccount {
				rule.Respond = entities.AccountReply()
			}
			svc.Rules = append(svc.Rules, rule)
		}
		services = append(services, svc)
	}
	return services, nil
}

// BindSenders attaches each service's chat identity. In strict mode a service
// without an identity, or two services sharing one, is a startup error;
// otherwise a missing identity is kept empty and trigger requests for that
// service report not-found.
func BindSenders(services []entities.ServiceDefinition, senders map[string]string, strict bool) ([]entities.ServiceDefinition, error) {
	bound := make([]entities.ServiceDefinition, len(services))
	var missing []string
	for i, svc := range services {
		svc.Sender = senders[svc.Name]
		if svc.Sender == "" {
			missing = append(missing, svc.Name)
		}
		bound[i] = svc
	}
	if !strict {
		return bound, nil
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no sender identity configured for: %s", strings.Join(missing, ", "))
	}
	if dups := DuplicateSenders(bound); len(dups) > 0 {
		return nil, fmt.Errorf("sender identity shared by several services: %s", formatDuplicates(dups))
	}
	return bound, nil
}

// DuplicateSenders groups the names of services bound to the same normalized
// identity. Only identities used more than once are returned.
func DuplicateSenders(services []entities.ServiceDefinition) map[string][]string {
	byID := make(map[string][]string)
	for _, svc := range services {
		if svc.Sender == "" {
			continue
		}
		id := entities.NormalizeSender(svc.Sender)
		byID[id] = append(byID[id], svc.Name)
	}
	for id, names := range byID {
		if len(names) < 2 {
			delete(byID, id)
		}
	}
	return byID
}

func formatDuplicates(dups map[string][]string) string {
	ids := make([]string, 0, len(dups))
	for id := range dups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id + " (" + strings.Join(dups[id], ", ") + ")"
	}
	return strings.Join(parts, "; ")
}

func ServiceNames(services []entities.ServiceDefinition) []string {
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	return names
}
