package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"saldobot/internal/entities"
	"saldobot/internal/infrastructure"
	"saldobot/internal/interfaces"
	"saldobot/internal/repository"
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrNoSender       = errors.New("no sender identity configured for service")
	// ErrBalanceNotFound is returned by GetBalance for a pair that was never cached
	ErrBalanceNotFound = repository.ErrBalanceNotFound
)

// UnknownServiceError carries the configured names so callers can list them
type UnknownServiceError struct {
	Service string
	Valid   []string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service %q, valid services: %s", e.Service, strings.Join(e.Valid, ", "))
}

func (e *UnknownServiceError) Is(target error) bool {
	return target == ErrUnknownService
}

// Stage is how far an inbound message got through the pipeline
type Stage int

const (
	StageReceived Stage = iota
	StageRouted
	StageMatched
	StageExtracted
	StageCached
	StageDropped
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageRouted:
		return "routed"
	case StageMatched:
		return "matched"
	case StageExtracted:
		return "extracted"
	case StageCached:
		return "cached"
	case StageDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// PipelineResult records each stage's outcome for one inbound message.
// SendErr and CacheErr are logged failures that did not stop later stages.
type PipelineResult struct {
	Stage         Stage
	Service       string
	Keyword       string
	Reply         string
	AccountNumber string
	Outcome       entities.BalanceOutcome
	SendErr       error
	CacheErr      error
}

type TriggerResult struct {
	RequestID     string
	Service       string
	AccountNumber string
	Sender        string
	Message       string
}

type BalanceView struct {
	Service       string
	AccountNumber string
	Balance       string
	Timestamp     time.Time
	// Decimal is set when Balance parses under the configured locale
	Decimal *decimal.Decimal
}

type BalanceServiceConfig struct {
	TriggerText string
	// SingleSlot attributes every reply to the most recently armed request
	SingleSlot   bool
	SendTimeout  time.Duration
	CacheTimeout time.Duration
	Locale       string
	// FailureReply is sent to the sender when handling a message panics; empty disables it
	FailureReply string
}

func DefaultBalanceServiceConfig() BalanceServiceConfig {
	return BalanceServiceConfig{
		TriggerText:  "SALDO",
		SendTimeout:  10 * time.Second,
		CacheTimeout: 3 * time.Second,
		Locale:       "es-AR",
	}
}

// BalanceService drives provider conversations: it sends the trigger,
// answers scripted prompts and caches whatever balance the replies reveal.
type BalanceService struct {
	matcher   *FlowMatcher
	extractor *BalanceExtractor
	cache     interfaces.BalanceCache
	messenger interfaces.Messenger
	pending   *infrastructure.PendingRequests
	notifier  interfaces.Notifier
	cfg       BalanceServiceConfig
	logger    *slog.Logger
}

func NewBalanceService(
	matcher *FlowMatcher,
	extractor *BalanceExtractor,
	cache interfaces.BalanceCache,
	messenger interfaces.Messenger,
	pending *infrastructure.PendingRequests,
	cfg BalanceServiceConfig,
	logger *slog.Logger,
) *BalanceService {
	defaults := DefaultBalanceServiceConfig()
	if cfg.TriggerText == "" {
		cfg.TriggerText = defaults.TriggerText
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaults.SendTimeout
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = defaults.CacheTimeout
	}
	if cfg.Locale == "" {
		cfg.Locale = defaults.Locale
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceService{
		matcher:   matcher,
		extractor: extractor,
		cache:     cache,
		messenger: messenger,
		pending:   pending,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "balance")),
	}
}

// SetNotifier enables operator notifications for resolved balances
func (s *BalanceService) SetNotifier(n interfaces.Notifier) {
	s.notifier = n
}

func (s *BalanceService) ServiceNames() []string {
	return s.matcher.ServiceNames()
}

// HandleInbound runs one provider message through route, match, reply,
// extract and cache. A failed send does not stop extraction, and a failed
// cache write is only logged.
func (s *BalanceService) HandleInbound(ctx context.Context, msg entities.Message) (result PipelineResult) {
	result.Stage = StageReceived
	log := s.logger.With(slog.String("from", msg.From))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling message", slog.Any("panic", r))
			result.Stage = StageDropped
			if s.cfg.FailureReply != "" {
				_ = s.send(ctx, msg.From, s.cfg.FailureReply)
			}
		}
	}()

	svc, ok := s.matcher.ServiceBySender(msg.From)
	if !ok {
		log.Debug("no flow found: unknown sender")
		result.Stage = StageDropped
		return result
	}
	result.Stage = StageRouted
	result.Service = svc.Name

	req, armed := s.pendingFor(msg.From)
	if armed {
		result.AccountNumber = req.AccountNumber
	}

	match, ok := s.matcher.Match(msg.From, msg.Body, result.AccountNumber)
	if !ok {
		log.Info("no flow found", slog.String("service", svc.Name))
		result.Stage = StageDropped
		return result
	}
	result.Stage = StageMatched
	result.Service = match.Service
	result.Keyword = match.Keyword
	result.Reply = match.Reply
	// a shared sender can route to one service and match a rule of another
	svc.Name = match.Service

	if match.Reply != "" {
		if err := s.send(ctx, msg.From, match.Reply); err != nil {
			result.SendErr = err
			log.Warn("reply not sent", slog.String("service", svc.Name), slog.Any("error", err))
		}
	} else {
		log.Warn("rule needs an account number but none is pending", slog.String("service", svc.Name))
	}

	result.Outcome = s.extractor.Extract(msg.Body)
	result.Stage = StageExtracted
	if !result.Outcome.Resolved() {
		return result
	}
	if !armed {
		log.Info("balance found but no pending request to attribute it to", slog.String("service", svc.Name))
		return result
	}
	if !s.cfg.SingleSlot && req.Service != "" && req.Service != svc.Name {
		log.Warn("balance matched a different service than the pending request, not cached",
			slog.String("service", svc.Name),
			slog.String("pending_service", req.Service),
			slog.String("request_id", req.RequestID),
		)
		return result
	}

	balance := result.Outcome.Balance()
	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()
	if err := s.cache.Write(cacheCtx, req.AccountNumber, svc.Name, balance); err != nil {
		result.CacheErr = err
		log.Error("balance not cached", slog.String("key", repository.BalanceKey(req.AccountNumber, svc.Name)), slog.Any("error", err))
		return result
	}
	result.Stage = StageCached
	log.Info("balance cached",
		slog.String("service", svc.Name),
		slog.String("account", req.AccountNumber),
		slog.String("balance", balance),
		slog.String("outcome", result.Outcome.Kind.String()),
	)

	if s.notifier != nil {
		go s.notify(svc.Name, req.AccountNumber, balance)
	}
	return result
}

// TriggerUpdate arms the pending request for the service's sender and asks
// the provider for the balance. The request is armed before sending so a
// fast reply is still attributed; a failed send disarms it again.
func (s *BalanceService) TriggerUpdate(ctx context.Context, service, accountNumber string) (TriggerResult, error) {
	svc, ok := s.matcher.Service(service)
	if !ok {
		return TriggerResult{}, &UnknownServiceError{Service: service, Valid: s.matcher.ServiceNames()}
	}
	if svc.Sender == "" {
		return TriggerResult{}, fmt.Errorf("%w: %s", ErrNoSender, svc.Name)
	}

	req := entities.PendingRequest{
		RequestID:     uuid.NewString(),
		Service:       svc.Name,
		Sender:        svc.Sender,
		AccountNumber: accountNumber,
	}
	s.pending.Arm(req)

	if err := s.send(ctx, svc.Sender, s.cfg.TriggerText); err != nil {
		s.pending.Clear(svc.Sender, req.RequestID)
		return TriggerResult{}, fmt.Errorf("send trigger to %s: %w", svc.Name, err)
	}

	s.logger.Info("balance update triggered",
		slog.String("service", svc.Name),
		slog.String("account", accountNumber),
		slog.String("request_id", req.RequestID),
	)
	return TriggerResult{
		RequestID:     req.RequestID,
		Service:       svc.Name,
		AccountNumber: accountNumber,
		Sender:        svc.Sender,
		Message:       fmt.Sprintf("Mensaje enviado a %s con número de cuenta: %s.", svc.Name, accountNumber),
	}, nil
}

// GetBalance reads the cached balance. Decimal is best effort: the raw text
// stays authoritative when it does not parse.
func (s *BalanceService) GetBalance(ctx context.Context, service, accountNumber string) (BalanceView, error) {
	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.CacheTimeout)
	defer cancel()

	record, err := s.cache.Read(cacheCtx, accountNumber, service)
	if err != nil {
		return BalanceView{}, err
	}

	view := BalanceView{
		Service:       service,
		AccountNumber: accountNumber,
		Balance:       record.Balance,
		Timestamp:     record.Timestamp,
	}
	if d, err := ParseAmount(record.Balance, s.cfg.Locale); err == nil {
		view.Decimal = &d
	}
	return view, nil
}

func (s *BalanceService) pendingFor(sender string) (entities.PendingRequest, bool) {
	if s.cfg.SingleSlot {
		return s.pending.Latest()
	}
	return s.pending.Lookup(sender)
}

func (s *BalanceService) send(ctx context.Context, to, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	return s.messenger.SendMessage(sendCtx, to, content)
}

func (s *BalanceService) notify(service, accountNumber, balance string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()
	if err := s.notifier.NotifyBalance(ctx, service, accountNumber, balance); err != nil {
		s.logger.Warn("balance notification failed", slog.String("service", service), slog.Any("error", err))
	}
}
