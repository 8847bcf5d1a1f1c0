package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"saldobot/internal/config"
	"saldobot/internal/entities"
	"saldobot/internal/infrastructure"
	"saldobot/internal/interfaces"
	"saldobot/internal/interfaces/http"
	"saldobot/internal/repository"
	"saldobot/internal/usecases"
)

var version = "dev"

const (
	shutdownTimeout     = 10 * time.Second
	maintenanceInterval = time.Minute
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "saldobot",
		Short:         "Collects utility balances by chatting with provider WhatsApp bots",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newMatchCmd(), newHashPasswordCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WhatsApp client, HTTP API and refresh scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	services, err := loadServices(cfg, os.LookupEnv)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if svc.Sender == "" {
			logger.Warn("service has no sender identity, triggers will return 404",
				slog.String("service", svc.Name), slog.String("variable", config.SenderVariable(svc.Name)))
		}
	}
	for id, names := range repository.DuplicateSenders(services) {
		logger.Warn("services share a sender identity, replies are attributed by rule",
			slog.String("sender", id), slog.Any("services", names))
	}

	cache, cacheHealthy, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	wa, err := infrastructure.NewWhatsAppClient(ctx, cfg.WhatsAppDBPath, cfg.WhatsAppLogLevel, logger)
	if err != nil {
		return err
	}

	pending := infrastructure.NewPendingRequests(cfg.PendingTTL)
	balances := usecases.NewBalanceService(
		usecases.NewFlowMatcher(services),
		newExtractor(cfg),
		cache,
		wa,
		pending,
		usecases.BalanceServiceConfig{
			TriggerText:  cfg.TriggerText,
			SingleSlot:   cfg.SingleSlotSession(),
			Locale:       cfg.BalanceLocale,
			FailureReply: cfg.FailureReply,
		},
		logger,
	)

	if cfg.TelegramEnabled() {
		notifier, err := infrastructure.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			logger.Warn("telegram notifications disabled", slog.Any("error", err))
		} else {
			balances.SetNotifier(notifier)
			logger.Info("telegram notifications enabled", slog.String("bot", notifier.Bot.Self.UserName))
		}
	}

	// Provider replies arrive in order on the event goroutine; handle them inline to keep that order.
	wa.OnMessage(func(msg entities.Message) {
		result := balances.HandleInbound(ctx, msg)
		logger.Debug("message handled", slog.String("from", msg.From), slog.String("stage", result.Stage.String()))
	})
	if err := wa.Connect(ctx); err != nil {
		return fmt.Errorf("connect whatsapp: %w", err)
	}
	defer wa.Disconnect()

	auth := usecases.NewAuthUsecase(cfg.AdminUser, cfg.AdminPasswordHash, cfg.JWTSecret)
	limiter := infrastructure.NewKeyedLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	http.SetupRoutes(r, http.NewHandler(balances, wa, cacheHealthy, logger), auth, http.NewMiddleware(auth, limiter))
	server := &nethttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var scheduler *usecases.RefreshScheduler
	if cfg.RefreshSchedule != "" {
		targets, err := cfg.RefreshTargets()
		if err != nil {
			return err
		}
		scheduler = usecases.NewRefreshScheduler(balances, targets, cfg.RefreshStagger, logger)
		if err := scheduler.Start(cfg.RefreshSchedule); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(maintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := pending.Sweep(); n > 0 {
					logger.Debug("expired pending requests dropped", slog.Int("count", n))
				}
				limiter.Cleanup()
			}
		}
	})
	return g.Wait()
}

func openCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (interfaces.BalanceCache, func() bool, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendPostgres:
		pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		healthy := func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return pg.Pool.Ping(pingCtx) == nil
		}
		logger.Info("balance cache backend: postgres")
		return repository.NewPostgresBalanceCache(pg.Pool), healthy, pg.Close, nil
	default:
		rc, err := infrastructure.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("balance cache backend: redis")
		return repository.NewRedisBalanceCache(rc.Client, rc), rc.Healthy, func() { _ = rc.Close() }, nil
	}
}

func loadServices(cfg config.Config, lookup func(string) (string, bool)) ([]entities.ServiceDefinition, error) {
	services := repository.DefaultServices()
	if cfg.FlowsFile != "" {
		loaded, err := repository.LoadFlowsFile(cfg.FlowsFile)
		if err != nil {
			return nil, err
		}
		services = loaded
	}
	senders := config.SenderIdentities(repository.ServiceNames(services), lookup)
	return repository.BindSenders(services, senders, cfg.StrictSenders)
}

func newExtractor(cfg config.Config) *usecases.BalanceExtractor {
	return usecases.NewBalanceExtractor(cfg.NoSaldoPhrases, usecases.WithCurrencyRequired(cfg.AmountRequireCurrency))
}

func newMatchCmd() *cobra.Command {
	var from, service, account string
	cmd := &cobra.Command{
		Use:   "match [flags] <message body>",
		Short: "Show which rule a provider message would hit and what balance it yields",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runMatch(cmd.OutOrStdout(), cfg, os.LookupEnv, from, service, account, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender identity of the message")
	cmd.Flags().StringVar(&service, "service", "", "service to impersonate when --from is not given")
	cmd.Flags().StringVar(&account, "account", "", "pending account number used for templated replies")
	return cmd
}

// runMatch is a dry run of the inbound pipeline: nothing is sent or cached
func runMatch(out io.Writer, cfg config.Config, lookup func(string) (string, bool), from, service, account, body string) error {
	services, err := loadServices(config.Config{FlowsFile: cfg.FlowsFile}, lookup)
	if err != nil {
		return err
	}

	if from == "" {
		if service == "" {
			return errors.New("one of --from or --service is required")
		}
		found := false
		for i := range services {
			if services[i].Name != service {
				continue
			}
			found = true
			if services[i].Sender == "" {
				services[i].Sender = "dry-run-" + strings.ToLower(service)
			}
			from = services[i].Sender
		}
		if !found {
			return fmt.Errorf("unknown service %q, valid services: %s", service, strings.Join(repository.ServiceNames(services), ", "))
		}
	}

	match, ok := usecases.NewFlowMatcher(services).Match(from, body, account)
	if !ok {
		fmt.Fprintln(out, "no flow found")
		return nil
	}
	outcome := newExtractor(cfg).Extract(body)

	fmt.Fprintf(out, "service: %s\n", match.Service)
	fmt.Fprintf(out, "rule:    %s\n", match.Keyword)
	fmt.Fprintf(out, "reply:   %s\n", match.Reply)
	if outcome.Resolved() {
		fmt.Fprintf(out, "balance: %s (%s)\n", outcome.Balance(), outcome.Kind)
		if d, err := usecases.ParseAmount(outcome.Balance(), cfg.BalanceLocale); err == nil {
			fmt.Fprintf(out, "decimal: %s\n", d.StringFixed(2))
		}
	} else {
		fmt.Fprintln(out, "balance: unresolved")
	}
	return nil
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for API_ADMIN_PASSWORD_HASH, reading stdin when no argument is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHashPassword(cmd.OutOrStdout(), cmd.InOrStdin(), args)
		},
	}
}

func runHashPassword(out io.Writer, in io.Reader, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	hashed, err := usecases.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	fmt.Fprintln(out, hashed)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
