package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BashkirovN/MiniStateAffairs/internal/api"
	"github.com/BashkirovN/MiniStateAffairs/internal/blob"
	"github.com/BashkirovN/MiniStateAffairs/internal/config"
	"github.com/BashkirovN/MiniStateAffairs/internal/discovery"
	"github.com/BashkirovN/MiniStateAffairs/internal/fetch"
	"github.com/BashkirovN/MiniStateAffairs/internal/pipeline"
	"github.com/BashkirovN/MiniStateAffairs/internal/ratelimit"
	"github.com/BashkirovN/MiniStateAffairs/internal/retry"
	"github.com/BashkirovN/MiniStateAffairs/internal/store"
	"github.com/BashkirovN/MiniStateAffairs/internal/transcribe"
	"github.com/BashkirovN/MiniStateAffairs/internal/transfer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "msaffairs",
		Short:         "Ingestion pipeline for government media recordings",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd(), newMigrateCmd(), newResetRetriesCmd(), newMarkFailedCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		region string
		source string
		days   int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one ingestion run for a region/source pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), region, source, days)
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "Region code (required)")
	cmd.Flags().StringVar(&source, "source", "", "Source branch (required)")
	cmd.Flags().IntVar(&days, "days", 0, "Discovery lookback window in days")
	_ = cmd.MarkFlagRequired("region")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func runPipeline(ctx context.Context, region, source string, days int) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		return err
	}

	bl, err := blob.New(ctx, cfg)
	if err != nil {
		return err
	}

	var limiter retry.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.New(client, cfg.RateLimitCapacity, cfg.RateLimitRefill)
	}

	retryOpts := retry.Options{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BackoffBase,
		MaxDelay:    cfg.BackoffMax,
	}
	httpClient := &http.Client{Timeout: cfg.PreflightTimeout}
	runner := &fetch.CommandRunner{Binary: cfg.FetchBinary}

	pipe := &transfer.Pipeline{
		Blob:    bl,
		Runner:  runner,
		Client:  httpClient,
		Limiter: limiter,
		Retry:   retryOpts,
		FetchOpts: fetch.Options{
			Referer:         cfg.FetchReferer,
			Origin:          cfg.FetchOrigin,
			SocketTimeout:   cfg.FetchSocketTimeout,
			FragmentRetries: cfg.FetchFragmentRetries,
			InsecureTLS:     cfg.FetchInsecureTLS,
		},
		FirstByteTimeout: cfg.FirstByteTimeout,
		MinBytes:         cfg.MinObjectBytes,
		Log:              log,
	}

	transcriber := &transcribe.HTTPProvider{
		Endpoint:     cfg.TranscribeURL,
		APIKey:       cfg.TranscribeAPIKey,
		ProviderName: "statescribe",
		Client:       &http.Client{},
		Retry:        retryOpts,
		Timeout:      cfg.TranscribeTimeout,
	}

	registry, err := buildRegistry(cfg, httpClient, limiter, retryOpts)
	if err != nil {
		return err
	}

	if cfg.OpsAddr != "" {
		opsServer := api.New(st)
		go func() {
			if err := http.ListenAndServe(cfg.OpsAddr, opsServer.Router()); err != nil {
				log.Warn("ops server stopped", zap.Error(err))
			}
		}()
	}

	orch := pipeline.New(st, registry, pipe, bl, transcriber, runner, pipeline.Options{
		RetryCeiling: cfg.RetryCeiling,
		StuckAfter:   cfg.StuckAfter,
		QueueLimit:   cfg.QueueLimit,
		PresignTTL:   cfg.PresignTTL,
	}, log)

	if days <= 0 {
		days = cfg.LookbackDays
	}
	if err := orch.Run(ctx, region, source, days); err != nil {
		log.Error("run failed", zap.String("region", region), zap.String("source", source), zap.Error(err))
		return err
	}
	log.Info("run finished", zap.String("region", region), zap.String("source", source))
	return nil
}

// buildRegistry resolves configured discovery sources at startup so a
// missing provider fails before any run begins.
func buildRegistry(cfg config.Config, client *http.Client, limiter retry.Limiter, opts retry.Options) (*discovery.Registry, error) {
	registry := discovery.NewRegistry()
	for key, baseURL := range cfg.DiscoverySources {
		parts := strings.SplitN(key, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid DISCOVERY_SOURCES entry %q, want region/branch=url", key)
		}
		registry.Register(parts[0], parts[1], &discovery.ListingProvider{
			BaseURL: baseURL,
			Client:  client,
			Limiter: limiter,
			Retry:   opts,
		})
	}
	return registry, nil
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
