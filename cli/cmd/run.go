package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mfkiwl/dfmodules/adapter"
	adapterredis "github.com/mfkiwl/dfmodules/adapter/redis"
	"github.com/mfkiwl/dfmodules/adapter/webhook"
	"github.com/mfkiwl/dfmodules/cli/config"
	"github.com/mfkiwl/dfmodules/cli/render"
	"github.com/mfkiwl/dfmodules/log"
	"github.com/mfkiwl/dfmodules/queue"
	"github.com/mfkiwl/dfmodules/types"
	"github.com/mfkiwl/dfmodules/writer"
)

// Exit codes for the run command.
const (
	exitSuccess     = 0
	exitConfigError = 1
	exitStartError  = 2
)

// DefaultRecordList is the default record queue connection name.
const DefaultRecordList = "trigger_records"

// DefaultTokenList is the default completion token connection name.
const DefaultTokenList = "completion_tokens"

// RunCommand returns the run command: the only command that executes work.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Drain record parts from the queue and write them durably",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.UintFlag{
				Name:     "run-number",
				Usage:    "Run number for this data-taking period",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "disable-storage",
				Usage: "Track completion and emit tokens without persisting data",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress run summary output",
			},
			// Queue flags
			&cli.StringFlag{
				Name:  "queue-source",
				Usage: "Record transport: redis or stdin",
			},
			&cli.StringFlag{
				Name:  "queue-url",
				Usage: "Redis connection URL (redis://host:port/db)",
			},
			&cli.StringFlag{
				Name:  "record-list",
				Usage: "Redis list record parts are popped from",
			},
			&cli.StringFlag{
				Name:  "token-list",
				Usage: "Redis list completion tokens are pushed to",
			},
			// Writer flags
			&cli.IntFlag{
				Name:  "prescale",
				Usage: "Persist only every Nth received part (1 keeps everything)",
			},
			&cli.StringFlag{
				Name:  "token-destination",
				Usage: "Logical destination name carried in completion tokens",
			},
			// Storage flags
			&cli.StringFlag{
				Name:  "storage-backend",
				Usage: "Storage backend: memory, fs, or s3",
			},
			&cli.StringFlag{
				Name:  "storage-dataset",
				Usage: "Dataset identifier records are written under",
			},
			&cli.StringFlag{
				Name:  "storage-path",
				Usage: "Root directory for the fs backend",
			},
			&cli.StringFlag{
				Name:  "storage-bucket",
				Usage: "S3 bucket name",
			},
			&cli.StringFlag{
				Name:  "storage-prefix",
				Usage: "Key prefix within the bucket",
			},
			&cli.StringFlag{
				Name:  "storage-region",
				Usage: "AWS region (optional, uses default chain)",
			},
			&cli.StringFlag{
				Name:  "storage-endpoint",
				Usage: "Custom S3 endpoint for S3-compatible providers",
			},
			// Adapter flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Run summary adapter: redis, webhook, or none",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Adapter endpoint URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis pub/sub channel for the redis adapter",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadMergedConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}

	logger := log.NewLogger("datawriter")

	source, sink, cleanup, err := buildTransports(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("transport setup failed: %v", err), exitConfigError)
	}
	defer cleanup()

	summaryAdapter, err := buildAdapter(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter setup failed: %v", err), exitConfigError)
	}
	if summaryAdapter != nil {
		defer func() { _ = summaryAdapter.Close() }()
	}

	w := writer.New(source, sink, logger)
	if err := w.Configure(c.Context, cfg.WriterConfig()); err != nil {
		return cli.Exit(fmt.Sprintf("configure failed: %v", err), exitConfigError)
	}

	run := types.RunNumber(c.Uint("run-number"))
	startTime := time.Now()
	opts := writer.StartOptions{Run: run, DisableStorage: cfg.Writer.DisableStorage}
	if err := w.Start(c.Context, opts); err != nil {
		return cli.Exit(fmt.Sprintf("start failed: %v", err), exitStartError)
	}

	// Run until interrupted. Stop is a control action, not a data condition.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)

	if err := w.Stop(context.Background()); err != nil {
		return cli.Exit(fmt.Sprintf("stop failed: %v", err), exitStartError)
	}
	duration := time.Since(startTime)

	snap := w.Stats()
	event := adapter.NewRunSummaryEvent(run, snap, w.IncompleteEvents(),
		cfg.Storage.Backend, storagePath(cfg), duration)

	if summaryAdapter != nil {
		publishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := summaryAdapter.Publish(publishCtx, event); err != nil {
			logger.Warn("run summary publish failed", map[string]any{
				"error": err.Error(),
			})
		}
		cancel()
	}

	if err := w.Scrap(); err != nil {
		logger.Warn("scrap failed", map[string]any{
			"error": err.Error(),
		})
	}

	if !c.Bool("quiet") {
		r, err := render.NewRenderer(c)
		if err == nil {
			_ = r.Render(event)
		}
	}

	return cli.Exit("", exitSuccess)
}

// loadMergedConfig loads the YAML config file (if any) and applies CLI flag
// overrides on top. Flags always win over config file values.
func loadMergedConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyFlagOverrides(c, cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlagOverrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet("queue-source") {
		cfg.Queue.Source = c.String("queue-source")
	}
	if c.IsSet("queue-url") {
		cfg.Queue.URL = c.String("queue-url")
	}
	if c.IsSet("record-list") {
		cfg.Queue.RecordList = c.String("record-list")
	}
	if c.IsSet("token-list") {
		cfg.Queue.TokenList = c.String("token-list")
	}
	if c.IsSet("prescale") {
		cfg.Writer.Prescale = c.Int("prescale")
	}
	if c.IsSet("token-destination") {
		cfg.Writer.TokenDestination = c.String("token-destination")
	}
	if c.IsSet("disable-storage") {
		cfg.Writer.DisableStorage = c.Bool("disable-storage")
	}
	if c.IsSet("storage-backend") {
		cfg.Storage.Backend = c.String("storage-backend")
	}
	if c.IsSet("storage-dataset") {
		cfg.Storage.Dataset = c.String("storage-dataset")
	}
	if c.IsSet("storage-path") {
		cfg.Storage.Path = c.String("storage-path")
	}
	if c.IsSet("storage-bucket") {
		cfg.Storage.Bucket = c.String("storage-bucket")
	}
	if c.IsSet("storage-prefix") {
		cfg.Storage.Prefix = c.String("storage-prefix")
	}
	if c.IsSet("storage-region") {
		cfg.Storage.Region = c.String("storage-region")
	}
	if c.IsSet("storage-endpoint") {
		cfg.Storage.Endpoint = c.String("storage-endpoint")
	}
	if c.IsSet("adapter") {
		cfg.Adapter.Type = c.String("adapter")
	}
	if c.IsSet("adapter-url") {
		cfg.Adapter.URL = c.String("adapter-url")
	}
	if c.IsSet("adapter-channel") {
		cfg.Adapter.Channel = c.String("adapter-channel")
	}
}

func applyDefaults(cfg *config.Config) {
	if cfg.Queue.Source == "" {
		cfg.Queue.Source = "redis"
	}
	if cfg.Queue.RecordList == "" {
		cfg.Queue.RecordList = DefaultRecordList
	}
	if cfg.Queue.TokenList == "" {
		cfg.Queue.TokenList = DefaultTokenList
	}
	if cfg.Writer.Prescale == 0 {
		cfg.Writer.Prescale = 1
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
}

// buildTransports constructs the record source and token sink.
// The stdin source reads length-prefixed frames; tokens still route to
// redis when a URL is configured, otherwise to a drained in-process sink.
func buildTransports(cfg *config.Config) (queue.RecordSource, queue.TokenSink, func(), error) {
	var source queue.RecordSource
	var sink queue.TokenSink

	switch cfg.Queue.Source {
	case "stdin":
		source = queue.NewStreamRecordSource(os.Stdin)
	default:
		s, err := queue.NewRedisRecordSource(cfg.RecordSourceConfig())
		if err != nil {
			return nil, nil, nil, err
		}
		source = s
	}

	if cfg.Queue.URL != "" {
		s, err := queue.NewRedisTokenSink(cfg.TokenSinkConfig())
		if err != nil {
			_ = source.Close()
			return nil, nil, nil, err
		}
		sink = s
	} else {
		mem := queue.NewMemoryTokenSink(64)
		go func() {
			for range mem.Tokens() {
			}
		}()
		sink = mem
	}

	cleanup := func() {
		_ = source.Close()
		_ = sink.Close()
	}
	return source, sink, cleanup, nil
}

// buildAdapter constructs the run summary adapter, or nil when none is
// configured.
func buildAdapter(cfg *config.Config) (adapter.Adapter, error) {
	switch cfg.Adapter.Type {
	case "", "none":
		return nil, nil
	case "redis":
		url := cfg.Adapter.URL
		if url == "" {
			url = cfg.Queue.URL
		}
		retries := adapterredis.DefaultRetries
		if cfg.Adapter.Retries != nil {
			retries = *cfg.Adapter.Retries
		}
		return adapterredis.New(adapterredis.Config{
			URL:     url,
			Channel: cfg.Adapter.Channel,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Adapter.Retries != nil {
			retries = *cfg.Adapter.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.Adapter.URL,
			Headers: cfg.Adapter.Headers,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be redis, webhook, or none)", cfg.Adapter.Type)
	}
}

// storagePath describes the configured storage location for the summary.
func storagePath(cfg *config.Config) string {
	switch cfg.Storage.Backend {
	case "fs":
		return cfg.Storage.Path
	case "s3":
		if cfg.Storage.Prefix != "" {
			return "s3://" + cfg.Storage.Bucket + "/" + cfg.Storage.Prefix
		}
		return "s3://" + cfg.Storage.Bucket
	default:
		return ""
	}
}
