package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mfkiwl/dfmodules/cli/config"
	"github.com/mfkiwl/dfmodules/cli/render"
	"github.com/mfkiwl/dfmodules/store"
)

// StatsCommand returns the stats command.
// Stats reads derived facts back out of storage; it never writes.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show run statistics read from storage",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{Name: "run-number", Usage: "Read stats for a specific run (default: latest)"},
			&cli.StringFlag{Name: "storage-backend", Usage: "Storage backend: fs or s3"},
			&cli.StringFlag{Name: "storage-dataset", Usage: "Dataset identifier", Value: store.DefaultDataset},
			&cli.StringFlag{Name: "storage-path", Usage: "Root directory for the fs backend"},
			&cli.StringFlag{Name: "storage-bucket", Usage: "S3 bucket name"},
			&cli.StringFlag{Name: "storage-prefix", Usage: "Key prefix within the bucket"},
			&cli.StringFlag{Name: "storage-region", Usage: "AWS region for the S3 backend"},
			&cli.StringFlag{Name: "storage-endpoint", Usage: "Custom S3 endpoint URL"},
		),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	storageCfg, err := statsStorageConfig(c)
	if err != nil {
		return err
	}

	ds, err := store.OpenReadDataset(storageCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage reader: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := store.QueryLatestRunSummary(ctx, ds, c.String("run-number"), storageCfg)
	if err != nil {
		return fmt.Errorf("failed to read run summary: %w", err)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats_run", summary)
	}

	return r.Render(summary)
}

// statsStorageConfig resolves storage configuration from the config file and
// flag overrides. Stats only supports durable backends.
func statsStorageConfig(c *cli.Context) (store.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return store.Config{}, err
		}
		cfg = loaded
	}

	sc := cfg.StoreConfig()
	if c.IsSet("storage-backend") {
		sc.Backend = c.String("storage-backend")
	}
	if c.IsSet("storage-dataset") || sc.Dataset == "" {
		sc.Dataset = c.String("storage-dataset")
	}
	if c.IsSet("storage-path") {
		sc.Path = c.String("storage-path")
	}
	if c.IsSet("storage-bucket") {
		sc.Bucket = c.String("storage-bucket")
	}
	if c.IsSet("storage-prefix") {
		sc.Prefix = c.String("storage-prefix")
	}
	if c.IsSet("storage-region") {
		sc.Region = c.String("storage-region")
	}
	if c.IsSet("storage-endpoint") {
		sc.Endpoint = c.String("storage-endpoint")
		sc.S3PathStyle = true
	}

	switch sc.Backend {
	case "fs", "s3":
		return sc, nil
	default:
		return store.Config{}, fmt.Errorf("stats requires --storage-backend fs or s3")
	}
}
