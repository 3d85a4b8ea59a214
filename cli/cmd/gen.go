package cmd

import (
	"crypto/rand"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/mfkiwl/dfmodules/log"
	"github.com/mfkiwl/dfmodules/queue"
	"github.com/mfkiwl/dfmodules/types"
)

// GenCommand returns the gen command: a synthetic record part producer for
// exercising the write path without a real upstream.
func GenCommand() *cli.Command {
	return &cli.Command{
		Name:  "gen",
		Usage: "Produce synthetic record parts (testing aid)",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:     "run-number",
				Usage:    "Run number stamped on generated parts",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "events",
				Usage: "Number of events to generate",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "parts",
				Usage: "Parts per event (max sequence number + 1)",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "payload-bytes",
				Usage: "Payload size per part",
				Value: 1024,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Pause between events (0 for flat out)",
			},
			&cli.StringFlag{
				Name:  "source-id",
				Usage: "Source identifier stamped on generated parts",
				Value: "gen",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Destination: redis or stdout (length-prefixed frames)",
				Value: "redis",
			},
			&cli.StringFlag{
				Name:  "queue-url",
				Usage: "Redis connection URL",
			},
			&cli.StringFlag{
				Name:  "record-list",
				Usage: "Redis list to push parts onto",
				Value: DefaultRecordList,
			},
		},
		Action: genAction,
	}
}

func genAction(c *cli.Context) error {
	parts := c.Int("parts")
	if parts < 1 {
		return cli.Exit("parts must be at least 1", exitConfigError)
	}
	payloadBytes := c.Int("payload-bytes")
	if payloadBytes < 0 {
		return cli.Exit("payload-bytes must not be negative", exitConfigError)
	}

	emit, cleanup, err := buildEmitter(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("output setup failed: %v", err), exitConfigError)
	}
	defer cleanup()

	logger := log.NewLogger("gen")
	run := types.RunNumber(c.Uint("run-number"))
	events := c.Int("events")
	interval := c.Duration("interval")
	sourceID := c.String("source-id")
	maxSeq := uint32(parts - 1)

	payload := make([]byte, payloadBytes)
	_, _ = rand.Read(payload)

	start := time.Now()
	for e := 0; e < events; e++ {
		if err := c.Context.Err(); err != nil {
			break
		}

		eventID := types.EventID(e + 1)
		for seq := uint32(0); seq < uint32(parts); seq++ {
			part := &types.RecordPart{
				RunNumber:    run,
				EventID:      eventID,
				SeqNumber:    seq,
				MaxSeqNumber: maxSeq,
				SourceID:     sourceID,
				Payload:      payload,
			}
			if err := emit(c, part); err != nil {
				return cli.Exit(fmt.Sprintf("emit failed: %v", err), exitStartError)
			}
		}

		if interval > 0 {
			time.Sleep(interval)
		}
	}

	logger.Info("generation finished", map[string]any{
		"run_number": uint32(run),
		"events":     events,
		"parts":      events * parts,
		"elapsed":    time.Since(start).String(),
	})
	return nil
}

type emitFunc func(c *cli.Context, part *types.RecordPart) error

// buildEmitter returns the part emitter for the selected output.
func buildEmitter(c *cli.Context) (emitFunc, func(), error) {
	switch c.String("output") {
	case "stdout":
		enc := queue.NewFrameEncoder(os.Stdout)
		emit := func(_ *cli.Context, part *types.RecordPart) error {
			return enc.WriteRecordPart(part)
		}
		return emit, func() {}, nil

	case "redis":
		url := c.String("queue-url")
		if url == "" {
			return nil, nil, fmt.Errorf("--queue-url is required for redis output")
		}
		opts, err := goredis.ParseURL(url)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid queue URL: %w", err)
		}
		client := goredis.NewClient(opts)
		key := c.String("record-list")
		emit := func(c *cli.Context, part *types.RecordPart) error {
			return queue.PushRecord(c.Context, client, key, part)
		}
		return emit, func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown output %q (must be redis or stdout)", c.String("output"))
	}
}
