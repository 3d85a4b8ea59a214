package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mfkiwl/dfmodules/types"
)

// DefaultSendTimeout is the default per-attempt token send timeout.
const DefaultSendTimeout = 5 * time.Second

// RedisConfig configures a redis-backed source or sink.
type RedisConfig struct {
	// URL is the redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Connection is the logical connection name, used as the list key.
	Connection string
	// SendTimeout is the per-attempt send timeout (sinks only, default 5s).
	SendTimeout time.Duration
}

func (c *RedisConfig) validate() error {
	if c.URL == "" {
		return errors.New("redis queue requires a URL")
	}
	if c.Connection == "" {
		return errors.New("redis queue requires a connection name")
	}
	return nil
}

// RedisRecordSource receives record parts from a redis list via BRPOP.
// The logical connection name is the list key, so multiple writers can drain
// distinct streams from one redis instance.
type RedisRecordSource struct {
	client *goredis.Client
	key    string
}

// NewRedisRecordSource creates a record source from the given config.
func NewRedisRecordSource(cfg RedisConfig) (*RedisRecordSource, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("redis record source: %w", err)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis record source: invalid URL: %w", err)
	}
	return &RedisRecordSource{
		client: goredis.NewClient(opts),
		key:    cfg.Connection,
	}, nil
}

// Receive implements RecordSource. A BRPOP that elapses without data maps to
// ErrTimeout.
func (s *RedisRecordSource) Receive(timeout time.Duration) (*types.RecordPart, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()

	vals, err := s.client.BRPop(ctx, timeout, s.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("redis receive: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("redis receive: unexpected BRPOP reply length %d", len(vals))
	}

	return DecodeRecordPart([]byte(vals[1]))
}

// Close implements RecordSource.
func (s *RedisRecordSource) Close() error {
	return s.client.Close()
}

// Verify RedisRecordSource implements RecordSource.
var _ RecordSource = (*RedisRecordSource)(nil)

// RedisTokenSink sends completion tokens to a redis list via LPUSH with a
// bounded per-attempt timeout.
type RedisTokenSink struct {
	client  *goredis.Client
	key     string
	timeout time.Duration
}

// NewRedisTokenSink creates a token sink from the given config.
func NewRedisTokenSink(cfg RedisConfig) (*RedisTokenSink, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("redis token sink: %w", err)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis token sink: invalid URL: %w", err)
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &RedisTokenSink{
		client:  goredis.NewClient(opts),
		key:     cfg.Connection,
		timeout: timeout,
	}, nil
}

// Send implements TokenSink.
func (s *RedisTokenSink) Send(ctx context.Context, token *types.Token) error {
	data, err := EncodeToken(token)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.LPush(sendCtx, s.key, data).Err(); err != nil {
		return fmt.Errorf("redis send: %w", err)
	}
	return nil
}

// Close implements TokenSink.
func (s *RedisTokenSink) Close() error {
	return s.client.Close()
}

// Verify RedisTokenSink implements TokenSink.
var _ TokenSink = (*RedisTokenSink)(nil)

// PushRecord encodes and LPUSHes one record part onto the named list.
// Producing-side helper used by the synthetic generator and tests.
func PushRecord(ctx context.Context, client *goredis.Client, key string, part *types.RecordPart) error {
	data, err := EncodeRecordPart(part)
	if err != nil {
		return err
	}
	return client.LPush(ctx, key, data).Err()
}
