package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/activity-fanout/pkg/config"
)

// TaskDigestEmail is the asynq task type carrying one digest email.
const TaskDigestEmail = "digest:email"

// SkipRetry marks a handler error as permanent; asynq archives the task instead of retrying.
var SkipRetry = asynq.SkipRetry

// Message is one digest email handed to the queue.
type Message struct {
	// Key deduplicates enqueues; a second enqueue with the same key is a no-op.
	Key     string
	Payload []byte
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client enqueues digest emails on the asynq-backed mail queue.
type Client struct {
	client enqueuer
	cfg    config.MailQueueConfig
}

// RedisOpt converts resolved go-redis options into the asynq connection option.
func RedisOpt(opts *goredis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Network:      opts.Network,
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		TLSConfig:    opts.TLSConfig,
	}
}

// NewClient builds a mail queue client over the given redis connection.
func NewClient(opts *goredis.Options, cfg config.MailQueueConfig) (*Client, error) {
	if opts == nil {
		return nil, errors.New("redis options required")
	}
	if strings.TrimSpace(cfg.Queue) == "" {
		return nil, errors.New("mail queue name required")
	}
	return &Client{client: asynq.NewClient(RedisOpt(opts)), cfg: cfg}, nil
}

// Enqueue hands a message to the queue and returns its task id. Re-enqueueing an
// existing key reports the original task id without creating a second task.
func (c *Client) Enqueue(ctx context.Context, msg Message) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("mail queue client not initialized")
	}
	if strings.TrimSpace(msg.Key) == "" {
		return "", errors.New("message key required")
	}
	task := asynq.NewTask(TaskDigestEmail, msg.Payload)
	info, err := c.client.EnqueueContext(ctx, task, c.options(msg.Key)...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return msg.Key, nil
		}
		return "", fmt.Errorf("enqueue %s: %w", msg.Key, err)
	}
	return info.ID, nil
}

func (c *Client) options(key string) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(c.cfg.Queue),
		asynq.TaskID(key),
	}
	if c.cfg.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(c.cfg.MaxRetry))
	}
	if c.cfg.Timeout > 0 {
		opts = append(opts, asynq.Timeout(c.cfg.Timeout))
	}
	if c.cfg.Retention > 0 {
		opts = append(opts, asynq.Retention(c.cfg.Retention))
	}
	return opts
}

// Close releases the underlying asynq client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
