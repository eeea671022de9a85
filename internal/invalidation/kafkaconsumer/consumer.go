// Package kafkaconsumer applies cache invalidation events read from Kafka to
// both cache tiers.
package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/mohammed-shakir/polluted-cities/internal/cache/keys"
	"github.com/mohammed-shakir/polluted-cities/internal/cityname"
	obs "github.com/mohammed-shakir/polluted-cities/internal/core/observability"
	"github.com/mohammed-shakir/polluted-cities/internal/invalidation"
	mylog "github.com/mohammed-shakir/polluted-cities/internal/logger"
)

// SharedCache is the subset of the shared tier invalidation needs.
type SharedCache interface {
	Delete(ctx context.Context, keys ...string) error
	DeleteMatching(ctx context.Context, pattern string) (int, error)
}

// LocalPages drops pages held by this process.
type LocalPages interface {
	ForgetCountry(country string) int
	ClearLocal()
}

// ReferenceMemo drops the in-process reference snapshot.
type ReferenceMemo interface {
	Invalidate()
}

type Options struct {
	Local     LocalPages
	Reference ReferenceMemo
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  SharedCache
	local  LocalPages
	ref    ReferenceMemo
	ver    *versionDedupe

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
}

func New(cfg Config, logger *slog.Logger, c SharedCache, opts Options) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		cache:  c,
		local:  opts.Local,
		ref:    opts.Reference,
		ver:    newVersionDedupe(cfg.DedupeSize),
		assign: map[int32]struct{}{},
	}
}

// consumes invalidation events from kafka until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing shared cache")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := c.handler()

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.ErrorContext(ctx, "kafka consumer error",
					"err", err, "brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{
		setup: func(s sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assign = map[int32]struct{}{}
			for _, parts := range s.Claims() {
				for _, p := range parts {
					c.assign[p] = struct{}{}
				}
			}
			c.assignMu.Unlock()
			c.assigned.Store(true)
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			c.assigned.Store(false)
		},
		process: c.ProcessOne,
	}
}

// Readiness reports whether the group currently holds partitions.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// ProcessOne applies one message. Malformed or stale events are skipped
// without error so they are not redelivered forever; failing to delete
// from the shared tier is returned so the offset is not committed.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidation("decode", err)
		c.logger.WarnContext(ctx, "dropping undecodable invalidation event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation(string(ev.Kind), err)
		c.logger.WarnContext(ctx, "dropping invalid invalidation event",
			"offset", msg.Offset, "err", err)
		return nil
	}

	subject := ev.Subject()
	version := ev.TS.UnixNano()
	if c.ver.stale(subject, version) {
		c.logger.DebugContext(ctx, "skipping stale invalidation event", "subject", subject)
		return nil
	}

	n, err := c.apply(ctx, ev)
	obs.IncInvalidation(string(ev.Kind), err)
	if err != nil {
		return fmt.Errorf("apply %s: %w", ev.Kind, err)
	}
	c.ver.record(subject, version)

	c.logger.InfoContext(mylog.WithCountry(ctx, ev.Country), "invalidated keys",
		"kind", ev.Kind, "city", ev.City, "keys", n)
	return nil
}

func (c *Consumer) apply(ctx context.Context, ev invalidation.Event) (int, error) {
	switch ev.Kind {
	case invalidation.KindPollution:
		if err := c.cache.Delete(ctx, keys.PollutionList(ev.Country)); err != nil {
			return 0, err
		}
		n, err := c.dropPages(ctx, ev.Country)
		return n + 1, err

	case invalidation.KindPage:
		return c.dropPages(ctx, ev.Country)

	case invalidation.KindReference:
		if c.ref != nil {
			c.ref.Invalidate()
		}
		if err := c.cache.Delete(ctx, keys.CountryCodes, keys.CountryCities); err != nil {
			return 0, err
		}
		if c.local != nil {
			c.local.ClearLocal()
		}
		n, err := c.cache.DeleteMatching(ctx, keys.AllPages)
		return n + 2, err

	case invalidation.KindSummary:
		// summaries are keyed by the canonical name
		key := keys.Summary(cityname.Normalize(ev.City))
		if err := c.cache.Delete(ctx, key); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return 0, fmt.Errorf("unsupported kind %q", ev.Kind)
}

func (c *Consumer) dropPages(ctx context.Context, country string) (int, error) {
	local := 0
	if c.local != nil {
		local = c.local.ForgetCountry(country)
	}
	n, err := c.cache.DeleteMatching(ctx, keys.PagePattern(country))
	return n + local, err
}
