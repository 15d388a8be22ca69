package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/AshkanYarmoradi/go-huddle"
	"github.com/AshkanYarmoradi/go-huddle/adapters"
	"github.com/AshkanYarmoradi/go-huddle/adapters/memory"
	"github.com/AshkanYarmoradi/go-huddle/adapters/postgres"
	huddleredis "github.com/AshkanYarmoradi/go-huddle/adapters/redis"
	"github.com/AshkanYarmoradi/go-huddle/cli/config"
	"github.com/AshkanYarmoradi/go-huddle/match"
	"github.com/AshkanYarmoradi/go-huddle/middleware/tracing"
	"github.com/AshkanYarmoradi/go-huddle/publisher/kafka"
	"github.com/AshkanYarmoradi/go-huddle/publisher/nats"
	"github.com/AshkanYarmoradi/go-huddle/publisher/sns"
	"github.com/AshkanYarmoradi/go-huddle/publisher/webhook"
	"github.com/AshkanYarmoradi/go-huddle/serializer/msgpack"
)

// connectTimeout bounds the initial ping so invalid URLs fail fast.
const connectTimeout = 5 * time.Second

// openAdapter creates the adapter selected by the configuration and wraps it
// with metrics and, when enabled, tracing.
func (a *app) openAdapter(ctx context.Context) (adapters.Adapter, error) {
	raw, err := a.openRawAdapter(ctx)
	if err != nil {
		return nil, err
	}
	return a.instrument(raw), nil
}

func (a *app) openRawAdapter(ctx context.Context) (adapters.Adapter, error) {
	db := a.cfg.Database

	switch db.Driver {
	case config.DriverMemory:
		return memory.NewAdapter(), nil

	case config.DriverPostgres, config.DriverPgx:
		adapter, err := postgres.NewAdapter(db.URL,
			postgres.WithDriver(db.Driver),
			postgres.WithSchema(db.Schema),
			postgres.WithMaxConnections(db.MaxConnections),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres adapter: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := adapter.Ping(pingCtx); err != nil {
			_ = adapter.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return adapter, nil

	case config.DriverRedis:
		r := a.cfg.Redis
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		adapter, err := huddleredis.Connect(pingCtx, r.Addr, r.Password, r.DB, huddleredis.WithPrefix(r.Prefix))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return adapter, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

func (a *app) instrument(adapter adapters.Adapter) adapters.Adapter {
	wrapped := adapters.Adapter(a.metrics.WrapAdapter(adapter))
	if a.tracer != nil {
		wrapped = tracing.NewAdapterMiddleware(wrapped, a.tracer)
	}
	return wrapped
}

// newRepository builds a match repository on the adapter.
func (a *app) newRepository(adapter adapters.Adapter, publisher huddle.EventPublisher, opts ...match.Option) *huddle.Repository {
	repoOpts := []huddle.RepositoryOption{
		huddle.WithLogger(a.huddleLogger()),
		huddle.WithSnapshotFrequency(a.cfg.EventStore.SnapshotFrequency),
		huddle.WithFactory(match.AggregateType, match.Factory(opts...)),
	}
	if publisher != nil {
		repoOpts = append(repoOpts, huddle.WithPublisher(publisher))
	}
	return huddle.NewRepository(adapter, huddle.NewSerializerRegistry(match.NewSerializer(a.serializerOptions()...)), repoOpts...)
}

func (a *app) serializerOptions() []huddle.EventSerializerOption {
	if a.cfg.EventStore.Codec == config.CodecMsgpack {
		return []huddle.EventSerializerOption{huddle.WithCodec(msgpack.NewCodec())}
	}
	return nil
}

type closer interface {
	Close() error
}

// subscribers builds the external subscribers enabled in the configuration.
// The returned function closes the ones that hold connections.
func (a *app) subscribers(ctx context.Context) ([]huddle.Subscriber, func() error, error) {
	pc := a.cfg.Publisher
	var (
		subs    []huddle.Subscriber
		closers []closer
	)
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}

	if len(pc.Kafka.Brokers) > 0 {
		k := kafka.New(kafka.WithBrokers(pc.Kafka.Brokers...), kafka.WithTopic(pc.Kafka.Topic))
		subs = append(subs, k)
		closers = append(closers, k)
	}

	if pc.NATS.URL != "" {
		var opts []nats.Option
		if pc.NATS.Subject != "" {
			opts = append(opts, nats.WithSubjectPrefix(pc.NATS.Subject))
		}
		n, err := nats.Connect(pc.NATS.URL, opts...)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		subs = append(subs, n)
		closers = append(closers, n)
	}

	if pc.Webhook.URL != "" {
		var opts []webhook.Option
		if pc.Webhook.Timeout > 0 {
			opts = append(opts, webhook.WithTimeout(pc.Webhook.Timeout))
		}
		subs = append(subs, webhook.New(pc.Webhook.URL, opts...))
	}

	if pc.SNS.TopicARN != "" {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if pc.SNS.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(pc.SNS.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		subs = append(subs, sns.New(pc.SNS.TopicARN, sns.WithConfig(awsCfg)))
	}

	for i, s := range subs {
		subs[i] = a.instrumentSubscriber(s)
	}
	return subs, closeAll, nil
}

func (a *app) instrumentSubscriber(s huddle.Subscriber) huddle.Subscriber {
	wrapped := huddle.Subscriber(a.metrics.WrapSubscriber(s))
	if a.tracer != nil {
		wrapped = tracing.NewSubscriberMiddleware(wrapped, a.tracer)
	}
	return wrapped
}

// newPublisher builds the configured publishing strategy around subs.
func (a *app) newPublisher(subs []huddle.Subscriber) (huddle.EventPublisher, error) {
	mode, err := huddle.ParsePublisherMode(a.cfg.Publisher.Mode)
	if err != nil {
		return nil, err
	}
	return huddle.NewPublisher(mode, subs,
		huddle.WithWorkers(a.cfg.Publisher.Workers),
		huddle.WithBuffer(a.cfg.Publisher.Buffer),
		huddle.WithPublisherLogger(a.huddleLogger()),
	)
}
