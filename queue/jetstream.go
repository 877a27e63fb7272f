package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/natsclient"
	"github.com/zhikook/chililog-server/pkg/retry"
	"github.com/zhikook/chililog-server/repository"
)

// Settings tunes redelivery and retention for every repository
type Settings struct {
	RedeliveryMaxAttempts int           // consumer MaxDeliver, -1 for unlimited
	RedeliveryDelay       time.Duration // delay used by Delivery.Nak callers
	AckWait               time.Duration
	DeadLetterRetention   time.Duration // 0 keeps dead letters until removed
	ReadRetention         time.Duration // retention of the durable read stream
	Replicas              int
	ProvisionRetry        retry.Config
}

// DefaultSettings returns the settings used when none are configured
func DefaultSettings() Settings {
	return Settings{
		RedeliveryMaxAttempts: 5,
		RedeliveryDelay:       5 * time.Second,
		AckWait:               30 * time.Second,
		DeadLetterRetention:   7 * 24 * time.Hour,
		ReadRetention:         time.Hour,
		Replicas:              1,
		ProvisionRetry:        retry.Quick(),
	}
}

// Stream metadata keys recorded on write streams
const (
	MetadataRepository = "chililog_repository"
	MetadataPolicy     = "chililog_max_memory_policy"
	MetadataPageSize   = "chililog_page_size"
)

// Broker provisions and serves repository queues on JetStream
type Broker struct {
	client   *natsclient.Client
	settings Settings
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[*readSubscription]struct{}
}

// NewBroker returns a broker using client's JetStream context
func NewBroker(client *natsclient.Client, settings Settings, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Replicas < 1 {
		settings.Replicas = 1
	}
	return &Broker{
		client:   client,
		settings: settings,
		logger:   logger.With("component", "queue_broker"),
		subs:     make(map[*readSubscription]struct{}),
	}
}

// Settings returns the broker settings
func (b *Broker) Settings() Settings { return b.settings }

// WriteStreamConfig maps a repository's queue settings to its write stream
func (b *Broker) WriteStreamConfig(cfg repository.Config) jetstream.StreamConfig {
	sc := jetstream.StreamConfig{
		Name:        repository.StreamName(cfg.WriteAddress()),
		Description: "write queue of repository " + cfg.Name,
		Subjects:    []string{cfg.WriteAddress()},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.MemoryStorage,
		Replicas:    b.settings.Replicas,
		MaxBytes:    -1,
		Discard:     jetstream.DiscardOld,
		Metadata: map[string]string{
			MetadataRepository: cfg.Name,
			MetadataPolicy:     string(cfg.WriteQueueMaxMemoryPolicy),
			MetadataPageSize:   strconv.FormatInt(cfg.WriteQueuePageSize, 10),
		},
	}
	if cfg.WriteQueueDurable {
		sc.Storage = jetstream.FileStorage
	}

	switch cfg.WriteQueueMaxMemoryPolicy {
	case repository.MaxMemoryPolicyPage:
		sc.Storage = jetstream.FileStorage
	case repository.MaxMemoryPolicyDrop:
		sc.MaxBytes = cfg.WriteQueueMaxMemory
		sc.Discard = jetstream.DiscardOld
	case repository.MaxMemoryPolicyBlock:
		sc.MaxBytes = cfg.WriteQueueMaxMemory
		sc.Discard = jetstream.DiscardNew
	}
	return sc
}

// DeadLetterStreamConfig returns the dead-letter stream of a repository
func (b *Broker) DeadLetterStreamConfig(cfg repository.Config) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        repository.StreamName(cfg.DeadLetterAddress()),
		Description: "dead letters of repository " + cfg.Name,
		Subjects:    []string{cfg.DeadLetterAddress()},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		Replicas:    b.settings.Replicas,
		MaxAge:      b.settings.DeadLetterRetention,
	}
}

// ReadStreamConfig returns the stream keeping the read address when it is durable
func (b *Broker) ReadStreamConfig(cfg repository.Config) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        repository.StreamName(cfg.ReadAddress()),
		Description: "read address of repository " + cfg.Name,
		Subjects:    []string{cfg.ReadAddress()},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		Replicas:    b.settings.Replicas,
		MaxAge:      b.settings.ReadRetention,
	}
}

// ConsumerConfig returns the durable consumer shared by a repository's storage workers
func (b *Broker) ConsumerConfig(cfg repository.Config) jetstream.ConsumerConfig {
	maxDeliver := b.settings.RedeliveryMaxAttempts
	if maxDeliver == 0 {
		maxDeliver = -1
	}
	return jetstream.ConsumerConfig{
		Durable:       repository.ConsumerName(cfg.Name),
		Description:   "storage workers of repository " + cfg.Name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.settings.AckWait,
		MaxDeliver:    maxDeliver,
		MaxAckPending: cfg.WriteQueueWorkerCount,
		FilterSubject: cfg.WriteAddress(),
	}
}

// Provision creates or updates the streams and the durable consumer of cfg
func (b *Broker) Provision(ctx context.Context, cfg repository.Config) error {
	js, err := b.client.JetStream()
	if err != nil {
		return errors.WrapTransient(err, "Broker", "Provision", "get jetstream")
	}

	streams := []jetstream.StreamConfig{b.WriteStreamConfig(cfg), b.DeadLetterStreamConfig(cfg)}
	if cfg.ReadQueueDurable {
		streams = append(streams, b.ReadStreamConfig(cfg))
	}

	err = retry.Do(ctx, b.settings.ProvisionRetry, func() error {
		if err := b.reconcileStorage(ctx, js, streams[0]); err != nil {
			return permanent(err)
		}
		for _, sc := range streams {
			if _, err := b.client.EnsureStream(ctx, sc); err != nil {
				return permanent(err)
			}
		}
		_, err := js.CreateOrUpdateConsumer(ctx, streams[0].Name, b.ConsumerConfig(cfg))
		return permanent(err)
	})
	if errors.IsInvalid(err) {
		return errors.WrapInvalid(err, "Broker", "Provision", "provision repository "+cfg.Name)
	}
	if err != nil {
		return errors.WrapTransient(err, "Broker", "Provision", "provision repository "+cfg.Name)
	}

	b.logger.Debug("Provisioned repository queue", "repository", cfg.Name,
		"stream", streams[0].Name, "storage", streams[0].Storage, "max_bytes", streams[0].MaxBytes)
	return nil
}

// reconcileStorage deletes an existing write stream whose storage type differs
// from want, since JetStream cannot change storage in place. A stream still
// holding records is left alone and the change is refused.
func (b *Broker) reconcileStorage(ctx context.Context, js jetstream.JetStream, want jetstream.StreamConfig) error {
	stream, err := js.Stream(ctx, want.Name)
	if stderrors.Is(err, jetstream.ErrStreamNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return err
	}
	if info.Config.Storage == want.Storage {
		return nil
	}
	if info.State.Msgs > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: write queue holds %d records in %v storage, drain it before switching to %v",
				errors.ErrInvalidConfig, info.State.Msgs, info.Config.Storage, want.Storage),
			"Broker", "reconcileStorage", "change write queue storage")
	}
	if err := js.DeleteStream(ctx, want.Name); err != nil && !stderrors.Is(err, jetstream.ErrStreamNotFound) {
		return err
	}
	b.logger.Info("Recreating write queue with new storage", "stream", want.Name,
		"from", info.Config.Storage, "to", want.Storage)
	return nil
}

// errCodeStreamInvalidConfig is the server's code for a rejected stream config
const errCodeStreamInvalidConfig jetstream.ErrorCode = 10052

// permanent stops provisioning retries for errors a retry cannot fix: a
// config JetStream rejects or one already classified invalid
func permanent(err error) error {
	if err == nil {
		return nil
	}
	if errors.IsInvalid(err) {
		return retry.NonRetryable(err)
	}
	var apiErr *jetstream.APIError
	if stderrors.As(err, &apiErr) && (apiErr.Code == 400 || apiErr.ErrorCode == errCodeStreamInvalidConfig) {
		return retry.NonRetryable(errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Broker", "Provision", "apply queue config"))
	}
	return err
}

// Teardown deletes the durable consumer of cfg. Streams are kept so queued
// records and dead letters survive a restart.
func (b *Broker) Teardown(ctx context.Context, cfg repository.Config) error {
	js, err := b.client.JetStream()
	if err != nil {
		return errors.WrapTransient(err, "Broker", "Teardown", "get jetstream")
	}
	err = js.DeleteConsumer(ctx, repository.StreamName(cfg.WriteAddress()), repository.ConsumerName(cfg.Name))
	if err != nil && !stderrors.Is(err, jetstream.ErrConsumerNotFound) {
		return errors.WrapTransient(err, "Broker", "Teardown", "delete consumer")
	}
	return nil
}

// Consumer opens a worker session on the durable consumer of cfg
func (b *Broker) Consumer(ctx context.Context, cfg repository.Config) (Consumer, error) {
	js, err := b.client.JetStream()
	if err != nil {
		return nil, errors.WrapTransient(err, "Broker", "Consumer", "get jetstream")
	}
	c, err := js.Consumer(ctx, repository.StreamName(cfg.WriteAddress()), repository.ConsumerName(cfg.Name))
	if err != nil {
		return nil, errors.WrapTransient(err, "Broker", "Consumer", "bind consumer")
	}
	return &pullConsumer{consumer: c}, nil
}

// DeadLetters returns the dead-letter sink of cfg
func (b *Broker) DeadLetters(cfg repository.Config) DeadLetterSink {
	return &deadLetterSink{broker: b, subject: cfg.DeadLetterAddress()}
}

// Publish writes env to the repository's write queue and fans it out on the read address
func (b *Broker) Publish(ctx context.Context, repositoryName string, env Envelope) error {
	js, err := b.client.JetStream()
	if err != nil {
		return errors.WrapTransient(err, "Broker", "Publish", "get jetstream")
	}
	if _, err := js.PublishMsg(ctx, env.Msg(repository.WriteAddress(repositoryName))); err != nil {
		return errors.WrapTransient(err, "Broker", "Publish", "publish to write queue")
	}

	conn := b.client.Conn()
	if conn == nil {
		return errors.WrapTransient(natsclient.ErrNotConnected, "Broker", "Publish", "publish to read address")
	}
	if err := conn.PublishMsg(env.Msg(repository.ReadAddress(repositoryName))); err != nil {
		return errors.WrapTransient(err, "Broker", "Publish", "publish to read address")
	}
	return nil
}

// readSubscription is a live core NATS subscription on a read address
type readSubscription struct {
	sub    *nats.Subscription
	broker *Broker
	once   sync.Once
}

// Stop ends the subscription. It is safe to call more than once.
func (s *readSubscription) Stop() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
	return err
}

// Subscribe delivers each record published to repositoryName to handler
func (b *Broker) Subscribe(repositoryName string, handler func(Envelope)) (Subscription, error) {
	conn := b.client.Conn()
	if conn == nil {
		return nil, errors.WrapTransient(natsclient.ErrNotConnected, "Broker", "Subscribe", "subscribe")
	}
	sub, err := conn.Subscribe(repository.ReadAddress(repositoryName), func(msg *nats.Msg) {
		handler(EnvelopeFromMsg(msg.Header, msg.Data))
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Broker", "Subscribe", "subscribe")
	}

	s := &readSubscription{sub: sub, broker: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Close stops every open subscription
func (b *Broker) Close() {
	b.mu.Lock()
	subs := make([]*readSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Stop()
	}
}

// Pending returns the number of messages left on the write queue of repositoryName
func (b *Broker) Pending(ctx context.Context, repositoryName string) (uint64, error) {
	return b.streamMessages(ctx, repository.StreamName(repository.WriteAddress(repositoryName)))
}

// DeadLetterCount returns the number of dead letters kept for repositoryName
func (b *Broker) DeadLetterCount(ctx context.Context, repositoryName string) (uint64, error) {
	return b.streamMessages(ctx, repository.StreamName(repository.DeadLetterAddress(repositoryName)))
}

// ReadDeadLetters returns up to max dead letters of repositoryName, oldest first
func (b *Broker) ReadDeadLetters(ctx context.Context, repositoryName string, max int) ([]DeadLetter, error) {
	js, err := b.client.JetStream()
	if err != nil {
		return nil, errors.WrapTransient(err, "Broker", "ReadDeadLetters", "get jetstream")
	}
	stream, err := js.Stream(ctx, repository.StreamName(repository.DeadLetterAddress(repositoryName)))
	if err != nil {
		return nil, errors.WrapTransient(err, "Broker", "ReadDeadLetters", "get stream")
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Broker", "ReadDeadLetters", "get stream info")
	}

	var letters []DeadLetter
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq && len(letters) < max; seq++ {
		raw, err := stream.GetMsg(ctx, seq)
		if err != nil {
			if stderrors.Is(err, jetstream.ErrMsgNotFound) {
				continue
			}
			return nil, errors.WrapTransient(err, "Broker", "ReadDeadLetters", fmt.Sprintf("get message %d", seq))
		}
		letters = append(letters, DeadLetterFromMsg(raw.Header, raw.Data))
	}
	return letters, nil
}

func (b *Broker) streamMessages(ctx context.Context, name string) (uint64, error) {
	js, err := b.client.JetStream()
	if err != nil {
		return 0, errors.WrapTransient(err, "Broker", "streamMessages", "get jetstream")
	}
	stream, err := js.Stream(ctx, name)
	if err != nil {
		return 0, errors.WrapTransient(err, "Broker", "streamMessages", "get stream "+name)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, errors.WrapTransient(err, "Broker", "streamMessages", "get stream info")
	}
	return info.State.Msgs, nil
}

type deadLetterSink struct {
	broker  *Broker
	subject string
}

func (s *deadLetterSink) DeadLetter(ctx context.Context, letter DeadLetter) error {
	js, err := s.broker.client.JetStream()
	if err != nil {
		return errors.WrapTransient(err, "DeadLetterSink", "DeadLetter", "get jetstream")
	}
	if _, err := js.PublishMsg(ctx, letter.Msg(s.subject)); err != nil {
		return errors.WrapTransient(err, "DeadLetterSink", "DeadLetter", "publish")
	}
	return nil
}

type pullConsumer struct {
	consumer jetstream.Consumer
}

func (c *pullConsumer) Next(ctx context.Context, wait time.Duration) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := c.consumer.Next(jetstream.FetchMaxWait(wait))
	if err != nil {
		if stderrors.Is(err, nats.ErrTimeout) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, ErrNoMessage
		}
		return nil, errors.WrapTransient(err, "Consumer", "Next", "fetch message")
	}
	return &jsDelivery{msg: msg}, nil
}

func (c *pullConsumer) Close() error { return nil }

type jsDelivery struct {
	msg jetstream.Msg
}

func (d *jsDelivery) Envelope() Envelope {
	return EnvelopeFromMsg(d.msg.Headers(), d.msg.Data())
}

func (d *jsDelivery) NumDelivered() uint64 {
	meta, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return meta.NumDelivered
}

func (d *jsDelivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

func (d *jsDelivery) Nak(delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}
