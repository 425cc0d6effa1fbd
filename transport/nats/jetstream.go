package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rbaliyan/eventbus/topic"
	"github.com/rbaliyan/eventbus/transport"
)

// Header names carried by log entries.
const (
	headerTopic     = "Eventbus-Topic"
	headerTimestamp = "Eventbus-Timestamp"
)

// Log implements transport.Log with a JetStream stream.
type Log struct {
	status   int32
	conn     *nats.Conn
	js       jetstream.JetStream
	stream   jetstream.Stream
	prefix   string
	maxLen   int64
	maxAge   time.Duration
	replicas int
	storage  jetstream.StorageType
	logger   *slog.Logger
}

// NewLog creates or updates the "{PREFIX}_EVENTS" stream and returns a log
// writing to it.
func NewLog(ctx context.Context, conn *nats.Conn, opts ...LogOption) (*Log, error) {
	if conn == nil {
		return nil, ErrConnRequired
	}
	l := &Log{
		status:   1,
		conn:     conn,
		prefix:   DefaultPrefix,
		maxLen:   DefaultMaxLen,
		replicas: DefaultReplicas,
		storage:  jetstream.FileStorage,
		logger:   transport.Logger("transport>nats-jetstream"),
	}
	for _, opt := range opts {
		opt(l)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, errors.Join(ErrJetStreamFailed, err)
	}
	l.js = js

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              l.StreamName(),
		Subjects:          []string{l.root() + ".>"},
		MaxMsgsPerSubject: l.maxLen,
		MaxAge:            l.maxAge,
		Discard:           jetstream.DiscardOld,
		Storage:           l.storage,
		Replicas:          l.replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", l.StreamName(), err)
	}
	l.stream = stream

	l.logger.Debug("stream ready", "stream", l.StreamName(), "max_msgs_per_subject", l.maxLen)
	return l, nil
}

// StreamName returns the JetStream stream name.
func (l *Log) StreamName() string {
	return strings.ToUpper(topic.Channel(l.prefix, "_", "EVENTS"))
}

func (l *Log) root() string {
	return l.prefix + topic.Separator + logToken
}

func (l *Log) subject(name string) string {
	return topic.Channel(l.root(), topic.Separator, name)
}

func (l *Log) isOpen() bool {
	return atomic.LoadInt32(&l.status) == 1
}

// Append publishes e to the topic subject and returns its stream sequence.
func (l *Log) Append(ctx context.Context, e transport.Entry) (string, error) {
	if !l.isOpen() {
		return "", transport.ErrTransportClosed
	}
	msg := nats.NewMsg(l.subject(e.Topic))
	msg.Data = e.Data
	msg.Header.Set(headerTopic, e.Topic)
	msg.Header.Set(headerTimestamp, e.Timestamp.UTC().Format(time.RFC3339Nano))

	ack, err := l.js.PublishMsg(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("jetstream publish %s: %w", e.Topic, err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// Read returns up to count entries of topic after the cursor sequence.
func (l *Log) Read(ctx context.Context, name, cursor string, count int) ([]transport.Entry, error) {
	if !l.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	var after uint64
	if cursor != "" {
		n, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, transport.ErrInvalidCursor
		}
		after = n
	}

	subject := l.subject(name)
	var entries []transport.Entry
	seq := after + 1
	for count <= 0 || len(entries) < count {
		raw, err := l.stream.GetMsg(ctx, seq, jetstream.WithGetMsgSubject(subject))
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("jetstream get %s@%d: %w", name, seq, err)
		}
		entries = append(entries, entryFromRaw(name, raw))
		seq = raw.Sequence + 1
	}
	return entries, nil
}

func entryFromRaw(name string, raw *jetstream.RawStreamMsg) transport.Entry {
	e := transport.Entry{
		ID:        strconv.FormatUint(raw.Sequence, 10),
		Topic:     name,
		Timestamp: raw.Time,
		Data:      raw.Data,
	}
	if v := raw.Header.Get(headerTopic); v != "" {
		e.Topic = v
	}
	if v := raw.Header.Get(headerTimestamp); v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.Timestamp = ts
		}
	}
	return e
}

// Len returns the number of retained entries for topic.
func (l *Log) Len(ctx context.Context, name string) (int64, error) {
	subject := l.subject(name)
	info, err := l.stream.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		return 0, err
	}
	return int64(info.State.Subjects[subject]), nil
}

// Close marks the log closed. The connection is owned by the caller.
func (l *Log) Close(ctx context.Context) error {
	atomic.StoreInt32(&l.status, 0)
	return nil
}

// Health reports the connection state.
func (l *Log) Health(ctx context.Context) *transport.HealthCheckResult {
	res := connHealth(l.conn, l.isOpen(), "nats-jetstream")
	res.Details["stream"] = l.StreamName()
	return res
}

// Compile-time interface checks
var (
	_ transport.Log           = (*Log)(nil)
	_ transport.Lengther      = (*Log)(nil)
	_ transport.HealthChecker = (*Log)(nil)
)
