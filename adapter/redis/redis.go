// Package redis implements a sink that publishes messages on Redis pub/sub.
//
// Each message goes to the channel "<prefix>:<channel id>" so subscribers can
// follow one chat channel or all of them with PSUBSCRIBE.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/dispipe/adapter"
)

// DefaultPrefix is the default pub/sub channel prefix.
const DefaultPrefix = "dispipe"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// Encoding selects the payload format.
type Encoding string

// Supported encodings.
const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// Config configures the Redis pub/sub sink.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix is the pub/sub channel prefix (default: dispipe).
	Prefix string
	// Encoding is json (default) or msgpack.
	Encoding Encoding
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
}

// Message is the published payload.
type Message struct {
	ChannelID uint64 `json:"channel_id,string" msgpack:"channel_id"`
	Content   string `json:"content" msgpack:"content"`
	SentAt    int64  `json:"sent_at" msgpack:"sent_at"` // unix millis
}

// Sink publishes messages via Redis PUBLISH.
type Sink struct {
	config Config
	client *goredis.Client
	now    func() time.Time
}

// New creates a Redis pub/sub sink from the given config.
// Returns an error if the URL is empty or invalid, or the encoding unknown.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis sink requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis sink: invalid URL: %w", err)
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	switch cfg.Encoding {
	case "":
		cfg.Encoding = EncodingJSON
	case EncodingJSON, EncodingMsgpack:
	default:
		return nil, fmt.Errorf("redis sink: unknown encoding %q (must be json or msgpack)", cfg.Encoding)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Sink{
		config: cfg,
		client: goredis.NewClient(opts),
		now:    time.Now,
	}, nil
}

// Name implements adapter.Named.
func (s *Sink) Name() string { return "redis" }

// Topic returns the pub/sub channel for a chat channel.
func (s *Sink) Topic(channelID uint64) string {
	return s.config.Prefix + ":" + strconv.FormatUint(channelID, 10)
}

// Init pings the server.
func (s *Sink) Init(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Send publishes one message. One attempt; a message published with no
// subscribers still counts as delivered.
func (s *Sink) Send(ctx context.Context, channelID uint64, text string) error {
	body, err := s.encode(Message{
		ChannelID: channelID,
		Content:   text,
		SentAt:    s.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("redis: encode message: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := s.client.Publish(publishCtx, s.Topic(channelID), body).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

func (s *Sink) encode(m Message) ([]byte, error) {
	if s.config.Encoding == EncodingMsgpack {
		return msgpack.Marshal(&m)
	}
	return json.Marshal(m)
}

// Decode parses a payload published by a sink using enc.
func Decode(enc Encoding, data []byte) (Message, error) {
	var m Message
	var err error
	switch enc {
	case EncodingMsgpack:
		err = msgpack.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	return m, err
}

// Close releases sink resources.
func (s *Sink) Close() error {
	return s.client.Close()
}

var (
	_ adapter.Sink  = (*Sink)(nil)
	_ adapter.Named = (*Sink)(nil)
)
