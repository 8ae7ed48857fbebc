package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/msg"
	"github.com/ismaiel54/tick-gapfill/internal/session"
	"github.com/ismaiel54/tick-gapfill/internal/transport"
)

// Config holds configuration for the gap-fill client and the feed simulator
type Config struct {
	// Service name
	ServiceName string

	// Log level: debug, info, warn, error
	LogLevel string

	// Feed endpoint
	FeedHost string
	FeedPort int

	// Byte order of record integers: big or little
	ByteOrder string

	// Retransmit request layout: wide or legacy
	RequestFormat string

	// Size of each transport read
	ReadBufferSize int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pause between the live stream closing and the recovery reconnect
	SettleDelay time.Duration

	// Publish the reconstructed stream to Kafka through the journal outbox
	PublishEnabled bool
	KafkaBrokers   string
	PublishTopic   string
	JournalPath    string

	// gRPC and HTTP health ports (feed simulator)
	GRPCPort int
	HTTPPort int
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig(serviceName string) *Config {
	cfg := &Config{
		ServiceName:    getEnvAsString("SERVICE_NAME", serviceName),
		LogLevel:       getEnvAsString("LOG_LEVEL", "info"),
		FeedHost:       getEnvAsString("FEED_HOST", "127.0.0.1"),
		FeedPort:       getEnvAsInt("FEED_PORT", 3000),
		ByteOrder:      getEnvAsString("FEED_BYTE_ORDER", "big"),
		RequestFormat:  getEnvAsString("FEED_REQUEST_FORMAT", "wide"),
		ReadBufferSize: getEnvAsInt("READ_BUFFER_SIZE", 2048),
		DialTimeout:    getEnvAsDuration("DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:    getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getEnvAsDuration("WRITE_TIMEOUT", 5*time.Second),
		SettleDelay:    getEnvAsDuration("SETTLE_DELAY", 2*time.Second),
		PublishEnabled: getEnvAsBool("PUBLISH_ENABLED", false),
		KafkaBrokers:   getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092"),
		PublishTopic:   getEnvAsString("PUBLISH_TOPIC", "market.ticks.reconstructed"),
		JournalPath:    getEnvAsString("JOURNAL_PATH", "./.data/gapfill/journal.db"),
		GRPCPort:       getEnvAsInt("PORT_GRPC", 50053),
		HTTPPort:       getEnvAsInt("PORT_HTTP", 8080),
	}

	return cfg
}

// FeedAddr returns the feed endpoint address
func (c *Config) FeedAddr() string {
	return net.JoinHostPort(c.FeedHost, strconv.Itoa(c.FeedPort))
}

// GRPCAddr returns the gRPC server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// HTTPAddr returns the HTTP server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// Brokers splits KafkaBrokers into a trimmed list
func (c *Config) Brokers() []string {
	return msg.SplitBrokers(c.KafkaBrokers)
}

// Codec returns the record codec for the configured byte order
func (c *Config) Codec() (codec.Codec, error) {
	order, err := codec.ParseByteOrder(c.ByteOrder)
	if err != nil {
		return codec.Codec{}, err
	}
	return codec.Codec{Order: order}, nil
}

// SessionConfig builds the session settings
func (c *Config) SessionConfig() (session.Config, error) {
	cd, err := c.Codec()
	if err != nil {
		return session.Config{}, err
	}
	format, err := codec.ParseRequestFormat(c.RequestFormat)
	if err != nil {
		return session.Config{}, err
	}
	if c.ReadBufferSize < codec.RecordSize {
		return session.Config{}, fmt.Errorf("read buffer size %d is smaller than one record", c.ReadBufferSize)
	}

	return session.Config{
		Codec:         cd,
		RequestFormat: format,
		BufferSize:    c.ReadBufferSize,
		SettleDelay:   c.SettleDelay,
	}, nil
}

// Dialer builds the TCP dialer for the feed endpoint
func (c *Config) Dialer() *transport.TCPDialer {
	return &transport.TCPDialer{
		Addr:         c.FeedAddr(),
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1500ms") or whole milliseconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
