package feed

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ismaiel54/tick-gapfill/internal/codec"
)

// Config holds feed simulator configuration
type Config struct {
	ListenAddr    string
	RecordCount   int
	Symbols       []string
	Seed          int64
	ByteOrder     string
	RequestFormat string
	// WriteChunk splits the live stream into writes of this many bytes; 0 writes per record
	WriteChunk int
}

// LoadConfig loads feed configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		ListenAddr:    getEnvAsString("FEED_LISTEN", ":3000"),
		RecordCount:   getEnvAsInt("FEED_RECORD_COUNT", 14),
		Symbols:       splitSymbols(getEnvAsString("FEED_SYMBOLS", "MSFT,AAPL,AMZN,META")),
		Seed:          int64(getEnvAsInt("FEED_SEED", 1)),
		ByteOrder:     getEnvAsString("FEED_BYTE_ORDER", "big"),
		RequestFormat: getEnvAsString("FEED_REQUEST_FORMAT", "wide"),
		WriteChunk:    getEnvAsInt("FEED_WRITE_CHUNK", 0),
	}
}

// Validate checks the configuration and resolves the wire settings
func (c *Config) Validate() (codec.Codec, codec.RequestFormat, error) {
	if c.RecordCount < 0 {
		return codec.Codec{}, 0, fmt.Errorf("record count must not be negative: %d", c.RecordCount)
	}
	if len(c.Symbols) == 0 {
		return codec.Codec{}, 0, fmt.Errorf("at least one symbol is required")
	}
	order, err := codec.ParseByteOrder(c.ByteOrder)
	if err != nil {
		return codec.Codec{}, 0, err
	}
	format, err := codec.ParseRequestFormat(c.RequestFormat)
	if err != nil {
		return codec.Codec{}, 0, err
	}
	return codec.Codec{Order: order}, format, nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			out = append(out, sym)
		}
	}
	return out
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
