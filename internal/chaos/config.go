package chaos

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds chaos configuration
type Config struct {
	Enabled    bool
	Profile    string
	DropPct    int
	DropSeqs   []int32
	DelayMsMin int
	DelayMsMax int
	Seed       int64
	WindowMs   int
}

// LoadConfig loads chaos configuration from environment variables
func LoadConfig() *Config {
	dropSeqs, err := ParseSequences(getEnvAsString("CHAOS_DROP_SEQS", ""))
	if err != nil {
		dropSeqs = nil
	}

	return &Config{
		Enabled:    getEnvAsBool("CHAOS_ENABLED", false),
		Profile:    getEnvAsString("CHAOS_PROFILE", ""),
		DropPct:    getEnvAsInt("CHAOS_DROP_PCT", 0),
		DropSeqs:   dropSeqs,
		DelayMsMin: getEnvAsInt("CHAOS_DELAY_MS_MIN", 0),
		DelayMsMax: getEnvAsInt("CHAOS_DELAY_MS_MAX", 0),
		Seed:       getEnvAsInt64("CHAOS_SEED", 1),
		WindowMs:   getEnvAsInt("CHAOS_WINDOW_MS", 0),
	}
}

// Profile is the parsed form of a profile string
type Profile struct {
	DropPct  int
	DropSeqs []int32
	DelayMin int
	DelayMax int
}

// ParseProfile parses a profile string like "drop-pct=30,delay=50-250,drop-seq=3;7"
func ParseProfile(profile string) (Profile, error) {
	var p Profile
	if profile == "" {
		return p, nil
	}

	parts := strings.Split(profile, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "drop-pct="):
			val := strings.TrimPrefix(part, "drop-pct=")
			dropPct, err := strconv.Atoi(val)
			if err != nil {
				return Profile{}, fmt.Errorf("invalid drop-pct: %w", err)
			}
			p.DropPct = dropPct
		case strings.HasPrefix(part, "delay="):
			val := strings.TrimPrefix(part, "delay=")
			delayParts := strings.Split(val, "-")
			if len(delayParts) != 2 {
				return Profile{}, fmt.Errorf("invalid delay range %q", val)
			}
			delayMin, err := strconv.Atoi(delayParts[0])
			if err != nil {
				return Profile{}, fmt.Errorf("invalid delay min: %w", err)
			}
			delayMax, err := strconv.Atoi(delayParts[1])
			if err != nil {
				return Profile{}, fmt.Errorf("invalid delay max: %w", err)
			}
			p.DelayMin, p.DelayMax = delayMin, delayMax
		case strings.HasPrefix(part, "drop-seq="):
			seqs, err := ParseSequences(strings.ReplaceAll(strings.TrimPrefix(part, "drop-seq="), ";", ","))
			if err != nil {
				return Profile{}, err
			}
			p.DropSeqs = seqs
		}
	}

	return p, nil
}

// ParseSequences parses a comma-separated sequence list like "3,7,12"
func ParseSequences(s string) ([]int32, error) {
	var seqs []int32
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		seq, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid sequence %q: %w", field, err)
		}
		seqs = append(seqs, int32(seq))
	}
	return seqs, nil
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
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
