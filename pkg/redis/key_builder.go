package redis

import (
	"crypto/sha256"
	"fmt"
)

// Key patterns
const (
	KeyRateLimit      = "checkin:ratelimit:%s" // checkin:ratelimit:{hashed limiter key}
	KeyDuplicateIndex = "checkin:dup:%s:%s"    // checkin:dup:{round}:{kind}
	KeyDuplicateWarm  = "checkin:dup:%s:warm"  // checkin:dup:{round}:warm
	KeySheetStats     = "checkin:stats:%s"     // checkin:stats:{round}
)

// KeyBuilder provides environment-aware Redis key building functionality
type KeyBuilder struct {
	prefix string // Environment prefix (staging/prod)
}

// NewKeyBuilder creates a new key builder with environment-based prefix
func NewKeyBuilder(environment string) *KeyBuilder {
	prefix := "prod"
	if environment == "development" || environment == "staging" {
		prefix = "staging"
	}

	return &KeyBuilder{
		prefix: prefix,
	}
}

// BuildKey constructs a Redis key with the environment prefix
func (kb *KeyBuilder) BuildKey(key string) string {
	return fmt.Sprintf("%s:%s", kb.prefix, key)
}

// KeyRateLimit hashes the limiter key so client IPs never appear in Redis
func (kb *KeyBuilder) KeyRateLimit(limiterKey string) string {
	return kb.BuildKey(fmt.Sprintf(KeyRateLimit, hashForKey(limiterKey)))
}

func (kb *KeyBuilder) KeyDuplicateIndex(round, kind string) string {
	return kb.BuildKey(fmt.Sprintf(KeyDuplicateIndex, round, kind))
}

func (kb *KeyBuilder) KeyDuplicateWarm(round string) string {
	return kb.BuildKey(fmt.Sprintf(KeyDuplicateWarm, round))
}

func (kb *KeyBuilder) KeySheetStats(round string) string {
	return kb.BuildKey(fmt.Sprintf(KeySheetStats, round))
}

func hashForKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)[:16]
}
