package gateway

import (
	"time"

	"github.com/yourorg/compliance-ledger/internal/config"
)

// Config holds authentication and session settings.
type Config struct {
	// JWTSecret signs session tokens. A random secret is generated when empty,
	// which invalidates tokens on restart.
	JWTSecret string
	Issuer    string
	// TokenTTL bounds non-regulator sessions regardless of activity.
	TokenTTL time.Duration
	// IdleTimeout drops a session that has not been used for this long.
	IdleTimeout time.Duration
	// RegulatorMaxSession caps regulator sessions below the actor's own expiry.
	RegulatorMaxSession time.Duration

	// HashAlgorithm is used when hashing new secrets (bcrypt or argon2).
	// Verification detects the algorithm from the stored hash.
	HashAlgorithm string
	BcryptCost    int
	Argon2Time    uint32
	Argon2Memory  uint32
	Argon2Threads uint8

	// RatePerSecond and RateBurst bound requests and login attempts per actor.
	RatePerSecond float64
	RateBurst     int
	MaxBodyBytes  int64
}

// LoadConfig loads gateway configuration from environment variables.
func LoadConfig() Config {
	return Config{
		JWTSecret:           config.String("JWT_SECRET", ""),
		Issuer:              config.String("JWT_ISSUER", "compliance-ledger"),
		TokenTTL:            config.Duration("SESSION_TOKEN_TTL", 12*time.Hour),
		IdleTimeout:         config.Duration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		RegulatorMaxSession: config.Duration("REGULATOR_MAX_SESSION", 2*time.Hour),
		HashAlgorithm:       config.String("AUTH_HASH_ALGORITHM", "bcrypt"),
		BcryptCost:          config.Int("AUTH_BCRYPT_COST", 12),
		Argon2Time:          uint32(config.Int("AUTH_ARGON2_TIME", 1)),
		Argon2Memory:        uint32(config.Int("AUTH_ARGON2_MEMORY", 64*1024)),
		Argon2Threads:       uint8(config.Int("AUTH_ARGON2_THREADS", 4)),
		RatePerSecond:       float64(config.Int("AUTH_RATE_PER_MIN", 120)) / 60,
		RateBurst:           config.Int("AUTH_RATE_BURST", 20),
		MaxBodyBytes:        int64(config.Int("HTTP_MAX_BODY_BYTES", 1<<20)),
	}
}
