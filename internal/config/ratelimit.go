package config

import "time"

// RateLimitConfig controls the fixed-window limiter that runs ahead of
// authentication.  The Auth* pair applies to login and registration, which
// get a tighter budget than ordinary API traffic.
type RateLimitConfig struct {
	Enabled     bool          `env:"ENABLED"      envDefault:"true"`
	Limit       int           `env:"LIMIT"        envDefault:"100"`
	Window      time.Duration `env:"WINDOW"       envDefault:"1m"`
	AuthLimit   int           `env:"AUTH_LIMIT"   envDefault:"10"`
	AuthWindow  time.Duration `env:"AUTH_WINDOW"  envDefault:"15m"`
	KeyStrategy string        `env:"KEY_STRATEGY" envDefault:"ip"`
	Prefix      string        `env:"PREFIX"       envDefault:"ratelimit"`
	Debug       bool          `env:"DEBUG"        envDefault:"false"`
}

// normalized clamps values so the limiter always has a usable window.
func (c RateLimitConfig) normalized() RateLimitConfig {
	if c.Limit < 1 {
		c.Limit = 1
	}
	if c.AuthLimit < 1 {
		c.AuthLimit = 1
	}
	if c.Window < time.Second {
		c.Window = time.Second
	}
	if c.AuthWindow < time.Second {
		c.AuthWindow = time.Second
	}
	if c.Prefix == "" {
		c.Prefix = "ratelimit"
	}
	return c
}
