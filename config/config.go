// Package config loads longboy's TOML configuration: wire parameters
// shared by sender and receiver, and the transport addresses each side
// needs for its role.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	// Size and Window select the (SIZE, WINDOW) proto.Params pair both
	// sides must agree on; the handshake Envelope also carries them so a
	// client can learn what the server actually runs without a prior
	// out-of-band agreement.
	Size   int `toml:"size"`
	Window int `toml:"window"`

	Server    ServerConfig    `toml:"server"`
	Client    ClientConfig    `toml:"client"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
}

type ServerConfig struct {
	HandshakeAddr string `toml:"handshake_addr"` // ws listen address, e.g. ":8443"
	MirrorAddr    string `toml:"mirror_addr"`     // UDP local base address:port
}

type ClientConfig struct {
	HandshakeURL string `toml:"handshake_url"` // ws(s)://host:port/session
	MirrorAddr   string `toml:"mirror_addr"`    // UDP remote base address:port
}

type HeartbeatConfig struct {
	PeriodMS    int   `toml:"period_ms"`
	TimeoutMS   int   `toml:"timeout_ms"`
	Concurrency int64 `toml:"concurrency"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Config
	if err := toml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Heartbeat.PeriodMS == 0 {
		c.Heartbeat.PeriodMS = 1000
	}
	if c.Heartbeat.TimeoutMS == 0 {
		c.Heartbeat.TimeoutMS = 10000
	}
	if c.Heartbeat.Concurrency == 0 {
		c.Heartbeat.Concurrency = 32
	}

	if c.Size == 0 || c.Window == 0 {
		return nil, fmt.Errorf("config: size and window must both be set in %s", path)
	}

	return &c, nil
}
