package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/TeaEngineering/goartnet/artnet"
)

// Config represents the peer configuration
type Config struct {
	Interface string `toml:"interface"`
	Net       int    `toml:"net"`
	SubNet    int    `toml:"subnet"`
	PortName  string `toml:"port_name"`
	LongName  string `toml:"long_name"`
	Style     *int   `toml:"style"` // nil means StyleController
	Passive   bool   `toml:"passive"`

	Ports []PortConfig `toml:"port"`
}

// PortConfig declares one local port
type PortConfig struct {
	Universe UniverseAddr `toml:"universe"`
	Input    bool         `toml:"input"`
	Output   bool         `toml:"output"`
}

// UniverseAddr handles both universe address formats TOML users write:
// "net:subnet:universe" strings and plain 15-bit integers.
type UniverseAddr struct {
	Addr artnet.PortAddress
}

func (u UniverseAddr) String() string {
	return u.Addr.String()
}

func (u *UniverseAddr) UnmarshalText(text []byte) error {
	addr, err := artnet.ParsePortAddress(string(text))
	if err != nil {
		return err
	}
	u.Addr = addr
	return nil
}

func (u *UniverseAddr) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		addr, err := artnet.ParsePortAddress(v)
		if err != nil {
			return err
		}
		u.Addr = addr
		return nil
	case int64:
		return u.setInt(v)
	case float64:
		// TOML sometimes parses integers as floats
		return u.setInt(int64(v))
	default:
		return fmt.Errorf("unsupported universe address type: %T", data)
	}
}

func (u *UniverseAddr) setInt(v int64) error {
	if v < 0 || v > 0x7FFF {
		return fmt.Errorf("%w: %d exceeds 0x7fff", artnet.ErrInvalidPortAddress, v)
	}
	u.Addr = artnet.PortAddress(v)
	return nil
}

// Load loads and validates configuration from a TOML file
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.PortName) > 17 {
		return fmt.Errorf("port_name exceeds 17 bytes: %q", c.PortName)
	}
	if len(c.LongName) > 63 {
		return fmt.Errorf("long_name exceeds 63 bytes: %q", c.LongName)
	}
	if c.Style != nil && (*c.Style < 0 || *c.Style > 6) {
		return fmt.Errorf("style must be 0-6, got %d", *c.Style)
	}
	if c.Net < 0 || c.Net > 127 {
		return fmt.Errorf("net must be 0-127, got %d", c.Net)
	}
	if c.SubNet < 0 || c.SubNet > 15 {
		return fmt.Errorf("subnet must be 0-15, got %d", c.SubNet)
	}
	for i, p := range c.Ports {
		if !p.Input && !p.Output {
			return fmt.Errorf("port %d: at least one of input/output must be set", i)
		}
	}
	return nil
}

// ClientConfig converts the file config into the engine's configuration.
func (c *Config) ClientConfig() artnet.ClientConfig {
	style := uint8(artnet.StyleController)
	if c.Style != nil {
		style = uint8(*c.Style)
	}
	return artnet.ClientConfig{
		Interface: c.Interface,
		Net:       uint8(c.Net),
		SubNet:    uint8(c.SubNet),
		PortName:  c.PortName,
		LongName:  c.LongName,
		Style:     style,
		Passive:   c.Passive,
	}
}
