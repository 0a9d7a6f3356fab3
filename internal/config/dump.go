package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

// Redacted возвращает копию без секретов
func (c *Config) Redacted() *Config {
	out := *c
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = redacted
	}
	if out.Cache.RedisPassword != "" {
		out.Cache.RedisPassword = redacted
	}
	out.Sync.Strategies = make(map[string]string, len(c.Sync.Strategies))
	for k, v := range c.Sync.Strategies {
		out.Sync.Strategies[k] = v
	}
	return &out
}

// WriteYAML пишет конфигурацию в формате, который принимает Load
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
