// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the static JSON configuration file
// that replaces the Python source's baked-in constant tables (the
// filesystem-alias map, the head-node table, the relay topology, the
// stats directories and the secret-file path).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/plaguedbypenguins/lustreharvest/internal/model"
)

// Publisher describes the downstream monitoring bus endpoint.
type Publisher struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"` // "udp" or "multicast"
}

// Config is the fully-decoded, validated configuration.
type Config struct {
	GatherRate      int                 `json:"gatherRate"`
	Port            int                 `json:"port"`
	SecretFile      string              `json:"secretFile"`
	StatsDirs       map[string][]string `json:"statsDirs"` // "object"|"metadata" -> base dirs
	FilesystemAlias map[string]string   `json:"filesystemAlias"`
	HeadNodes       map[string]string   `json:"headNodes"`
	RelayTopology   map[string][]string `json:"relayTopology"`
	Resolver        string              `json:"resolver"`
	Publisher       Publisher           `json:"publisher"`
	MetricsListen   string              `json:"metricsListen"`
}

// Default returns a Config with the same defaults the Python source and
// spec.md's §6/§10.2 specify: gather rate 3/min, port 8022, secret file
// at /root/.lustreHarvest.secret.
func Default() *Config {
	return &Config{
		GatherRate: 3,
		Port:       8022,
		SecretFile: "/root/.lustreHarvest.secret",
		Publisher: Publisher{
			Port:     8649,
			Protocol: "udp",
		},
	}
}

// Load reads, schema-validates and decodes the config file at path,
// layering it onto Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := Validate(data); err != nil {
		return nil, fmt.Errorf("config: schema validation of %s: %w", path, err)
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if cfg.GatherRate <= 0 {
		return nil, fmt.Errorf("config: gatherRate must be positive, got %d", cfg.GatherRate)
	}

	return cfg, nil
}

// BaseDirs converts StatsDirs into the role-keyed shape the counter
// reader wants.
func (c *Config) BaseDirs() map[model.Role][]string {
	out := map[model.Role][]string{}
	if dirs, ok := c.StatsDirs["object"]; ok {
		out[model.RoleObject] = dirs
	}
	if dirs, ok := c.StatsDirs["metadata"]; ok {
		out[model.RoleMetadata] = dirs
	}
	return out
}

// Alias returns the publish alias for a filesystem, falling back to the
// filesystem name itself when no remap is configured.
func (c *Config) Alias(fs string) string {
	if a, ok := c.FilesystemAlias[fs]; ok {
		return a
	}
	return fs
}
