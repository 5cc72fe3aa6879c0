package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// fping config.toml key mapping; flags override anything set here.
type fileConfig struct {
	Addr      string `toml:"addr"`
	Transport string `toml:"transport"`
	Node      uint64 `toml:"node"`
	Count     int    `toml:"count"`
	Size      int    `toml:"size"`
	Secure    bool   `toml:"secure"`
	Token     string `toml:"token"`
	TokenHash string `toml:"token_hash"`
	StatsDB   string `toml:"stats_db"`
	StunURL   string `toml:"stun_url"`
	IceLocal  string `toml:"ice_local"`
	IceRemote string `toml:"ice_remote"`
}

type config struct {
	Addr      string
	Transport string
	Node      uint64
	Count     int
	Size      int
	Secure    bool
	Token     string
	TokenHash string
	StatsDB   string
	StunURL   string
	// IceLocal and IceRemote are the signaling files for ice transport:
	// local params are written to IceLocal, the peer's are read from
	// IceRemote once the peer has written them.
	IceLocal  string
	IceRemote string
}

func defaultConfig() config {
	return config{
		Addr:      "127.0.0.1:4433",
		Transport: "quic",
		Node:      1,
		Count:     4,
		Size:      64,
	}
}

// loadConfig overlays file values on top of the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load fping config: %w", err)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("node") {
		cfg.Node = raw.Node
	}
	if meta.IsDefined("count") {
		cfg.Count = raw.Count
	}
	if meta.IsDefined("size") {
		cfg.Size = raw.Size
	}
	if meta.IsDefined("secure") {
		cfg.Secure = raw.Secure
	}
	if meta.IsDefined("token") {
		cfg.Token = raw.Token
	}
	if meta.IsDefined("token_hash") {
		cfg.TokenHash = raw.TokenHash
	}
	if meta.IsDefined("stats_db") {
		cfg.StatsDB = raw.StatsDB
	}
	if meta.IsDefined("stun_url") {
		cfg.StunURL = strings.TrimSpace(raw.StunURL)
	}
	if meta.IsDefined("ice_local") {
		cfg.IceLocal = raw.IceLocal
	}
	if meta.IsDefined("ice_remote") {
		cfg.IceRemote = raw.IceRemote
	}
	if cfg.Transport != "quic" && cfg.Transport != "tcp" && cfg.Transport != "ice" {
		return config{}, fmt.Errorf("transport must be quic, tcp or ice, got %q", cfg.Transport)
	}
	return cfg, nil
}
