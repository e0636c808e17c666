package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// File is a multi-server configuration file. Each [[servers]] block is a
// complete Config plus a name; server_key selects which block to use.
//
//	server_key = "main"
//
//	[[servers]]
//	name = "main"
//	retry_time_secs = 10
//	[[servers.address]]
//	url = "ws://127.0.0.1:8188"
//	apisecret = "secret"
type File struct {
	ServerKey string        `toml:"server_key"`
	Servers   []NamedServer `toml:"servers"`
}

// NamedServer is one selectable server block: a name plus the Config
// fields, flattened because toml cannot embed under a custom key.
type NamedServer struct {
	Name string `toml:"name"`

	Address            []ServerAddress `toml:"address"`
	RetryTimeSecs      int             `toml:"retry_time_secs"`
	MaxRetries         int             `toml:"max_retries"`
	IsAdmin            bool            `toml:"is_admin"`
	HandshakeTimeoutMS int             `toml:"handshake_timeout_ms"`
}

func (s NamedServer) config() Config {
	return Config{
		Address:            s.Address,
		RetryTimeSecs:      s.RetryTimeSecs,
		MaxRetries:         s.MaxRetries,
		IsAdmin:            s.IsAdmin,
		HandshakeTimeoutMS: s.HandshakeTimeoutMS,
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var file File
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if len(file.Servers) == 0 {
		return nil, fmt.Errorf("config %s declares no servers", path)
	}
	return &file, nil
}

// Select resolves a server block by key. The key may be a block name or a
// numeric index. An empty key is replaced by the file's server_key; a key
// that is still empty, or that matches no block, falls back to index 0.
// The returned config has defaults applied and is validated.
func (f *File) Select(key string) (Config, error) {
	block := f.Servers[0]
	if key == "" {
		key = f.ServerKey
	}
	if key != "" {
		if idx, err := strconv.Atoi(key); err == nil {
			if idx >= 0 && idx < len(f.Servers) {
				block = f.Servers[idx]
			}
		} else {
			for _, s := range f.Servers {
				if strings.EqualFold(s.Name, key) {
					block = s
					break
				}
			}
		}
	}
	cfg := block.config()
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
