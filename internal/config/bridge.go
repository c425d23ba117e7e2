package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/woxQAQ/wasm-abi-bridge/internal/bridge"
	"github.com/woxQAQ/wasm-abi-bridge/internal/wasm"
)

// EnvPrefix prefixes environment overrides, e.g. ABIBRIDGE_WASM_MEMORY_PAGES.
const EnvPrefix = "ABIBRIDGE"

type BridgeConfig struct {
	BindingPaths []string    `mapstructure:"binding_paths"`
	LogLevel     string      `mapstructure:"log_level"`
	Wasm         WasmConfig  `mapstructure:"wasm"`
	Arena        ArenaConfig `mapstructure:"arena"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory. Empty keeps compiled code in memory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum live instances.
	MaxInstances int `mapstructure:"max_instances"`
}

// ArenaConfig is the process-wide default for bindings whose manifest does
// not configure the arena.
type ArenaConfig struct {
	AllocExport    string `mapstructure:"alloc_export"`
	FreeExport     string `mapstructure:"free_export"`
	ReservedOffset uint32 `mapstructure:"reserved_offset"`
	ReservedSize   uint32 `mapstructure:"reserved_size"`
}

func LoadBridgeConfig(configPath string) (*BridgeConfig, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("binding_paths", []string{"./bindings"})
	v.SetDefault("log_level", "info")

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 100)

	// Arena defaults: discover the guest allocator by name.
	v.SetDefault("arena.alloc_export", "")
	v.SetDefault("arena.free_export", "")
	v.SetDefault("arena.reserved_offset", 0)
	v.SetDefault("arena.reserved_size", 0)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg BridgeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// RuntimeConfig converts the wasm section for wasm.NewRuntime.
func (c *BridgeConfig) RuntimeConfig() *wasm.RuntimeConfig {
	return &wasm.RuntimeConfig{
		MemoryPages:  c.Wasm.MemoryPages,
		DebugEnabled: c.Wasm.Debug,
		CacheDir:     c.Wasm.CacheDir,
		MaxInstances: c.Wasm.MaxInstances,
	}
}

// ArenaDefaults converts the arena section for bridge.NewArena.
func (c *BridgeConfig) ArenaDefaults() bridge.ArenaConfig {
	return bridge.ArenaConfig{
		AllocExport:    c.Arena.AllocExport,
		FreeExport:     c.Arena.FreeExport,
		ReservedOffset: c.Arena.ReservedOffset,
		ReservedSize:   c.Arena.ReservedSize,
	}
}
