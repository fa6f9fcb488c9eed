// Package config provides the configuration system for assetpipe.
//
// Configuration is organized in layers with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  5. Command Line Flags      │  ← Highest priority
//	├─────────────────────────────┤
//	│  4. Environment Variables   │  ← ASSETPIPE_*
//	├─────────────────────────────┤
//	│  3. .env File               │  ← <root>/.env
//	├─────────────────────────────┤
//	│  2. Project Config File     │  ← <root>/assetpipe.toml | .yaml | .yml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Each layer is read into a generic map by the loader sub-package, the maps
// are deep-merged, and the result is decoded into a Config and validated.
// A loaded Config is treated as immutable; it is built once at startup and
// passed by pointer to the components that need it.
//
// # Basic Usage
//
//	cfg, err := config.Load(config.LoadOptions{Root: "."})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Server.Port)
package config
