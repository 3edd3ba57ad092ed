package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Capture holds the tool configuration.
type Capture struct {
	// Report output path.
	Output string `mapstructure:"output"`
	// Logging level: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
	// Tally branch totals into the per-source coverage counters. BRDA
	// records are written to the report whatever this is set to.
	Branches bool `mapstructure:"branches"`
	// Attribute counts block-by-block (cycle-aware line counts).
	AllBlocks bool `mapstructure:"all_blocks"`
}

// Default returns the built-in configuration.
func Default() Capture {
	return Capture{
		Output:    "app.info",
		LogLevel:  "info",
		Branches:  true,
		AllBlocks: true,
	}
}

// Load reads a configuration file from the "configs" directory into a
// struct. The configName parameter should be the base name of the file
// without the extension (e.g., "capture"). A missing file is not an
// error; the result keeps whatever defaults it already holds.
func Load(configName string, result interface{}) error {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	// 支持多路径查找
	v.AddConfigPath("configs")       // 当前工作目录下的configs
	v.AddConfigPath("../configs")    // 父目录下的configs（适配go test包内运行）
	v.AddConfigPath("../../configs") // 适配更深层次的包

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(result); err != nil {
		return fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	return nil
}
