package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/mgomes/qit/qit"
	"github.com/naoina/toml"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// buildConfig is the on-disk form of the compiler settings.
//
//	Magic = 3735928559
//	RequireBlock = true
//	OutputExt = ".bin"
//
//	[Env]
//	VERSION = "3"
type buildConfig struct {
	Magic          uint32            `toml:",omitempty"`
	RequireBlock   bool              `toml:",omitempty"`
	MaxOutputBytes int               `toml:",omitempty"`
	OutputExt      string            `toml:",omitempty"`
	Env            map[string]string `toml:",omitempty"`
}

func defaultBuildConfig() buildConfig {
	return buildConfig{OutputExt: ".qi"}
}

func loadConfig(file string, cfg *buildConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// loadBuildConfig returns the defaults, overridden by file when given.
func loadBuildConfig(file string) (buildConfig, error) {
	cfg := defaultBuildConfig()
	if file == "" {
		return cfg, nil
	}
	if err := loadConfig(file, &cfg); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if cfg.OutputExt == "" {
		cfg.OutputExt = defaultBuildConfig().OutputExt
	}
	return cfg, nil
}

// engineConfig converts the file settings. Env entries shadow the process
// environment for e$NAME substitution.
func (c buildConfig) engineConfig() qit.Config {
	env := c.Env
	return qit.Config{
		Magic:          c.Magic,
		RequireBlock:   c.RequireBlock,
		MaxOutputBytes: c.MaxOutputBytes,
		LookupEnv: func(name string) (string, bool) {
			if value, ok := env[name]; ok {
				return value, true
			}
			return os.LookupEnv(name)
		},
	}
}
