package main

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/crittermap/geodelta"
	"github.com/crittermap/geodelta/internal/core"
)

// gctx is the operation context for the current command. It is built
// in rootCmd's PersistentPreRun from viper configuration.
var gctx *geodelta.Context

func initConfig() {
	viper.SetEnvPrefix("GEODELTA")
	viper.AutomaticEnv()
	viper.SetDefault("log_level", int(core.LevelWarning))
	viper.SetDefault("skip_tables", "")
}

func newContext() *geodelta.Context {
	ctx := geodelta.NewContext()

	level := viper.GetInt("log_level")
	if level < int(core.LevelNothing) {
		level = int(core.LevelNothing)
	}
	if level > int(core.LevelDebug) {
		level = int(core.LevelDebug)
	}
	ctx.Logger().SetMaxLevel(core.LogLevel(level))

	if skip := viper.GetString("skip_tables"); skip != "" {
		var tables []string
		for _, t := range strings.Split(skip, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
		ctx.SetTablesToSkip(tables)
	}
	return ctx
}

func main() {
	initConfig()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
