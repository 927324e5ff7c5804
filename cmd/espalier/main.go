package main

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/espalier/cmd/espalier/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "espalier",
	Short: "espalier manages branching conversation trees",
	Long: `espalier stores chat conversations as trees: every message can fork into
alternative continuations, one path through the tree is active at a time,
and removed subtrees can be brought back with undo.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flags
		initLogger()
	},
}

func initLogger() {
	logLevel := viper.GetString("log-level")
	verbose := viper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	err := setupLogger(&logConfig{
		Level:      logLevel,
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
}

func setupLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}

	format := config.LogFormat
	if format == "" {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	var logWriter io.Writer
	if format == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	} else {
		logWriter = os.Stderr
	}

	log.Logger = log.Output(logWriter)

	switch config.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	}

	return nil
}

func initConfig(configPath string) error {
	viper.SetEnvPrefix("espalier")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.espalier")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/espalier")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, flags and environment are enough
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	err = viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}

	// this still won't pick up on --verbose before the flags are parsed, but
	// at least it configures logging from the config file
	initLogger()

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("loaded configuration")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json, text), defaults to text on a terminal and json otherwise")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.espalier/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	rootCmd.PersistentFlags().String("store", "file", "Conversation store backend (memory, file, sqlite)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default ~/.espalier)")
	rootCmd.PersistentFlags().Bool("autosave", false, "Write a markdown snapshot after every mutation")
	rootCmd.PersistentFlags().String("autosave-dir", "", "Autosave directory (default ~/.espalier/history)")
	rootCmd.PersistentFlags().String("autosave-format", "", "Autosave path template")
	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" {
			if len(os.Args) > idx+1 {
				configFile = os.Args[idx+1]
			}
		}
	}

	err := initConfig(configFile)
	if err != nil {
		panic(err)
	}

	cmds.AddToRootCommand(rootCmd)
}
