package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/modbussim"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	outputFmt string
	noColor   bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "modbussim",
	Short: "A Modbus TCP/RTU server simulator",
	Long: `modbussim exposes coils, discrete inputs, input registers and holding
registers over Modbus TCP and Modbus RTU, and logs every read and write
together with the ASCII decoding of written registers.

Examples:
  # Serve the default register map on localhost:8080
  modbussim tcp

  # Serve on a serial line at 19200 baud
  modbussim rtu --device /dev/ttyUSB0 --baud 19200

  # Serve TCP and RTU at once from a config file
  modbussim serve --rtu --config sim.yaml

  # Show the initial holding registers
  modbussim banks hr`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(viper.GetString("log.level"), viper.GetString("log.format"))
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.modbussim.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, csv, hex")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(tcpCmd)
	rootCmd.AddCommand(rtuCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(banksCmd)
	rootCmd.AddCommand(portsCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".modbussim")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MODBUSSIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, environment and flags over the
// built-in defaults.
func loadConfig() (*modbus.Config, error) {
	cfg := modbus.DefaultConfig()
	if viper.IsSet("units") {
		// A configured unit list replaces the default one instead of
		// being merged into it element by element.
		cfg.Units = nil
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
