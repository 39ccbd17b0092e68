package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/modbussim"
	"github.com/edgeo-scada/modbussim/internal/serialport"
)

var serveWithRTU bool

var tcpCmd = &cobra.Command{
	Use:   "tcp",
	Short: "Serve the register map over Modbus TCP",
	Example: `  modbussim tcp --listen 0.0.0.0:502
  modbussim tcp --listen :5020 --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(true, false)
	},
}

var rtuCmd = &cobra.Command{
	Use:   "rtu",
	Short: "Serve the register map over Modbus RTU on a serial line",
	Example: `  modbussim rtu --device /dev/ttyUSB0 --baud 9600
  modbussim rtu --device /dev/pts/3 --baud 19200 --parity E`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(false, true)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Modbus TCP, and optionally RTU, from one shared register map",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(true, serveWithRTU)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{tcpCmd, serveCmd} {
		def := modbus.DefaultConfig().TCP
		cmd.Flags().StringP("listen", "l", def.Address, "TCP listen address")
		cmd.Flags().Int("max-conns", def.MaxConns, "Maximum concurrent TCP connections (0 = unlimited)")
		cmd.Flags().Duration("read-timeout", def.ReadTimeout, "Close idle TCP connections after this long (0 = never)")
		cmd.Flags().Bool("ignore-missing-units", def.IgnoreMissingUnits, "Stay silent for unknown unit ids instead of answering 0x0B")
	}
	for _, cmd := range []*cobra.Command{rtuCmd, serveCmd} {
		def := modbus.DefaultConfig().Serial
		cmd.Flags().StringP("device", "d", def.Device, "Serial device")
		cmd.Flags().IntP("baud", "b", def.BaudRate, "Baud rate")
		cmd.Flags().Int("data-bits", def.DataBits, "Data bits")
		cmd.Flags().String("parity", def.Parity, "Parity: N, E, O, M, S")
		cmd.Flags().Int("stop-bits", def.StopBits, "Stop bits: 1 or 2")
	}
	serveCmd.Flags().BoolVar(&serveWithRTU, "rtu", false, "Also serve the serial line")

	// Flags are bound when a command runs so tcp and serve can share keys.
	bindings := map[string]string{
		"tcp.address":              "listen",
		"tcp.max_conns":            "max-conns",
		"tcp.read_timeout":         "read-timeout",
		"tcp.ignore_missing_units": "ignore-missing-units",
		"serial.device":            "device",
		"serial.baud_rate":         "baud",
		"serial.data_bits":         "data-bits",
		"serial.parity":            "parity",
		"serial.stop_bits":         "stop-bits",
	}
	for _, cmd := range []*cobra.Command{tcpCmd, rtuCmd, serveCmd} {
		cmd.PreRun = func(cmd *cobra.Command, args []string) {
			for key, flag := range bindings {
				if f := cmd.Flags().Lookup(flag); f != nil {
					viper.BindPFlag(key, f)
				}
			}
		}
	}
}

// newDispatcher builds the shared register map with a logging observer.
func newDispatcher(cfg *modbus.Config) (*modbus.Dispatcher, error) {
	serverCtx, err := cfg.NewServerContext(
		modbus.WithObserver(modbus.NewLogObserver(logger)),
		modbus.WithSlaveLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return modbus.NewDispatcher(serverCtx,
		modbus.WithLogger(logger),
		modbus.WithServerID(cfg.ServerIDBytes()),
	), nil
}

func run(withTCP, withRTU bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dispatcher, err := newDispatcher(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		stop()
	}

	if withTCP {
		srv := modbus.NewServer(dispatcher,
			modbus.WithServerLogger(logger),
			modbus.WithMaxConnections(cfg.TCP.MaxConns),
			modbus.WithReadTimeout(cfg.TCP.ReadTimeout),
			modbus.WithIgnoreMissingUnits(cfg.TCP.IgnoreMissingUnits),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("starting Modbus TCP server",
				slog.String("addr", cfg.TCP.Address),
				slog.String("mode", cfg.Mode))
			if err := srv.ListenAndServeContext(ctx, cfg.TCP.Address); err != nil {
				fail(fmt.Errorf("tcp: %w", err))
			}
		}()
	}

	if withRTU {
		port, err := serialport.Open(cfg.Serial)
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
		srv := modbus.NewRTUServer(dispatcher, port, cfg.Serial.BaudRate,
			modbus.WithServerLogger(logger))
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				<-ctx.Done()
				srv.Close()
			}()
			logger.Info("starting Modbus RTU server",
				slog.String("device", cfg.Serial.Device),
				slog.Int("baud", cfg.Serial.BaudRate),
				slog.String("mode", cfg.Mode))
			if err := srv.Serve(ctx); err != nil {
				fail(fmt.Errorf("rtu: %w", err))
			}
		}()
	}

	wg.Wait()
	logger.Info("simulator stopped",
		slog.Any("metrics", dispatcher.Metrics().Collect()),
		slog.Duration("uptime", time.Since(startTime)))
	return errors.Join(errs...)
}

var startTime = time.Now()
