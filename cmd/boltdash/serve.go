package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bolt-labs/boltdash/internal/device"
	"github.com/bolt-labs/boltdash/internal/frame"
	"github.com/bolt-labs/boltdash/internal/server"
	"github.com/bolt-labs/boltdash/web"
)

func newServeCmd() *cobra.Command {
	var (
		listenAddr string
		demo       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard and the serial reading worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			cfg, err := server.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if demo {
				cfg.Serial.Demo = true
			}
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				cancel()
			}()

			srv := server.New(cfg, web.FS, log.With().Str("component", "server").Logger())

			go func() {
				watchLog := log.With().Str("component", "configwatcher").Logger()
				if err := server.WatchConfig(ctx, cfg, watchLog, srv.ConfigReloaded); err != nil {
					watchLog.Warn().Err(err).Msg("config watcher stopped")
				}
			}()

			go sessionLoop(ctx, cfg, srv, log)

			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Override listen address (e.g. :8080)")
	cmd.Flags().BoolVar(&demo, "demo", false, "Run with a simulated tool instead of real hardware")
	return cmd
}

// sessionLoop owns the connect → read → disconnect cycle. Each session gets
// a fresh reader (fresh synchronizer and governor state); transport failures
// are terminal per session, with exponential backoff before reconnecting.
func sessionLoop(ctx context.Context, cfg *server.Config, srv *server.Server, log zerolog.Logger) {
	const maxDelay = 60 * time.Second
	delay := time.Second

	for ctx.Err() == nil {
		serialCfg := cfg.SerialSnapshot()
		conn, err := openConn(serialCfg)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", delay).Msg("connect failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}
		delay = time.Second
		log.Info().Str("port", serialCfg.PortPath).Bool("demo", serialCfg.Demo).Msg("connected")

		rd := device.NewReader(conn, readerConfig(cfg, serialCfg), log.With().Str("component", "reader").Logger())
		srv.SetConn(conn)
		pumped := srv.Pump(rd)

		err = rd.Run(ctx)

		srv.SetConn(nil)
		conn.Close()
		<-pumped

		if err == nil {
			return // cancelled
		}
		log.Error().Err(err).Msg("connection lost")
	}
}

func openConn(serial server.SerialConfig) (device.Conn, error) {
	if serial.Demo {
		return device.NewDemoConn(), nil
	}
	return device.OpenSerial(device.SerialConfig{
		PortPath: serial.PortPath,
		BaudRate: serial.BaudRate,
	})
}

// readerConfig snapshots the framing and text sections so a concurrent hot
// reload cannot race the session setup.
func readerConfig(cfg *server.Config, serial server.SerialConfig) device.ReaderConfig {
	framing := cfg.FramingSnapshot()
	text := cfg.TextSnapshot()
	return device.ReaderConfig{
		Mode: device.Mode(serial.Mode),
		Sync: frame.SyncConfig{
			OverflowLimit: framing.OverflowLimit,
			KeepTail:      framing.KeepTail,
			ScanInterval:  time.Duration(framing.ScanIntervalMs) * time.Millisecond,
		},
		Line: frame.LineParser{
			Delimiter: text.Delimiter,
			Column:    text.Column,
		},
		Capacity: framing.Capacity,
	}
}
