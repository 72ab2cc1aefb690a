package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bolt-labs/boltdash/internal/device"
	"github.com/bolt-labs/boltdash/internal/frame"
	"github.com/bolt-labs/boltdash/internal/server"
)

func newSendCmd() *cobra.Command {
	var (
		portPath string
		baudRate int
		bolt     string
		start    bool
	)
	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send one command to the tool and exit",
		Long: `Send one command to the tool and exit.

With --bolt, sends the configure command for that bolt size (M4, M5 or M6).
With --start, sends the start-removal command. Otherwise the positional text
is sent: all-hex input ("01 04") goes out as hex bytes, anything else as
UTF-8. Note that short hex-looking words like "abc" are sent as hex.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			cfg, err := server.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if portPath != "" {
				cfg.Serial.PortPath = portPath
			}
			if baudRate != 0 {
				cfg.Serial.BaudRate = baudRate
			}

			var payload []byte
			switch {
			case bolt != "":
				kind, err := frame.ParseBoltKind(bolt)
				if err != nil {
					return err
				}
				payload, err = frame.EncodeConfigure(kind)
				if err != nil {
					return err
				}
			case start:
				payload = frame.EncodeStart()
			case len(args) > 0:
				payload = frame.EncodeFreeform(strings.Join(args, " "))
			default:
				return fmt.Errorf("nothing to send: use --bolt, --start or positional text")
			}

			conn, err := device.OpenSerial(device.SerialConfig{
				PortPath: cfg.Serial.PortPath,
				BaudRate: cfg.Serial.BaudRate,
			})
			if err != nil {
				return err
			}
			defer conn.Close()

			if _, err := conn.Write(payload); err != nil {
				return fmt.Errorf("write failed: %w", err)
			}
			log.Info().Str("port", cfg.Serial.PortPath).Str("bytes", fmt.Sprintf("% X", payload)).Msg("sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&portPath, "port", "", "Serial port (overrides config)")
	cmd.Flags().IntVar(&baudRate, "baud", 0, "Baud rate (overrides config)")
	cmd.Flags().StringVar(&bolt, "bolt", "", "Configure for bolt size: M4, M5 or M6")
	cmd.Flags().BoolVar(&start, "start", false, "Send the start-removal command")
	return cmd
}
