package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"smart-room/internal/application"
	"smart-room/internal/domain"
	"smart-room/internal/infra/backend"
	"smart-room/internal/infra/surface"
)

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the room engine and its control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoom(rootOpts)
		},
	}
}

func runRoom(rootOpts *rootOptions) error {
	cfg, logger, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	parts, err := buildRoom(ctx, cfg, buildOptions{withPush: true, withCamera: true, withVoice: true}, logger)
	if err != nil {
		return err
	}
	defer parts.Close()

	room := parts.room
	if err := room.Start(ctx); err != nil {
		return fmt.Errorf("starting room: %w", err)
	}

	var frames surface.FramePusher
	if parts.frames != nil {
		frames = parts.frames
	}
	server := surface.NewServer(surface.Config{
		Addr:          cfg.Surface.Addr,
		AuthToken:     cfg.Surface.AuthToken,
		RatePerSecond: cfg.Surface.Rate,
		Burst:         cfg.Surface.Burst,
	}, room, frames, parts.voiceAPI, logger.With("component", "surface"))
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting control surface: %w", err)
	}
	defer server.Stop()

	if parts.voice != nil {
		console := application.NewConsole(parts.voice, parts.stt, room.Dispatcher, logger.With("component", "console"))
		go func() {
			if err := console.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("voice console stopped", "error", err)
			}
		}()
	}

	logger.Info("smart room running",
		"surface", cfg.Surface.Addr,
		"interpreter", cfg.Interpreter.Provider,
		"camera", cfg.Camera.Source,
		"voice", cfg.Voice.Source,
		"devices", len(room.Registry.Snapshot()),
	)

	<-ctx.Done()
	return nil
}

func newSayCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "say <text>",
		Short: "Dispatch one natural-language command and print the applied changes",
		Example: `  smartroom say "turn on the AC and set it to 22"
  smartroom say "cierra las cortinas"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return say(cmd.Context(), rootOpts, strings.Join(args, " "))
		},
	}
}

func say(ctx context.Context, rootOpts *rootOptions, text string) error {
	cfg, logger, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	parts, err := buildRoom(ctx, cfg, buildOptions{}, logger)
	if err != nil {
		return err
	}
	defer parts.Close()

	if err := parts.room.Registry.FetchAll(ctx); err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	updates, err := parts.room.Dispatcher.Send(ctx, text)
	if err != nil {
		return err
	}

	if len(updates) == 0 {
		fmt.Println("no changes")
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(updates)
}

func newDevicesCommand(rootOpts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the room's devices as the backend reports them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, cfg.Backend.RequestTimeout)
			defer cancel()

			devices, err := backend.NewClient(cfg.Backend.URL, cfg.Backend.Token).ListDevices(ctx)
			if err != nil {
				return fmt.Errorf("listing devices: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			printDevices(devices)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printDevices(devices []domain.Device) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tVALUE")
	for _, d := range devices {
		status := "off"
		if d.Status {
			status = "on"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Type, status, d.Value.String())
	}
	w.Flush()
}
