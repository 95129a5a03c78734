package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ffscript/config"
	"ffscript/ffmpeg"
	"ffscript/logger"
	"ffscript/script"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		scriptPath string
		outputPath string
		ffmpegBin  string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] <input files...>",
		Short: "Translate a script and run it on this host",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if ffmpegBin != "" {
				cfg.FFBin = ffmpegBin
			}
			logger.Init(cfg.LogLevel)

			text, err := readScript(scriptPath, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runLocal(ctx, cfg, text, args, outputPath)
		},
	}

	cmd.Flags().StringVarP(&scriptPath, "script", "s", "-", "Script file, or - for stdin")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Where to write the result (required)")
	cmd.Flags().StringVar(&ffmpegBin, "ffmpeg", "", "Path to ffmpeg binary (overrides FF_BIN)")
	cmd.MarkFlagRequired("output")
	return cmd
}

func runLocal(ctx context.Context, cfg *config.Config, text string, inputs []string, outputPath string) error {
	tr := script.TranslateScript(text, inputFiles(inputs))
	if tr.Fallback {
		logger.Warn("script has no usable input directive, using the default command", "main", nil)
	}

	engine := ffmpeg.NewLocalEngine(cfg)
	defer engine.Close()
	ws, err := engine.Open(ctx, fmt.Sprintf("run_%d", time.Now().UnixNano()), "")
	if err != nil {
		return err
	}
	defer ws.Close()

	for i, p := range inputs {
		if err := prepareFile(ctx, ws, script.SyntheticName(i, filepath.Base(p)), p); err != nil {
			return err
		}
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("ffmpeg"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	engineLog, err := ws.Execute(ctx, tr.Args, func(percent int) {
		_ = bar.Set(percent)
	})
	if err != nil {
		_ = bar.Clear()
		fmt.Fprintln(os.Stderr, engineLog)
		return err
	}
	_ = bar.Finish()

	out, err := ws.ReadOutput(ctx, tr.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	dst, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	if _, err := io.Copy(dst, out); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}

	logger.Info("run completed", "main", map[string]interface{}{"output_path": outputPath})
	return nil
}

func prepareFile(ctx context.Context, ws ffmpeg.Workspace, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	return ws.PrepareInput(ctx, name, f)
}
