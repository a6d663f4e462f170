// Command codexrun boots the hosted kernel simulation against a disk
// image pair and drives its timer tick loop, mirroring the teacher's
// cmd/cc entry point: flag-parsed options, log/slog set up before
// anything else runs, and a context cancelled on interrupt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/term"

	"github.com/doldol22312/codexos/internal/config"
	"github.com/doldol22312/codexos/internal/kernel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "codexrun: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to a YAML bring-up config (default: built-in defaults)")
	diskImage := flag.String("disk", "", "Path to the CFS1 disk image (overrides config disk_image)")
	metaImage := flag.String("meta", "", "Path to the boot metadata image (overrides config metadata_image)")
	debugLog := flag.Bool("debug", false, "Enable debug logging")
	watch := flag.Bool("watch", false, "Redraw the VT100 console to this terminal as the kernel runs")
	flag.Parse()

	if *debugLog {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	disk := cfg.DiskImage
	if *diskImage != "" {
		disk = *diskImage
	}
	meta := cfg.MetadataImage
	if *metaImage != "" {
		meta = *metaImage
	}

	k, err := kernel.Boot(cfg, disk, meta)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer k.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *watch {
		stop, err := watchConsole(ctx, k)
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		defer stop()
	}

	if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// watchConsole puts stdout into raw mode and redraws the kernel's VT100
// screen snapshot once per tick cadence until ctx is cancelled, the way the
// teacher's cmd drives a live terminal view rather than a scrollback log.
func watchConsole(ctx context.Context, k *kernel.Kernel) (func(), error) {
	fd := int(os.Stdout.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("enter raw mode: %w", err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				redraw(k)
			}
		}
	}()

	return func() {
		ticker.Stop()
		<-done
		fmt.Fprint(os.Stdout, "\x1b[?25h")
		term.Restore(fd, state)
	}, nil
}

// redraw writes a cursor-home-and-clear sequence followed by the console's
// current screen grid, so each tick repaints in place instead of scrolling.
func redraw(k *kernel.Kernel) {
	var sb []byte
	sb = append(sb, "\x1b[H\x1b[2J"...)
	for _, line := range k.Console().Snapshot() {
		sb = append(sb, line...)
		sb = append(sb, "\r\n"...)
	}
	os.Stdout.Write(sb)
}
