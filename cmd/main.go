package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"

	"github.com/jaki95/tunecache/config"
	"github.com/jaki95/tunecache/internal/app"
	"github.com/jaki95/tunecache/internal/domain"
	"github.com/jaki95/tunecache/internal/job"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "Path to the configuration file")
	id := flag.String("id", "", "Track id to cache")
	archiveIDs := flag.String("archive", "", "Comma-separated track ids to cache and bundle into an archive")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	var ids []string
	switch {
	case *id != "" && *archiveIDs != "":
		log.Fatal("Use either -id or -archive, not both")
	case *id != "":
		ids = []string{*id}
	case *archiveIDs != "":
		for _, s := range strings.Split(*archiveIDs, ",") {
			if s = strings.TrimSpace(s); s != "" {
				ids = append(ids, s)
			}
		}
	}
	if len(ids) == 0 {
		log.Fatal("Missing required flag: -id or -archive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Keep log output out of the way of the progress bar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Wire(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	if err := cacheTracks(ctx, c, ids); err != nil {
		log.Fatal(err)
	}
	if *archiveIDs == "" {
		fmt.Printf("Track %s ready in %s\n", ids[0], c.Tracks.TracksDir())
		return
	}

	name, err := buildArchive(ctx, c, ids)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Archive ready: %s\n", name)
}

// cacheTracks starts every track and waits for all of them.
func cacheTracks(ctx context.Context, c *app.Container, ids []string) error {
	bar := progressbar.NewOptions(
		len(ids),
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionFullWidth(),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan][1/2][reset] Caching tracks..."),
	)

	for _, id := range ids {
		meta, err := c.Catalog.Metadata(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to fetch metadata for %s: %w", id, err)
		}
		if _, err := c.Tracks.Ensure(id, meta); err != nil {
			return fmt.Errorf("failed to start %s: %w", id, err)
		}
	}

	for _, id := range ids {
		if err := c.Tracks.Wait(ctx, id); err != nil && !errors.Is(err, job.ErrNotFound) {
			return fmt.Errorf("track %s failed: %w", id, err)
		}
		if st := c.Tracks.Status(id); st.State != domain.StateReady {
			return fmt.Errorf("track %s is %s: %s", id, st.State, st.Error)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Println()
	return nil
}

func buildArchive(ctx context.Context, c *app.Container, ids []string) (string, error) {
	bar := progressbar.NewOptions(
		-1,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription("[cyan][2/2][reset] Building archive..."),
	)
	defer func() {
		_ = bar.Finish()
		fmt.Println()
	}()

	name, err := c.Archives.Ensure(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("failed to start archive: %w", err)
	}
	_ = bar.Add(1)

	if err := c.Archives.Wait(ctx, name); err != nil && !errors.Is(err, job.ErrNotFound) {
		return "", fmt.Errorf("archive %s failed: %w", name, err)
	}
	st, err := c.Archives.Status(ctx, name)
	if err != nil {
		return "", err
	}
	if st.State != domain.StateReady {
		return "", fmt.Errorf("archive %s is %s: %s", name, st.State, st.Error)
	}
	return name, nil
}
