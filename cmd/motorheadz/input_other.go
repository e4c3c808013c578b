//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
)

// readInputDevices runs one blocking reader per device. Closing the files
// unblocks the readers on shutdown.
func readInputDevices(ctx context.Context, files []*os.File, bindings KeyBindings, lines *KeyLines, logger *slog.Logger) error {
	if len(files) == 0 {
		return fmt.Errorf("no input devices provided")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(func() error {
			return readInputEvents(f, bindings, lines, logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		for _, f := range files {
			_ = f.Close()
		}
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
