// Spins up a tickcache engine, drives its clock from the configured schedule and serves the Redis protocol admin port.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/nobletooth/tickcache/pkg/cache"
	"github.com/nobletooth/tickcache/pkg/config"
	"github.com/nobletooth/tickcache/pkg/port"
	"github.com/nobletooth/tickcache/pkg/schedule"
	"github.com/nobletooth/tickcache/pkg/utils"
	"golang.org/x/sync/errgroup"
)

var (
	printVersion = flag.Bool("print_version", false, "Print the version and exit.")
	scopes       = flag.String("scopes", "",
		"Comma separated scopes to create at start; each entry is `name` or `name:maxItems`.")
)

// scopeSpec is a single entry of the --scopes flag.
type scopeSpec struct {
	name     string
	maxItems int
}

// parseScopes parses the --scopes flag value. Empty entries are ignored.
func parseScopes(value string) ([]scopeSpec, error) {
	specs := make([]scopeSpec, 0)
	for entry := range strings.SplitSeq(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, maxItemsStr, hasMaxItems := strings.Cut(entry, ":")
		if name == "" {
			return nil, fmt.Errorf("missing scope name in %q", entry)
		}
		spec := scopeSpec{name: name}
		if hasMaxItems {
			maxItems, err := strconv.Atoi(maxItemsStr)
			if err != nil || maxItems < 0 {
				return nil, fmt.Errorf("invalid max items for scope %q: %q", name, maxItemsStr)
			}
			spec.maxItems = maxItems
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// newEngine builds the configured store and an engine with the given scopes on top of it.
func newEngine(scopeSpecs []scopeSpec) (*port.AdminEngine, error) {
	store, err := cache.NewConfiguredStore[string, string]()
	if err != nil {
		return nil, err
	}
	engine := cache.NewEngine[string, string](store, cache.NewOrderedRefresher[string, string]())
	for _, spec := range scopeSpecs {
		if err := engine.AddScope(spec.name, spec.maxItems); err != nil {
			return nil, fmt.Errorf("failed to create scope %q: %w", spec.name, err)
		}
	}
	return engine, nil
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Tickcache build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	scopeSpecs, err := parseScopes(*scopes)
	if err != nil {
		slog.Error("Invalid --scopes flag.", "error", err)
		os.Exit(1)
	}
	engine, err := newEngine(scopeSpecs)
	if err != nil {
		slog.Error("Failed to create the cache engine.", "error", err)
		os.Exit(1)
	}
	sched, err := schedule.FromFlags()
	if err != nil {
		slog.Error("Failed to build the tick schedule.", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return schedule.Run(groupCtx, sched, func(ctx context.Context) { engine.Tick(ctx) })
	})
	group.Go(func() error { return port.RunAdminServer(groupCtx, engine) })
	if err := group.Wait(); err != nil {
		slog.Error("Tickcache stopped.", "error", err)
		os.Exit(1)
	}
	slog.Info("Tickcache stopped.", "uptime", utils.Uptime())
}
