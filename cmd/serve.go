/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blacktop/snspost/internal/config"
	"github.com/blacktop/snspost/internal/logutil"
	"github.com/blacktop/snspost/internal/scheduler"
	"github.com/blacktop/snspost/internal/server"
	"github.com/blacktop/snspost/internal/store"
	"github.com/blacktop/snspost/internal/xpost"
	"github.com/blacktop/snspost/internal/xpost/bluesky"
	"github.com/blacktop/snspost/internal/xpost/mastodon"
	"github.com/blacktop/snspost/internal/xpost/misskey"
	"github.com/blacktop/snspost/internal/xpost/threads"
	"github.com/blacktop/snspost/internal/xpost/twitter"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	addr      string
	dbPath    string
	uploadDir string
	noSched   bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the posting backend with its scheduler",
		Long: "serve exposes the snspost HTTP API, delivers posts through every connector " +
			"whose credentials are set in the environment, and delivers scheduled posts when they fall due.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "", "Listen address (default "+config.DefaultAddr+")")
	f.StringVar(&opts.dbPath, "db", "", "SQLite database path (default "+config.DefaultDBPath+")")
	f.StringVar(&opts.uploadDir, "upload-dir", "", "Directory for uploaded media (default "+config.DefaultUploadDir+")")
	f.BoolVar(&opts.noSched, "no-scheduler", false, "Do not deliver scheduled posts automatically")
	return cmd
}

func connectorFactories() map[string]xpost.Factory {
	return map[string]xpost.Factory{
		xpost.Bluesky: func(ctx context.Context) (xpost.Poster, error) {
			return bluesky.New(ctx, bluesky.Config{PDSURL: bluesky.DefaultPDSURL})
		},
		xpost.Mastodon: mastodon.New,
		xpost.Misskey:  misskey.New,
		xpost.Threads:  threads.New,
		xpost.X:        twitter.New,
	}
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.dbPath != "" {
		cfg.Server.DBPath = opts.dbPath
	}
	if opts.uploadDir != "" {
		cfg.Server.UploadDir = opts.uploadDir
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	interval, err := cfg.SchedulerInterval()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.Server.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	uploads := server.UploadDir(cfg.Server.UploadDir)

	registry := xpost.Build(ctx, connectorFactories())
	registry.SetLimits(cfg.Limits)

	sched := scheduler.New(st, registry, scheduler.Options{
		Interval:     interval,
		RatePerSec:   cfg.Scheduler.RatePerSec,
		Location:     loc,
		ResolveMedia: uploads.Resolve,
	})
	if !opts.noSched {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if path := root.resolveConfigPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			go func() {
				if err := config.Watch(ctx, path, func(c *config.Config) {
					registry.SetLimits(c.Limits)
				}); err != nil {
					logutil.Warnf("config watch: %v", err)
				}
			}()
		}
	}

	srv := server.New(server.Deps{
		Store:    st,
		Registry: registry,
		Checker:  sched,
		Uploads:  uploads,
		Location: loc,
	})
	logutil.Infof("serving: db=%s uploads=%s tz=%s", cfg.Server.DBPath, cfg.Server.UploadDir, loc)
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}
