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
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/blacktop/snspost/internal/client"
	"github.com/blacktop/snspost/internal/config"
	"github.com/blacktop/snspost/internal/logutil"
	"github.com/spf13/cobra"
)

// EnvConfig points at the config file when --config is not given.
const EnvConfig = "SNSPOST_CONFIG"

// errReported marks a failure already shown to the user.
var errReported = errors.New("reported")

type rootOptions struct {
	server     string
	configPath string
	verbose    bool
}

// Execute runs the root command.
func Execute() error {
	err := newRootCommand().Execute()
	if err != nil && !errors.Is(err, errReported) {
		logutil.Errorf("%v", err)
	}
	return err
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	post := &postOptions{root: opts}

	cmd := &cobra.Command{
		Use:   "snspost [message]",
		Short: "Compose and cross-post to social networks",
		Long: "snspost composes one update for Bluesky, X, Threads, Misskey and Mastodon, " +
			"posts it now or schedules it, and can run the backend that does the delivery.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logutil.SetVerbose(opts.verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(cmd, args, post)
		},
		Example: `  snspost "hello world" --target x --target bluesky
  snspost post -m "launch day" --media ./shot.png --target all
  snspost post --mode individual --target x --target misskey \
      --text x="short take" --text misskey="the long version"
  snspost post "see you tomorrow" --target mastodon --schedule 2026-10-17T09:00
  snspost scheduled list
  snspost serve --config ./snspost.yaml`,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.server, "server", "", "Backend base URL (default from config, then "+config.DefaultServer+")")
	pf.StringVar(&opts.configPath, "config", "", "Path to the YAML config file")
	pf.BoolVarP(&opts.verbose, "verbose", "V", false, "Enable debug logging")
	addPostFlags(cmd, post)
	cmd.Flags().SortFlags = false

	cmd.AddCommand(
		newPostCommand(opts),
		newPlatformsCommand(opts),
		newScheduledCommand(opts),
		newServeCommand(opts),
		newCompletionCommand(),
	)

	return cmd
}

// resolveConfigPath picks --config, then $SNSPOST_CONFIG, then the user config dir.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfig)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "snspost", "config.yaml")
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.server != "" {
		cfg.Client.Server = o.server
	}
	logutil.Debugf("config: path=%s server=%s", path, cfg.Client.Server)
	return cfg, nil
}

func (o *rootOptions) newClient() (*client.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.ClientTimeout()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Client.Server).WithTimeout(timeout), nil
}
