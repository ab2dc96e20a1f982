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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blacktop/snspost/internal/render"
	"github.com/blacktop/snspost/internal/scheduled"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newScheduledCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scheduled",
		Aliases: []string{"sched"},
		Short:   "Inspect and cancel scheduled posts",
	}
	cmd.AddCommand(
		newScheduledListCommand(root),
		newScheduledDeleteCommand(root),
		newScheduledCheckCommand(root),
		newScheduledNowCommand(root),
	)
	return cmd
}

func newScheduledListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scheduled posts, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			reg := scheduled.New(c)
			if err := reg.Refresh(cmd.Context()); err != nil {
				return err
			}
			render.New(cmd.OutOrStdout()).Scheduled(reg.Entries(), time.Local)
			return nil
		},
	}
}

func newScheduledDeleteCommand(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm", "cancel"},
		Short:   "Delete a scheduled post",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			c, err := root.newClient()
			if err != nil {
				return err
			}
			reg := scheduled.New(c)
			if err := reg.Refresh(cmd.Context()); err != nil {
				return err
			}

			confirm := func(scheduled.Entry) bool { return true }
			if !yes {
				in, ok := cmd.InOrStdin().(*os.File)
				if !ok || !term.IsTerminal(int(in.Fd())) {
					return errors.New("refusing to delete without a terminal to confirm on; pass --yes")
				}
				confirm = promptConfirm(in, cmd.ErrOrStderr())
			}

			printer := render.New(cmd.OutOrStdout())
			deleted, err := reg.Delete(cmd.Context(), id, confirm)
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted scheduled post #%d\n", id)
			printer.Scheduled(reg.Entries(), time.Local)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newScheduledCheckCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Ask the backend to deliver due posts now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			if err := c.ForceCheckScheduled(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scheduled posts checked")
			return nil
		},
	}
}

func newScheduledNowCommand(root *rootOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "now <id>",
		Short: "Make a scheduled post due immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			c, err := root.newClient()
			if err != nil {
				return err
			}
			if err := c.SetPostNow(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled post #%d is due now\n", id)
			if !check {
				return nil
			}
			if err := c.ForceCheckScheduled(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scheduled posts checked")
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Run a scheduler pass right after")
	return cmd
}

func promptConfirm(in io.Reader, out io.Writer) scheduled.Confirmer {
	return func(e scheduled.Entry) bool {
		label := fmt.Sprintf("#%d", e.ID)
		if e.Preview != "" {
			label += " " + strconv.Quote(e.Preview)
		}
		fmt.Fprintf(out, "Delete scheduled post %s? [y/N] ", label)
		line, _ := bufio.NewReader(in).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}
