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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blacktop/multipost/internal/config"
	"github.com/blacktop/multipost/internal/logutil"
	"github.com/blacktop/multipost/internal/website"
)

func newWebsitesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "websites",
		Short: "List supported websites and their limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			for _, reg := range a.poster.Manager().Registry().All() {
				meta := reg.Metadata()
				caps := reg.Capabilities()
				var kinds []string
				if caps.File {
					kinds = append(kinds, "files")
				}
				if caps.Message {
					kinds = append(kinds, "messages")
				}
				if caps.OAuth {
					kinds = append(kinds, "oauth")
				}
				fmt.Fprintf(out, "%-10s %s (%s)\n", meta.Name, meta.DisplayName, strings.Join(kinds, ", "))
				switch login := reg.LoginType().(type) {
				case website.UserLogin:
					fmt.Fprintf(out, "  login: %s\n", login.URL)
				case website.CustomLogin:
					fmt.Fprintf(out, "  login: %s\n", login.ComponentName)
				}
				if reg.AdsDisabled() {
					fmt.Fprintln(out, "  footer: disabled")
				}
				if caps.File {
					opts := reg.FileOptions()
					fmt.Fprintf(out, "  batch: %d files, types: %v\n", opts.FileBatchSize, opts.SupportedFileTypes)
					keys := make([]string, 0, len(opts.AcceptedFileSizes))
					for k := range opts.AcceptedFileSizes {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(out, "  max %s: %d bytes\n", k, opts.AcceptedFileSizes[k])
					}
				}
				if sc := reg.UsernameShortcut(); sc != nil {
					fmt.Fprintf(out, "  shortcut: {%s:username}\n", sc.ID)
				}
			}
			return nil
		},
	}
}

func newAccountsCommand() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List configured accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			for _, acct := range a.cfg.Accounts {
				w, err := a.poster.Manager().Instance(cmd.Context(), toAccount(acct))
				if err != nil {
					fmt.Fprintf(out, "%s  %s: %v\n", acct.ID, label(toAccount(acct)), err)
					continue
				}
				state := w.WebsiteBase().LoginState()
				if check {
					state = a.poster.CheckLogin(cmd.Context(), w)
				}
				fmt.Fprintf(out, "%s  %s  %s", acct.ID, label(toAccount(acct)), state.Status())
				if state.Username != "" {
					fmt.Fprintf(out, " as %s", state.Username)
				}
				fmt.Fprintln(out)
				public := w.WebsiteBase().ExternallyAccessibleData()
				keys := make([]string, 0, len(public))
				for k := range public {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  %s: %v\n", k, public[k])
				}
			}

			stored, err := a.store.AccountIDs(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range stored {
				if _, ok := a.cfg.Account(id); !ok {
					fmt.Fprintf(out, "%s  stored data without a configured account\n", id)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check login state before listing")
	return cmd
}

func newAccountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newAccountAddCommand(), newAccountSetCommand(), newAccountRemoveCommand())
	return cmd
}

func newAccountAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <website> <name>",
		Short: "Add an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			site := strings.ToLower(strings.TrimSpace(args[0]))
			if _, ok := a.poster.Manager().Registry().Lookup(site); !ok {
				return fmt.Errorf("unknown website %q", args[0])
			}
			name := strings.TrimSpace(args[1])
			if _, exists := a.cfg.Account(name); exists {
				return fmt.Errorf("account %q already exists", name)
			}

			acct := config.AccountConfig{ID: uuid.NewString(), Website: site, Name: name}
			a.cfg.Accounts = append(a.cfg.Accounts, acct)
			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", label(toAccount(acct)), acct.ID)
			return nil
		},
	}
}

func newAccountSetCommand() *cobra.Command {
	var secrets []string
	cmd := &cobra.Command{
		Use:   "set <account> [key=value...]",
		Short: "Set account data such as credentials",
		Example: `  multipost account set work-discord webhook=https://discord.com/api/webhooks/...
  multipost account set personal-bsky username=me.bsky.social --secret password`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.instance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data := w.WebsiteBase().Data()
			for _, pair := range args[1:] {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					return fmt.Errorf("expected key=value, got %q", pair)
				}
				if err := data.Set(key, parseValue(value)); err != nil {
					return err
				}
			}
			for _, key := range secrets {
				value, err := promptSecret(cmd, key)
				if err != nil {
					return err
				}
				if err := data.Set(key, value); err != nil {
					return err
				}
			}
			if err := data.Save(cmd.Context()); err != nil {
				return err
			}
			state := a.poster.CheckLogin(cmd.Context(), w)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", label(w.WebsiteBase().Account()), state.Status())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&secrets, "secret", nil, "Keys to prompt for without echo (repeatable)")
	return cmd
}

// parseValue keeps JSON values typed and treats anything else as a string.
func parseValue(raw string) any {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	return raw
}

func promptSecret(cmd *cobra.Command, key string) (string, error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", key)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read %s: %w", key, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return strings.TrimSpace(line), nil
}

func newAccountRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <account>",
		Aliases: []string{"rm"},
		Short:   "Remove an account and its stored data",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, ok := a.cfg.Account(args[0])
			if !ok {
				return fmt.Errorf("unknown account %q", args[0])
			}
			if err := a.poster.Manager().Remove(cmd.Context(), acct.ID); err != nil {
				return err
			}
			kept := a.cfg.Accounts[:0]
			for _, c := range a.cfg.Accounts {
				if c.ID != acct.ID {
					kept = append(kept, c)
				}
			}
			a.cfg.Accounts = kept
			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", label(toAccount(acct)))
			return nil
		},
	}
}

func newLoginCommand() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "login [targets...]",
		Short: "Check the login state of accounts",
		Long: `Check the login state of accounts.

With --watch the accounts are re-checked on each website's refresh interval
until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			accounts, err := a.resolveAccounts(args)
			if err != nil {
				return err
			}
			var errs []error
			for _, acct := range accounts {
				w, err := a.poster.Manager().Instance(cmd.Context(), acct)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				state := a.poster.CheckLogin(cmd.Context(), w)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s", label(acct), state.Status())
				if state.Username != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " as %s", state.Username)
				}
				fmt.Fprintln(cmd.OutOrStdout())
				if !state.IsLoggedIn {
					errs = append(errs, fmt.Errorf("%s is not logged in", label(acct)))
				}
			}
			if !watch {
				return errors.Join(errs...)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			logutil.Infof("watching %d accounts, press Ctrl-C to stop", len(a.poster.Manager().Instances()))
			if err := a.poster.RefreshLogins(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep re-checking logins on each website's refresh interval")
	return cmd
}

func newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth <account> <route> [json]",
		Short: "Run an authorization step for an OAuth website",
		Example: `  multipost auth work-mastodon registerApp '{"instanceUrl":"mastodon.social"}'
  multipost auth work-mastodon completeOAuth '{"code":"..."}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.instance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var input []byte
			if len(args) == 3 {
				input = []byte(args[2])
				if !json.Valid(input) {
					return fmt.Errorf("route input must be JSON")
				}
			}
			out, err := a.poster.InvokeAuthRoute(cmd.Context(), w, args[1], input)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
