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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blacktop/multipost/internal/config"
	"github.com/blacktop/multipost/internal/poster"
	"github.com/blacktop/multipost/internal/store"
	"github.com/blacktop/multipost/internal/transport"
	"github.com/blacktop/multipost/internal/website"
	"github.com/blacktop/multipost/internal/website/bluesky"
	"github.com/blacktop/multipost/internal/website/discord"
	"github.com/blacktop/multipost/internal/website/mastodon"
	"github.com/blacktop/multipost/internal/website/twitter"
	"github.com/blacktop/multipost/internal/website/weasyl"
)

type app struct {
	cfgPath string
	cfg     *config.Config
	store   *store.SQLiteStore
	poster  *poster.Poster
}

// registerWebsites registers every website type and freezes the registry.
func registerWebsites(client *transport.Client) (*website.Registry, error) {
	registry := website.NewRegistry()
	registrars := []func(*website.Registry, *transport.Client) (*website.Registration, error){
		bluesky.Register,
		discord.Register,
		mastodon.Register,
		twitter.Register,
		weasyl.Register,
	}
	for _, register := range registrars {
		if _, err := register(registry, client); err != nil {
			return nil, err
		}
	}
	registry.Freeze()
	return registry, nil
}

func newApp(cfgPath string) (*app, error) {
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := config.Save(cfgPath, cfg); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Database)
	if err != nil {
		return nil, err
	}

	client := transport.NewClient(transport.Config{Timeout: cfg.HTTP.Timeout, RetryMax: cfg.HTTP.RetryMax})
	registry, err := registerWebsites(client)
	if err != nil {
		db.Close()
		return nil, err
	}

	manager := poster.NewManager(registry, db)
	return &app{
		cfgPath: cfgPath,
		cfg:     cfg,
		store:   db,
		poster:  poster.New(manager, poster.Config{Concurrency: cfg.Post.Concurrency, Footer: cfg.Post.Footer}),
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

func (a *app) save() error { return config.Save(a.cfgPath, a.cfg) }

func toAccount(c config.AccountConfig) website.Account {
	return website.Account{ID: c.ID, Website: c.Website, Name: c.Name}
}

// resolveAccounts maps targets (account ids, account names, website names or
// "all") to configured accounts, deduplicated and in config order.
func (a *app) resolveAccounts(targets []string) ([]website.Account, error) {
	if len(a.cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured; run `multipost account add`")
	}

	selected := map[string]bool{}
	all := len(targets) == 0
	for _, raw := range targets {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.EqualFold(raw, "all") {
			all = true
			continue
		}
		if acct, ok := a.cfg.Account(raw); ok {
			selected[acct.ID] = true
			continue
		}
		matched := false
		for _, acct := range a.cfg.Accounts {
			if strings.EqualFold(acct.Website, raw) {
				selected[acct.ID] = true
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("unknown target %q", raw)
		}
	}

	var out []website.Account
	for _, acct := range a.cfg.Accounts {
		if all || selected[acct.ID] {
			out = append(out, toAccount(acct))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no targets selected")
	}
	return out, nil
}

func (a *app) instance(ctx context.Context, idOrName string) (website.Website, error) {
	acct, ok := a.cfg.Account(idOrName)
	if !ok {
		return nil, fmt.Errorf("unknown account %q", idOrName)
	}
	return a.poster.Manager().Instance(ctx, toAccount(acct))
}
