// Package cli implements the one-shot command interface of the profkeeper
// client: each invocation performs a single protocol exchange and exits.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"profkeeper/internal/client/client"
	"profkeeper/internal/client/config"
	"profkeeper/internal/filex"
)

// Usage describes the accepted commands. Flags are documented by the config
// package.
const Usage = `usage: client [flags] <command> [args]

commands:
  key               fetch the server public key and cache it locally
  reg <user>        register a new account (password is prompted)
  set <user> <file> store the contents of <file> for <user>
  get <user> <who>  fetch <who>'s content into <who>.file.dat
  all <user>        list all registered usernames
  sav <user>        ask the server to persist the account directory
  bye <user>        shut the server down`

var ErrUsage = errors.New("invalid command line")

type App struct {
	config *config.Config
	client *client.Client
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(c *config.Config) *App {
	return &App{
		config: c,
		client: client.New(c.ServerEndpointAddr, c.RequestTimeout),
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}
}

// Run dispatches a single command. args is the command line after flag
// stripping, e.g. ["reg", "alice"].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	cmd, rest := args[0], args[1:]

	if cmd == "key" {
		return a.fetchKey(ctx)
	}

	switch cmd {
	case "reg", "bye", "sav", "all":
		if len(rest) != 1 {
			return ErrUsage
		}
	case "set", "get":
		if len(rest) != 2 {
			return ErrUsage
		}
	default:
		return ErrUsage
	}
	user := rest[0]

	if err := a.ensureKey(ctx); err != nil {
		return err
	}

	pass, err := GetPassword(a.out)
	if err != nil {
		return err
	}

	switch cmd {
	case "reg":
		if err := a.client.Register(ctx, user, string(pass)); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "OK")
	case "bye":
		if err := a.client.Bye(ctx, user, string(pass)); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "OK")
	case "sav":
		if err := a.client.Save(ctx, user, string(pass)); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "OK")
	case "set":
		content, err := os.ReadFile(rest[1])
		if err != nil {
			return fmt.Errorf("content file: %w", err)
		}
		if err := a.client.SetContent(ctx, user, string(pass), content); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "OK")
	case "get":
		target := rest[1]
		content, err := a.client.GetContent(ctx, user, string(pass), target)
		if err != nil {
			return err
		}
		outFile := target + ".file.dat"
		if err := filex.WriteFileAtomic(outFile, content, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "wrote %s (%d bytes)\n", outFile, len(content))
	case "all":
		users, err := a.client.ListUsers(ctx, user, string(pass))
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Fprintln(a.out, u)
		}
	}

	return nil
}

// fetchKey requests the server key and caches it at the configured path.
func (a *App) fetchKey(ctx context.Context) error {
	pem, err := a.client.FetchKey(ctx)
	if err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(a.config.KeyFile, pem, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "wrote %s\n", a.config.KeyFile)
	return nil
}

// ensureKey installs the cached server key, fetching and caching it on first
// use.
func (a *App) ensureKey(ctx context.Context) error {
	pem, err := os.ReadFile(a.config.KeyFile)
	if err == nil {
		return a.client.UsePublicKey(pem)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return a.fetchKey(ctx)
}
