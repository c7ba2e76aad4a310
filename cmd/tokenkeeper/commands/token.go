package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/pineapplepizza/tokenkeeper/internal/app"
	"github.com/pineapplepizza/tokenkeeper/internal/observability"
	"github.com/pineapplepizza/tokenkeeper/internal/tokencache"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "work with cached tokens",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "print a valid token, minting one if needed",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "raw",
						Usage: "print only the token value (default when stdout is not a terminal)",
					},
				},
				Action: tokenGetAction,
			},
			{
				Name:   "list",
				Usage:  "list configured token names",
				Action: tokenListAction,
			},
		},
	}
}

func tokenGetAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return cli.Exit("token name required", 2)
	}

	tokens, err := newTokens(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = tokens.Close() }()

	tok, err := tokens.Token(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to get token %s: %w", name, err)
	}

	out := cmd.Root().Writer
	raw := cmd.Bool("raw") || !isTerminal(out)
	return printToken(out, tok, raw, time.Now())
}

func tokenListAction(ctx context.Context, cmd *cli.Command) error {
	tokens, err := newTokens(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = tokens.Close() }()

	for _, name := range tokens.Names() {
		if _, err := fmt.Fprintln(cmd.Root().Writer, name); err != nil {
			return err
		}
	}
	return nil
}

func newTokens(ctx context.Context, cmd *cli.Command) (*app.Tokens, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Logs go to stderr so stdout carries only the token
	if _, err := observability.Instrument(ctx, observability.Config{
		Level:  cfg.LogLevel,
		Format: string(cfg.LogFormat),
		Output: os.Stderr,
	}); err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return app.NewTokens(ctx, cfg)
}

func printToken(w io.Writer, tok tokencache.Token, raw bool, now time.Time) error {
	if raw {
		_, err := fmt.Fprintln(w, tok.Value)
		return err
	}

	_, err := fmt.Fprintf(w, "name:       %s\nexpires_at: %s (in %s)\ntoken:      %s\n",
		tok.Name,
		tok.ExpiresAt.Format(time.RFC3339),
		tok.ExpiresAt.Sub(now).Truncate(time.Second),
		preview(tok.Value),
	)
	return err
}

// preview shortens a token for display on a terminal.
func preview(value string) string {
	if len(value) <= 24 {
		return value
	}
	return value[:12] + "…" + value[len(value)-8:]
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
