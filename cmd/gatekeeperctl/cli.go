package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"gatekeeper/cmd/client"
)

const defaultServer = "http://127.0.0.1:8080"

// readPassword is replaced in tests so they never touch a terminal.
var readPassword = term.ReadPassword

// isTerminal reports whether fd is an interactive terminal.
var isTerminal = term.IsTerminal

type cli struct {
	client *client.Client
	tokens string
	stdin  *bufio.Reader
	raw    io.Reader
	stdout io.Writer
	stderr io.Writer
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: gatekeeperctl [-server URL] [-tokens FILE] <command> [flags]

commands:
  register -email EMAIL [-password-stdin]
  login    -email EMAIL [-password-stdin]
  refresh
  logout
  profile

environment:
  GATEKEEPER_SERVER   default server URL`)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gatekeeperctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr) }

	server := fs.String("server", envOr("GATEKEEPER_SERVER", defaultServer), "server base URL")
	tokens := fs.String("tokens", defaultTokensPath(), "token file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(stderr)
		return 2
	}

	c, err := client.New(*server)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	app := &cli{
		client: c,
		tokens: *tokens,
		stdin:  bufio.NewReader(stdin),
		raw:    stdin,
		stdout: stdout,
		stderr: stderr,
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "register":
		err = app.register(ctx, rest)
	case "login":
		err = app.login(ctx, rest)
	case "refresh":
		err = app.refresh(ctx)
	case "logout":
		err = app.logout(ctx)
	case "profile":
		err = app.profile(ctx)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func (a *cli) credentials(name string, args []string) (email, password string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	emailFlag := fs.String("email", "", "account email")
	fromStdin := fs.Bool("password-stdin", false, "read the password from stdin")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(*emailFlag) == "" {
		return "", "", errors.New("-email is required")
	}

	password, err = a.readSecret(*fromStdin)
	if err != nil {
		return "", "", err
	}
	return *emailFlag, password, nil
}

func (a *cli) readSecret(fromStdin bool) (string, error) {
	if f, ok := a.raw.(*os.File); ok && !fromStdin && isTerminal(int(f.Fd())) { // #nosec G115 -- fd values fit in int.
		fmt.Fprint(a.stderr, "Password: ")
		pw, err := readPassword(int(f.Fd())) // #nosec G115 -- fd values fit in int.
		fmt.Fprintln(a.stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := a.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *cli) register(ctx context.Context, args []string) error {
	email, password, err := a.credentials("register", args)
	if err != nil {
		return err
	}
	u, err := a.client.Register(ctx, email, password)
	if err != nil {
		return err
	}
	return a.print(u)
}

func (a *cli) login(ctx context.Context, args []string) error {
	email, password, err := a.credentials("login", args)
	if err != nil {
		return err
	}
	sess, err := a.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := saveTokens(a.tokens, sess.Tokens); err != nil {
		return err
	}
	return a.print(sess.User)
}

func (a *cli) refresh(ctx context.Context) error {
	t, err := loadTokens(a.tokens)
	if err != nil {
		return err
	}
	next, err := a.client.Refresh(ctx, t.RefreshToken)
	if err != nil {
		return err
	}
	if err := saveTokens(a.tokens, next); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "tokens refreshed")
	return nil
}

func (a *cli) logout(ctx context.Context) error {
	t, err := loadTokens(a.tokens)
	if err != nil {
		return err
	}
	if err := a.client.Logout(ctx, t.AccessToken); err != nil {
		return err
	}
	if err := os.Remove(a.tokens); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	fmt.Fprintln(a.stdout, "logged out")
	return nil
}

func (a *cli) profile(ctx context.Context) error {
	t, err := loadTokens(a.tokens)
	if err != nil {
		return err
	}
	p, err := a.client.Profile(ctx, t.AccessToken)
	if err != nil {
		return err
	}
	return a.print(p)
}

func (a *cli) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func saveTokens(path string, t client.Tokens) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("token dir: %w", err)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func loadTokens(path string) (client.Tokens, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is chosen by the operator.
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return client.Tokens{}, errors.New("not logged in (run gatekeeperctl login)")
		}
		return client.Tokens{}, fmt.Errorf("read token file: %w", err)
	}
	var t client.Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return client.Tokens{}, fmt.Errorf("token file corrupt: %w", err)
	}
	return t, nil
}

func defaultTokensPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "gatekeeper", "tokens.json")
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
