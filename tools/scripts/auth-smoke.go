// Package main provides a CI-friendly smoke test for a running gatekeeper.
//
// It validates:
//   - registration and duplicate-email conflict
//   - login and profile introspection
//   - refresh rotation returns a different pair
//   - logout revokes outstanding refresh tokens
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"gatekeeper/cmd/client"
)

func main() {
	var (
		server   = flag.String("server", "http://127.0.0.1:8080", "gatekeeper base URL")
		password = flag.String("password", "smoke-test-password", "password for the throwaway account")
		timeout  = flag.Duration("timeout", 10*time.Second, "overall timeout")
		verbose  = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := client.New(*server)
	if err != nil {
		fatalf("invalid -server: %v", err)
	}

	email := fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())

	u, err := c.Register(ctx, email, *password)
	if err != nil {
		fatalf("register: %v", err)
	}
	logf(*verbose, "registered id=%s email=%s", u.ID, u.Email)

	if _, err := c.Register(ctx, email, *password); !isStatus(err, http.StatusConflict) {
		fatalf("duplicate register: want 409, got %v", err)
	}

	sess, err := c.Login(ctx, email, *password)
	if err != nil {
		fatalf("login: %v", err)
	}
	if sess.User.ID != u.ID {
		fatalf("login: user id mismatch: %s != %s", sess.User.ID, u.ID)
	}

	p, err := c.Profile(ctx, sess.AccessToken)
	if err != nil {
		fatalf("profile: %v", err)
	}
	if p.ID != u.ID || p.Email != email {
		fatalf("profile mismatch: %+v", p)
	}

	next, err := c.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		fatalf("refresh: %v", err)
	}
	if next.RefreshToken == sess.RefreshToken || next.AccessToken == sess.AccessToken {
		fatalf("refresh: rotation returned the same token")
	}
	logf(*verbose, "refresh rotated")

	if err := c.Logout(ctx, next.AccessToken); err != nil {
		fatalf("logout: %v", err)
	}
	if _, err := c.Refresh(ctx, next.RefreshToken); !client.IsUnauthorized(err) {
		fatalf("refresh after logout: want 401, got %v", err)
	}
	if _, err := c.Refresh(ctx, sess.RefreshToken); !client.IsUnauthorized(err) {
		fatalf("stale refresh after logout: want 401, got %v", err)
	}

	fmt.Printf("OK: user=%s email=%s\n", u.ID, email)
}

func isStatus(err error, status int) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

func logf(verbose bool, format string, args ...any) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
