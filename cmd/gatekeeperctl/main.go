// Command gatekeeperctl drives a running gatekeeper server.
//
//	gatekeeperctl [-server URL] [-tokens FILE] <command> [flags]
//
// Commands: register, login, refresh, logout, profile.
// login and refresh store the token pair in the tokens file (mode 0600);
// refresh, logout and profile read it back.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
