// Command gatekeeper runs the credential and session token server.
package main

import (
	"log"

	"gatekeeper/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
