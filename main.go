// chatrelay - a line-oriented TCP chat relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chatrelay: %v\n", err)
		os.Exit(1)
	}
}
