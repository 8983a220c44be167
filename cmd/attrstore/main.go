// Command attrstore runs and talks to a versioned entity-attribute store.
package main

import (
	"context"
	"os"

	"github.com/roach88/attrstore/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
