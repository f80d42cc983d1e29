package main

import (
	"os"

	"github.com/research-kreat/kreat-agentic/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
