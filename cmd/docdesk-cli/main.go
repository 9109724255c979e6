package main

import (
	"fmt"
	"os"

	"github.com/docdesk/docdesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "docdesk:", err)
		os.Exit(1)
	}
}
