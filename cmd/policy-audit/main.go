package main

import (
	"fmt"
	"os"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/runtime/terminal"
	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// .env is optional
	_ = godotenv.Load()

	cli := terminal.NewCLI(terminal.Options{
		Version: version,
		Output:  os.Stdout,
	})

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
