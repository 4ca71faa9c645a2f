package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/kit-dsn/pfennigfuchs/internal/cli"
)

func main() {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
