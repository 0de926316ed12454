package main

import (
	"os"

	"github.com/joho/godotenv"

	"drama-lab-pipeline/internal/cli"
)

func main() {
	// Load .env (local dev only — CI uses secrets)
	_ = godotenv.Load()

	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
