package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/novus-synthesis/internal/cli"
)

func main() {
	// a missing .env is fine; variables may come from the environment
	_ = godotenv.Load()

	config := cli.NewCliConfig()
	rc, err := cli.Cli(os.Args[1:], config)
	if err != nil {
		fmt.Fprintf(config.Stderr, "synthesize: %v\n", err)
	}
	os.Exit(rc)
}
