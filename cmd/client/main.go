package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"profkeeper/internal/buildinfo"
	"profkeeper/internal/client/cli"
	"profkeeper/internal/client/config"
	"profkeeper/internal/flagx"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app := cli.NewApp(cfg)

	args := flagx.Positionals(os.Args[1:], []string{"-a", "-k", "-t", "-c", "-config"})

	if err := app.Run(ctx, args); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, cli.Usage)
			os.Exit(2)
		}
		log.Fatalf("%v", err)
	}

}
