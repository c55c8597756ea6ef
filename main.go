package main

import (
	"context"
	"fmt"
	"os"

	"pos_sales/internal/app"
	"pos_sales/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	a, err := app.Build(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build app: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		panic(fmt.Errorf("error trying to start server: %v", err))
	}
}
