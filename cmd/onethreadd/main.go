package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	configPath := flag.String("config", "", "path to a .toml, .yaml or .yml config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	svc, err := NewService(*configPath, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "onethreadd: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "onethreadd: %v\n", err)
		os.Exit(1)
	}
}
