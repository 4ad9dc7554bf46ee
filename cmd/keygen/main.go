package main

import (
	"flag"
	"log"
	"os"

	"github.com/louisbranch/taskescrow/internal/tools/keygen"
)

func main() {
	cfg, err := keygen.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	if err := keygen.Run(cfg, os.Stdout, nil); err != nil {
		log.Fatalf("generate keys: %v", err)
	}
}
