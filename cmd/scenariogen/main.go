package main

import (
	"flag"
	"log"

	"github.com/danmuck/emberctl/internal/config"
)

func main() {
	output := flag.String("output", "scenario.toml", "output path for scenario template")
	validate := flag.Bool("validate", false, "validate an existing scenario file")
	input := flag.String("input", "", "scenario path for validation (defaults to -output)")
	force := flag.Bool("force", false, "overwrite existing scenario file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = *output
		}
		if _, err := config.Load(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated scenario at %s", path)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote scenario template to %s", *output)
}
