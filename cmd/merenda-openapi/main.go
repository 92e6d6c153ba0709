// Package main provides a CLI tool to generate the OpenAPI specification for
// the Merenda control-plane API. It uses the shared route definitions with
// handlers constructed without services, so the spec is produced without a
// database or any external dependencies.
//
// Usage:
//
//	go run ./cmd/merenda-openapi > openapi.json
//	go run ./cmd/merenda-openapi -yaml > openapi.yaml
//	go run ./cmd/merenda-openapi -output openapi.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/merendalabs/merenda-api/internal/http/handlers"
	"github.com/merendalabs/merenda-api/internal/http/routes"
	"github.com/merendalabs/merenda-api/internal/version"
)

func main() {
	outputFile := flag.String("output", "", "Output file path (default: stdout)")
	outputYAML := flag.Bool("yaml", false, "Output as YAML instead of JSON")
	baseURL := flag.String("base-url", "https://api.merenda.app", "Base URL for the API server")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().Short())
		return
	}

	// A minimal chi router - we won't actually serve requests
	router := chi.NewRouter()

	cfg := routes.NewHumaConfig(*baseURL)
	api := humachi.New(router, cfg)

	// Handlers without services: registration only needs the method values
	routes.Register(api, handlers.New(nil, nil))

	spec := api.OpenAPI()

	var data []byte
	var err error
	if *outputYAML {
		data, err = yaml.Marshal(spec)
	} else {
		data, err = json.MarshalIndent(spec, "", "  ")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshaling OpenAPI spec: %v\n", err)
		os.Exit(1)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "error writing to file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "OpenAPI spec written to %s\n", *outputFile)
	} else {
		fmt.Print(string(data))
	}
}
