// Package configs provides the embedded configuration template written by
// `memex init`. Embedding at build time keeps the template available in
// every distribution of the binary.
package configs

import _ "embed"

// ConfigTemplate is the template for the per-corpus .memex.yaml file.
//
//go:embed memex.example.yaml
var ConfigTemplate string
