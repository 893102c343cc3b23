// Package api embeds the OpenAPI document the server publishes at
// /openapi.yaml.
package api

import _ "embed"

// OpenAPISpec is the raw OpenAPI 3.1 YAML document for the datascout API.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
