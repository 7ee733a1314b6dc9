// Package llm provides the HTTP client for the generative language
// service. Response generation and memory consolidation share one
// client, configured from the generator section of the config file.
package llm
