// Package config handles configuration loading for aura-orchestrator.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. The package provides validation and sensible defaults for
// policy values.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${AURA_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	stages:
//	  transcription:
//	    timeout: "4s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # websocket + REST API
//
// Database:
//
//	database:
//	  path: "/var/lib/aura/orchestrator.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${AURA_JWT_SECRET}"
//
// Analysis stages (all five must be configured):
//
//	stages:
//	  transcription:
//	    url: "http://asr:9001"
//	    timeout: "4s"
//	    required: true
//	    max_retries: 1
//	  vocal_emotion:
//	    url: "http://ser:9002"
//	  video_feature:
//	    url: "http://fer:9003"
//	  contextual_inference:
//	    url: "http://nlu:9004"
//	  cause_extraction:
//	    url: "http://cause:9005"
//
// Unset timeout and required fields fall back to each stage's declared
// defaults.
//
// Generative service (shared by response generation and consolidation):
//
//	generator:
//	  url: "http://generator:9010"
//	  timeout: "30s"
//	  max_tokens: 256
//	  temperature: 0.7
//
// Memory consolidation policy:
//
//	memory:
//	  consolidation_threshold: 20
//	  recent_window: 10
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "aura-orchestrator"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/aura/orchestrator.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
