// Package config handles configuration loading for the shorts messenger.
//
// Configuration is loaded from YAML files with ${VAR_NAME} environment
// variable expansion and time.ParseDuration syntax for durations:
//
//	account: "alice"
//	nodes:
//	  - "https://api.hive.blog"
//	  - "https://anyx.io"
//	sync:
//	  window_size: 100
//	  poll_interval: "30s"
//	agent:
//	  url: "http://127.0.0.1:8791"
//	cache:
//	  enabled: false
//	  path: ""
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Load validates required fields and returns the first failure encountered.
package config
