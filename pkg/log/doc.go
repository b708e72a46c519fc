/*
Package log provides structured logging for aerolithdb using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

aerolithdb's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("coordinator")             │          │
	│  │  - WithNodeID("node-abc123")                │          │
	│  │  - WithShardID("shard-07")                  │          │
	│  │  - WithCollection("users")                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "consensus",                │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "leader elected"               │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2024-10-13T10:30:00Z INF leader elected component=consensus │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all aerolithdb packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithNodeID: Add node ID context
  - WithShardID: Add shard ID context
  - WithCollection: Add collection name context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Evaluating filter against shard: shard_id=node-1/users"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Document committed: collection=users version=3"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Query fan-out: dial failed node_id=node-2"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to propose command: no quorum"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Failed to initialize Raft: %v"

# Usage

Initializing the Logger:

	import "github.com/cuemby/aerolithdb/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/aerolithdb.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("cluster bootstrap complete")
	log.Debug("checking shard assignment")
	log.Warn("high L1 eviction rate detected")
	log.Error("failed to dial peer node")
	log.Fatal("cannot start without a data directory") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("collection", "orders").
		Int("replication_factor", 3).
		Msg("document committed")

	log.Logger.Error().
		Err(err).
		Str("node_id", "node-abc").
		Msg("propose failed")

Component Loggers:

	// Create component-specific logger
	coordLog := log.WithComponent("coordinator")
	coordLog.Info().Msg("starting fan-out query")
	coordLog.Debug().Str("collection", "users").Msg("merging remote results")

	// Multiple context fields
	tierLog := log.WithComponent("storage").
		With().Str("shard_id", "node-1/users").Logger()
	tierLog.Info().Msg("promoting document to L1")
	tierLog.Error().Err(err).Msg("bolt write failed")

Context Logger Helpers:

	// Node-specific logs
	nodeLog := log.WithNodeID("node-abc123")
	nodeLog.Info().Msg("node joined Raft cluster")

	// Shard-specific logs
	shardLog := log.WithShardID("node-1/users")
	shardLog.Info().Msg("shard rebalanced")

	// Collection-specific logs
	collLog := log.WithCollection("orders")
	collLog.Info().Msg("collection query evaluated")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/cuemby/aerolithdb/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("aerolithdb starting")

		// Component-specific logging
		coordLog := log.WithComponent("coordinator")
		coordLog.Info().
			Str("node_id", "node-1").
			Int("shard_count", 5).
			Msg("coordinator wired")

		// Error logging
		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "rpc").
			Msg("failed to dial peer")

		log.Info("aerolithdb stopped")
	}

# Integration Points

This package integrates with:

  - cmd/aerolithdb: initializes the global logger once at startup and derives
    the per-node identity/peer logging used throughout the CLI
  - pkg/coordinator: logs fan-out failures, proposal outcomes, and undecodable
    entries encountered during a local scan
  - pkg/consensus: accepts a logger in NewRaftBinding but writes no log lines
    through it
  - pkg/storage: logs tier promotion, eviction, and backend I/O failures
  - pkg/byzantine: logs detected faults, suspicion state changes, and recovery
    actions taken against the Raft binding
  - pkg/sharding and pkg/rpc: take no logger and write no log lines

Most packages besides cmd/aerolithdb receive a *zerolog.Logger* directly via
constructor injection (the same pattern pkg/coordinator.New and
pkg/consensus.NewRaftBinding use for every other dependency) rather than
importing this package's global Logger — only cmd/aerolithdb calls log.Init
and log.WithComponent to build the per-component loggers it then hands down.

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"coordinator","time":"2024-10-13T10:30:00Z","message":"cluster initialized"}
	{"level":"info","component":"consensus","node_id":"node-1","time":"2024-10-13T10:30:01Z","message":"leader elected"}
	{"level":"error","component":"storage","shard_id":"node-1/users","time":"2024-10-13T10:30:02Z","message":"bolt write failed"}

Console Format (Development):

	2024-10-13T10:30:00Z INF cluster initialized component=coordinator
	2024-10-13T10:30:01Z INF leader elected component=consensus node_id=node-1
	2024-10-13T10:30:02Z ERR bolt write failed component=storage shard_id=node-1/users

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Records the error message under the "error" field (no stack trace)
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)
  - Amortized by buffer pooling

Throughput:
  - JSON: ~2M log lines per second
  - Console: ~1M log lines per second
  - Bottleneck: I/O write speed
  - Async writes recommended for high volume

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Symptom: Logs missing component or ID fields
  - Cause: Using global Logger instead of context logger
  - Solution: Use WithComponent() or create child loggers

Log Parsing Fails:
  - Symptom: Cannot parse JSON logs
  - Cause: Invalid JSON in message field
  - Check: Embedded quotes or control characters
  - Solution: Use .Str() instead of string interpolation

Performance Degradation:
  - Symptom: Slow application performance
  - Cause: Excessive logging in hot path
  - Check: Log statements in tight loops
  - Solution: Reduce log frequency, use sampling

# Log Rotation

File-Based Logging:

aerolithdb doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):
	# /etc/logrotate.d/aerolithdb
	/var/log/aerolithdb/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:
	# Automatic rotation by systemd
	journalctl -u aerolithdb -f

Docker/Kubernetes:
	# Use container runtime log drivers
	# JSON logs to stdout (already implemented)

# Log Aggregation

Recommended Tools:

Elasticsearch + Filebeat:
  - Filebeat ships logs to Elasticsearch
  - Kibana for visualization and search
  - Query: component:"coordinator" AND level:"error"

Loki + Promtail:
  - Lightweight log aggregation
  - Grafana integration
  - Query: {component="consensus"} |= "error"

CloudWatch Logs:
  - AWS native log aggregation
  - Metric filters for alerting
  - Query: fields @message | filter component = "storage"

Datadog:
  - Full-stack observability
  - APM and log correlation
  - Query: service:aerolithdb component:coordinator status:error

# Monitoring

Log-Based Alerts:

High Error Rate:
  - Query: rate(log entries with level="error"[5m]) > 10
  - Description: More than 10 errors per second
  - Action: Check recent errors, investigate root cause

No Logs:
  - Query: absent(log entries[1m])
  - Description: No logs received in 1 minute
  - Action: Check aerolithdb process, log pipeline

Specific Error Pattern:
  - Query: log entries containing "no quorum"
  - Description: Consensus availability issues
  - Action: Check Raft voter health, network partitions

# Security

Log Content:
  - Never log secrets or sensitive data
  - Redact tokens, passwords, API keys, and node identity keys
  - Use log scrubbing for compliance (GDPR, PCI)
  - Review logs before sharing externally

Log Access:
  - Restrict log file permissions (0640)
  - Limit log aggregation access (RBAC)
  - Audit log access in production
  - Encrypt logs at rest and in transit

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data
  - Validate/sanitize before logging if necessary

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() so they land in the "error" field
  - Include context (node ID, shard ID, collection)

Don't:
  - Log sensitive data (secrets, passwords, identity keys)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
  - Log aggregation: https://www.elastic.co/what-is/log-aggregation
*/
package log
