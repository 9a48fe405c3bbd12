/*
Package log provides structured logging for the chat cluster using zerolog.

The log package wraps zerolog to provide JSON-or-console logging with
component-specific child loggers, a global level, and a separate level for
the high-frequency heartbeat/election-timer lines so operators can silence
replication chatter without losing everything else.

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│  Global Logger        Init(Config)                        │
	│  Heartbeat Logger      independent level, same output      │
	│  Component loggers     WithComponent / WithServerID / etc. │
	└────────────────────────────────────────────────────────────┘
*/
package log
