// Package main hosts the cmdgate entrypoint.
//
// Architecture overview:
//   - Command listener: internal/dispatcher accepts raw TCP connections and hands each one to a pooled worker.
//     The pool keeps pool.capacity workers alive; when none is idle an overflow worker is started and exits after
//     its request.
//   - Request handling: internal/worker reads one request line, internal/protocol parses it into a command and
//     writes the minimal HTTP reply, and internal/registry fires the command at its subscribers synchronously.
//   - Subscribers: the archive lookup (internal/archive over sqlite or Postgres) and the Pub/Sub relay
//     (internal/relay) are registered from configuration; embedders add their own through App.Registry.
//   - Configuration & plumbing: Viper populates config from a file and CMDGATE_* env vars; zap provides structured
//     logging; request outcomes flow through the progress hub into Prometheus and the admin API.
//
// Quick checklist:
//   - Run locally: go run ./cmd/cmdgate serve --config config.yaml
//   - Try it: printf 'GET /play?file=a.mp3 HTTP/1.1\r\n\r\n' | nc localhost 8080
//   - Inspect: curl localhost:9090/v1/pool
package main
