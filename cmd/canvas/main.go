// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command canvas runs the shared canvas server.
//
// # Environment Variables
//
//   - PORT: HTTP server port (default: 3000)
//   - CANVAS_WIDTH, CANVAS_HEIGHT: Board geometry (default: 256x256)
//   - CANVAS_STORAGE: Storage location: a directory, badger://<dir> or gs://bucket/prefix (default: /data)
//   - CANVAS_SESSION_NAME: Name the history is stored under (default: 1-1-2026)
//   - CANVAS_ON_CORRUPT: fail or fresh (default: fail)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector, or "stdout" (default: disabled)
//
// # Usage
//
//	# Build
//	go build -o canvas ./cmd/canvas
//
//	# Run
//	./canvas serve --config canvas.yaml
//
//	# Summarize the persisted history without starting the server
//	./canvas inspect --config canvas.yaml
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("canvas failed", "error", err)
		os.Exit(1)
	}
}
