// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the panel workspace to a browser over HTTP.
//
// Every mutation goes through the same panel store the terminal UI uses, so
// both views stay consistent. Sends return 202 Accepted at once; streamed
// content reaches the browser as workspace snapshots pushed over a
// WebSocket after each store change.
//
// # Endpoints
//
//   - GET    /health                      - Liveness and counters
//   - GET    /api/panels                  - Workspace snapshot
//   - POST   /api/panels                  - Add a panel
//   - DELETE /api/panels/{id}             - Remove a panel (never the last)
//   - PUT    /api/panels/{id}/model       - Select a model by id or name
//   - PUT    /api/panels/{id}/config      - Update sampling parameters
//   - PUT    /api/panels/{id}/input       - Store composer text
//   - POST   /api/panels/{id}/clear       - Clear the history
//   - POST   /api/panels/{id}/move        - Move left or right
//   - POST   /api/panels/{id}/messages    - Send a prompt
//   - POST   /api/panels/{id}/stop        - Stop the in-flight response
//   - GET    /api/panels/{id}/export      - Download as md or json
//   - POST   /api/broadcast               - Send to every panel with a model
//   - POST   /api/broadcast/stop          - Stop every panel
//   - PUT    /api/sync                    - Toggle sync mode
//   - GET    /api/models                  - Model catalog (?refresh=1)
//   - GET    /api/ws                      - Snapshot push
//
// # Middleware
//
// Requests pass through panic recovery, structured request logging,
// security headers, CORS, a per-client token bucket and an optional Bearer
// token check, in that order.
//
// # Usage
//
//	srv := server.New(store, dispatcher, cat, server.OptionsFromConfig(cfg, logger))
//	go srv.ListenAndServe()
//	defer srv.Shutdown(ctx)
package server
