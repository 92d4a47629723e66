// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud talks to an OpenAI-compatible chat-completions endpoint.
//
// The client only opens requests. Reading the streamed body belongs to the
// stream package, so the response is handed back untouched.
//
// # Key Types
//
//   - Client: HTTP client with a pooled transport and secure logging
//   - Credentials: Base URL and API key for one endpoint
//   - ChatRequest: Request body for a streamed chat completion
//   - APIError: Failure reported by the endpoint
//   - ModelEntry: One raw entry from the models listing
//
// # Usage
//
// Open a streamed completion:
//
//	client := cloud.NewClient()
//	req := client.BuildRequest(panel.Model.ID, panel.Messages, panel.Config)
//	resp, err := client.Open(ctx, creds, req)
//
// # Security
//
// API keys are never logged. A short SHA-256 fingerprint identifies the key
// in log lines instead, and all requests use TLS 1.2+.
package cloud
