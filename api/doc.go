// Package api describes the HTTP surface of the visemeflow service.
//
// # API Overview
//
// visemeflow accepts raw PCM audio over a websocket and replies with
// viseme cues for every binary frame:
//   - GET /ws                              streaming lip sync session
//   - GET /connections                     live sessions across instances
//   - GET /api/v1/sessions/{id}/chunks     recent extraction history
//   - GET /health, /healthz, /ready        health checks
//   - GET /version                         build information
//
// # Streaming
//
// The audio format is chosen with query parameters on the upgrade
// request, all optional:
//
//	ws://localhost:8080/ws?audio_channels=1&audio_sample_rate=44100&audio_sample_width=2
//
// Every binary frame gets exactly one text reply, either
//
//	{"mouthCues":[{"start":0.0,"end":0.5,"value":0}],"metadata":{"duration":0.5}}
//
// or
//
//	{"error":"rhubarb produced no output file","code":"TOOL_EXECUTION_ERROR"}
//
// # Authentication
//
// When API keys are configured, the REST endpoints require the X-API-Key
// header. The websocket, health and version paths are exempt.
package api
