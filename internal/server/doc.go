// Package server implements the HTTP server using Echo framework.
//
// Routes: live room WebSocket upgrade, participant counts, health, metrics.
// The upgrade endpoint is guarded by connection limits (global, per-IP,
// per-IP rate) before any room state is touched.
package server
