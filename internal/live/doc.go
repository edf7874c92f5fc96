// Package live implements the live salon room broadcast core.
//
// A Gateway admits authenticated WebSocket connections into rooms, a Registry
// owns room membership and broadcast fan-out, and a KeepaliveMonitor evicts
// silent connections. Per-connection write goroutines isolate slow clients;
// the receive loop is the only reader of each socket.
package live
