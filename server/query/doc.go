// Package query implements the UDP query protocol used by Bedrock server
// lists for chunkstream servers.
//
// The server package registers a provider describing its current state: the
// connected viewers, the amount of cached chunks and entities and the ticks
// per second. Queries are answered on the port of the Bedrock listener by
// intercepting them before they reach RakNet, or by a standalone Responder.
package query
