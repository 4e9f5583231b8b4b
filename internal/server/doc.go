// Package server implements the UDP ingest of host scene packets and the HTTP API.
// The UDP side decodes announce, transform and retire packets on a worker pool and
// applies them to the scene mirror. The HTTP side exposes the stream object
// operations along with monitoring endpoints.
package server
