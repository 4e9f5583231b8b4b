// Package protocol implements the binary scene packet protocol between the
// host application and the service. It handles header parsing, object
// announcements, transform samples and retire notifications, and the matching
// encoders used by host-side feeders.
package protocol
