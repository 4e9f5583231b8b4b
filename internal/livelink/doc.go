// Package livelink implements the stream membership registry behind the
// add_stream_object, remove_stream_object and get_stream_objects calls.
// It validates names against the host scene mirror, keeps the ordered set of
// streamed objects and owns the process-wide streaming device lifecycle.
package livelink
