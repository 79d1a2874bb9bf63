// Package push implements the device-initiated transfer protocol.
//
// The device dials the host and then obeys CRLF-terminated text lines sent by
// the host:
//
//	PING                          -> PONG
//	UPLOAD:"<path>"&SIZE:"<n>"    -> CONTINUE, n raw bytes, WROTE <k>..., DONE
//	DOWNLOAD:"<path>"             -> SIZE:<n>, wait CONTINUE, n raw bytes
//	FINISHED                      -> connection closed
//
// Failures during an upload or download are answered with "ERROR: <message>"
// and the device keeps serving. Driver is the device side; Host and Peer are
// the host side.
//
// # Upload framing
//
// The device reads upload content in two phases. While at least one full
// buffer of content remains it reads up to a buffer at a time and
// acknowledges each read with "WROTE <k>". The tail shorter than a buffer is
// then read exactly, so the device never consumes bytes that belong to the
// next command line.
package push
