// Package protocol implements the device side of the framed upload
// protocol: command dispatch, the upload session state machine and the
// response frames the host expects.
//
// One command arrives per decoded frame payload and produces exactly one
// response frame. Upload data chunks carry their own CRC16, validated
// before a single byte reaches the chunk sink, so a corrupted chunk is
// rejected without advancing the transfer.
package protocol
