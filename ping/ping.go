// Package ping implements the text SDU convention shared by the ping
// client and ping server: a PING SDU carries the raw message bytes
// unprefixed; the server answers with the literal concatenation
// "PONG:" + message.
package ping

import "strings"

const pongPrefix = "PONG:"

// Reply builds the SDU bytes for the PONG answering a PING carrying
// message.
func Reply(message []byte) []byte {
	return []byte(pongPrefix + string(message))
}

// IsPong reports whether sdu is a PONG and, if so, returns its message.
func IsPong(sdu []byte) (string, bool) {
	msg, ok := strings.CutPrefix(string(sdu), pongPrefix)
	return msg, ok
}
