package controlbus

import (
	"strconv"
	"strings"
)

const channelPrefix = "channel="

// ParseChannel decodes a switch payload "channel=<n>". Channel 0 means stop.
// ok is false for anything else.
func ParseChannel(payload []byte) (channel int, ok bool) {
	s := string(payload)
	if !strings.HasPrefix(s, channelPrefix) {
		return 0, false
	}
	digits := s[len(channelPrefix):]
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ChannelPayload encodes a switch command for channel n.
func ChannelPayload(n int) []byte {
	return []byte(channelPrefix + strconv.Itoa(n))
}

// NetworkErrorPayload encodes the network status published on TopicSystem.
func NetworkErrorPayload(failing bool) []byte {
	return []byte("network_error=" + strconv.FormatBool(failing))
}
