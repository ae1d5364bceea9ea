package trf

import (
	"strings"

	"github.com/google/uuid"
)

// Routing keys and queue names shared with the hub firmware.
const (
	DefaultHubKeyPrefix = ".trf.hub."
	ReplyRoutingKey     = ".trf.server.*"
	TelemetryRoutingKey = ".trf.server.message.*"
	TelemetryQueue      = "trf_queue"

	replyQueuePrefix = "rpl-queue_"
)

// HubRoutingKey returns the key a hub listens on.
func HubRoutingKey(hubID string) string {
	return DefaultHubKeyPrefix + hubID
}

// DeviceIDFromRoutingKey returns the trailing dot-separated segment of key.
func DeviceIDFromRoutingKey(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// ReplyQueueName mints a reply queue name unique to one call.
func ReplyQueueName(hubID string) string {
	return replyQueuePrefix + hubID + "_" + uuid.NewString()
}
