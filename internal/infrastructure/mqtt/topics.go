package mqtt

import (
	"fmt"
	"strings"
)

// Routing keys use the topic-exchange dialect: dot-separated words, with "*"
// matching one word and "#" matching any number. On the MQTT side the same
// address is a slash-separated topic, following the RabbitMQ MQTT plugin:
//
//	.trf.hub.5          ↔ /trf/hub/5
//	.trf.server.*       → /trf/server/+
//	.trf.#              → /trf/#
//
// A configured prefix is prepended to every topic, standing in for the
// shared exchange.

// statusRoutingKey is where the bridge announces online/offline state.
const statusRoutingKey = ".trf.system.status"

// TopicForRoutingKey converts a publish routing key to an MQTT topic.
// Wildcards are rejected because they cannot be published to.
func TopicForRoutingKey(prefix, routingKey string) (string, error) {
	if routingKey == "" {
		return "", ErrInvalidTopic
	}
	if strings.ContainsAny(routingKey, "*#+/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, routingKey)
	}
	return prefix + strings.ReplaceAll(routingKey, ".", "/"), nil
}

// FilterForBindingKey converts a binding key to an MQTT subscription filter.
func FilterForBindingKey(prefix, bindingKey string) (string, error) {
	if bindingKey == "" {
		return "", ErrInvalidTopic
	}
	if strings.ContainsAny(bindingKey, "+/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, bindingKey)
	}

	words := strings.Split(bindingKey, ".")
	for i, w := range words {
		switch {
		case w == "*":
			words[i] = "+"
		case w == "#":
			if i != len(words)-1 {
				return "", fmt.Errorf("%w: %q: # must be the last word", ErrInvalidTopic, bindingKey)
			}
		case strings.ContainsAny(w, "*#"):
			return "", fmt.Errorf("%w: %q: wildcard inside a word", ErrInvalidTopic, bindingKey)
		}
	}
	return prefix + strings.Join(words, "/"), nil
}

// RoutingKeyForTopic converts a received MQTT topic back to a routing key.
func RoutingKeyForTopic(prefix, topic string) string {
	return strings.ReplaceAll(strings.TrimPrefix(topic, prefix), "/", ".")
}

// SystemStatusTopic returns the retained status topic for the bridge.
func SystemStatusTopic(prefix string) string {
	return prefix + strings.ReplaceAll(statusRoutingKey, ".", "/")
}

// filterMatches reports whether topic is covered by the subscription filter.
func filterMatches(filter, topic string) bool {
	fw := strings.Split(filter, "/")
	tw := strings.Split(topic, "/")
	for i, w := range fw {
		if w == "#" {
			return true
		}
		if i >= len(tw) || (w != "+" && w != tw[i]) {
			return false
		}
	}
	return len(fw) == len(tw)
}
