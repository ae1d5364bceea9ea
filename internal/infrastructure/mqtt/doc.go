// Package mqtt provides the broker transport for the TRF bridge.
//
// Hubs and the bridge share a RabbitMQ topic exchange. This package reaches
// it over MQTT, translating between exchange routing keys and MQTT topics
// the way the RabbitMQ MQTT plugin does:
//
//	routing key  .trf.hub.5      ↔  topic  /trf/hub/5
//	binding key  .trf.server.*   →  filter /trf/server/+
//
// # Queues
//
// On top of plain subscriptions the Client offers named in-process queues.
// DeclareQueue binds a queue to a key and subscribes immediately, so replies
// that race a consumer are buffered. Several queues may bind the same key and
// each receives every matching message. Consume delivers in order with
// either ack-on-receipt or ack-after-success semantics.
//
// # Connection State
//
//	Disconnected → Connecting → Connected
//	      ▲                        │
//	      └──── connection lost ───┘          Close() → Closed (terminal)
//
// Reconnects use the retry package with the configured attempt limit. When
// attempts run out, active consumers end with ErrTransportUnavailable and
// the next operation tries again.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	_ = client.DeclareQueue("trf_queue", ".trf.server.message.*", true)
//	err = client.Consume(ctx, "trf_queue", handle, true)
//
// # Security Considerations
//
//   - TLS 1.2+ when cfg.Broker.TLS is set
//   - Credentials are checked by the broker's ACL
//   - Payloads are limited to 1 MiB
package mqtt
