// Package bridge exposes the One Smart gateway client over MQTT.
//
// The bridge sits between the gateway wrapper and MQTT consumers:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│    Consumers    │   MQTT   │     Bridge      │   JSON-RPC/TLS
//	│ (HA, dashboards)│◄────────►│   (this pkg)    │◄────────────► Gateway
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Publish a cache snapshot per notification area when it changes
//   - Publish retained entity descriptors with their current state
//   - Translate consumer commands into descriptor command templates
//   - Translate refresh requests into update flags
//   - Publish periodic health derived from the channel states
//   - Feed meter and apparatus values to the time-series store
//   - Record apparatus changes and commands in the history store
//
// # Commands
//
// A consumer publishes a CommandMessage to onesmart/command/{descriptor}:
//
//	{"id": "c1", "command": "turn_on", "value": 80}
//
// The bridge answers on onesmart/ack/{descriptor} with an AckMessage whose
// status is accepted (sent), queued (channel down, sent on reconnect) or
// failed.
//
// The Dispatcher that does this is shared with the HTTP API.
package bridge
