// Package onesmart implements a client for One Smart Control home automation
// gateways.
//
// The gateway speaks line-delimited JSON over TLS on port 9010. Every
// outbound message carries a "cmd" and a per-connection "transaction" id;
// inbound messages are either responses that echo the transaction id with a
// "result" or "error" field, or unsolicited events tagged with "event".
//
// # Architecture
//
// The client keeps two independent connections to the gateway:
//
//	┌────────────┐  events/subscribe   ┌─────────┐
//	│ push loop  │◄───────────────────►│         │
//	└─────┬──────┘                     │ gateway │
//	      │        site/meter/device   │  :9010  │
//	┌─────┴──────┐  apparatus/get      │         │
//	│ poll loop  │◄───────────────────►│         │
//	└─────┬──────┘                     └─────────┘
//	      ▼
//	   Cache ──► Discovery ──► capability descriptors
//
// Each connection is a Socket (framing, transaction registry, event queue)
// driven by a supervisor that owns the Disconnected → Connecting →
// Authenticating → Ready state machine, pings on an interval and reconnects
// with a bounded retry budget.
//
// The Wrapper ties both channels together. The poll loop refreshes the
// slowly changing definitions (site, meters, devices, rooms, presets) and
// volatile values (energy totals, apparatus attributes polled in bounded
// round-robin batches). The push loop applies events as they arrive.
// Consumers read the Cache, ask for capability descriptors per platform and
// submit commands; they are told about changes through topic notifications.
//
// # Usage
//
//	w := onesmart.New(onesmart.Config{
//	    Address:  "192.168.1.20:9010",
//	    Username: "installer",
//	    Password: password,
//	    Timing:   onesmart.DefaultTiming(),
//	})
//	w.SetLogger(logger)
//
//	status, err := w.Setup(ctx)
//	if status != onesmart.SetupSuccess {
//	    return err
//	}
//	w.Start(ctx)
//	defer w.Close()
//
// # Thread Safety
//
// Wrapper and Cache methods are safe for concurrent use. A Socket may be
// written from several goroutines, but only its owning loop reads from it.
package onesmart
