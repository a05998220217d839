// Package mqtt provides the MQTT client used by the bridge to expose the
// gateway cache and descriptors, and to receive consumer commands.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and size checks
//   - Subscriptions that survive reconnects
//   - A retained status topic with Last Will for offline detection
//
// # Topic tree
//
// Every topic lives under a configurable prefix (default "onesmart"):
//
//	onesmart/system/status                  retained online/offline status (LWT)
//	onesmart/system/health                  retained bridge health
//	onesmart/cache/{area}                   cache snapshot per notification area
//	onesmart/descriptors/{platform}/{id}    retained entity descriptors
//	onesmart/command/{descriptor}           consumer commands (subscribed)
//	onesmart/refresh/{cmd}/{action}[/{id}]  refresh requests (subscribed)
//	onesmart/ack/{descriptor}               command acknowledgements
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
