// Package mqtt is the SmartCare bridge's broker session, built on
// eclipse/paho.mqtt.golang.
//
// Besides Publish and Subscribe the session owns the bridge's presence:
// a retained marker carrying the bridge ID, version and the poller's view of
// the upstream endpoint. The broker publishes the offline variant as the
// will when the process dies; Close replaces it with a shutdown marker.
//
// Topics, all under graylogic/:
//
//	state/smartcare/{channel}           retained, channel state
//	status/smartcare                    retained, upstream ONLINE/OFFLINE
//	health/smartcare                    retained, periodic health
//	presence/smartcare/{bridge_id}      retained, session online/offline
//	request/smartcare[/{request_id}]    subscribed
//	response/smartcare/{request_id}
//
// Usage:
//
//	client, err := mqtt.Connect(mqtt.OptionsFromConfig(cfg.MQTT, mqtt.Presence{
//	    Protocol: "smartcare",
//	    BridgeID: bridgeCfg.Bridge.ID,
//	}))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetUpstreamStatus(func() string { return string(poller.Status()) })
package mqtt
