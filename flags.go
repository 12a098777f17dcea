package main

import (
	"time"

	"mqtt-queue-bridge/application"

	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagMode = &cli.StringFlag{
	Name:     "mode",
	Usage:    "one of: [pub, sub, both]",
	EnvVars:  []string{"BRIDGE_MODE"},
	Value:    "both",
	Required: false,
}

var FlagMQTTUrl = &cli.StringFlag{
	Name:     "mqtt-url",
	Usage:    "tcp://broker:port",
	EnvVars:  []string{"MQTT_URL"},
	Required: true,
}

var FlagMQTTClientID = &cli.StringFlag{
	Name:     "mqtt-client-id",
	Usage:    "client id prefix, suffixed with -pub / -sub (generated when empty)",
	EnvVars:  []string{"MQTT_CLIENT_ID"},
	Required: false,
}

var FlagMQTTUsername = &cli.StringFlag{
	Name:     "mqtt-username",
	EnvVars:  []string{"MQTT_USERNAME"},
	Required: false,
}

var FlagMQTTPassword = &cli.StringFlag{
	Name:     "mqtt-password",
	EnvVars:  []string{"MQTT_PASSWORD"},
	Required: false,
}

var FlagMQTTQoS = &cli.UintFlag{
	Name:     "mqtt-qos",
	Usage:    "1 or 2",
	EnvVars:  []string{"MQTT_QOS"},
	Value:    uint(application.DefaultQoS),
	Required: false,
}

var FlagSubTopic = &cli.StringSliceFlag{
	Name:     "sub-topic",
	Usage:    "topic to subscribe to, repeatable",
	EnvVars:  []string{"MQTT_SUB_TOPICS"},
	Value:    cli.NewStringSlice("esp32"),
	Required: false,
}

var FlagTopicsFile = &cli.StringFlag{
	Name:     "topics-file",
	Usage:    "yaml file with a topics list, merged with --sub-topic",
	EnvVars:  []string{"MQTT_TOPICS_FILE"},
	Required: false,
}

var FlagQueueSize = &cli.IntFlag{
	Name:     "queue-size",
	EnvVars:  []string{"QUEUE_SIZE"},
	Value:    application.DefaultQueueSize,
	Required: false,
}

var FlagMemoryLimit = &cli.Int64Flag{
	Name:     "memory-limit",
	Usage:    "bytes available to queued messages, 0 for unlimited",
	EnvVars:  []string{"MEMORY_LIMIT"},
	Value:    0,
	Required: false,
}

var FlagTickInterval = &cli.DurationFlag{
	Name:     "tick-interval",
	EnvVars:  []string{"TICK_INTERVAL"},
	Value:    application.DefaultTickInterval,
	Required: false,
}

var FlagPublisherReconnectInterval = &cli.DurationFlag{
	Name:     "publisher-reconnect-interval",
	EnvVars:  []string{"PUBLISHER_RECONNECT_INTERVAL"},
	Value:    application.DefaultPublisherReconnectInterval,
	Required: false,
}

var FlagSubscriberReconnectInterval = &cli.DurationFlag{
	Name:     "subscriber-reconnect-interval",
	EnvVars:  []string{"SUBSCRIBER_RECONNECT_INTERVAL"},
	Value:    application.DefaultSubscriberReconnectInterval,
	Required: false,
}

var FlagReportInterval = &cli.DurationFlag{
	Name:     "report-interval",
	EnvVars:  []string{"REPORT_INTERVAL"},
	Value:    30 * time.Second,
	Required: false,
}
