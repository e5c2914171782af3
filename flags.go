package main

import (
	"time"

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
	Usage:    "one of: [console, json]",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagMQTTBrokerHost = &cli.StringFlag{
	Name:     "mqtt-broker-host",
	EnvVars:  []string{"MQTT_BROKER_HOST"},
	Required: true,
}

var FlagMQTTBrokerPort = &cli.IntFlag{
	Name:     "mqtt-broker-port",
	EnvVars:  []string{"MQTT_BROKER_PORT"},
	Value:    8883,
	Required: false,
}

var FlagMQTTUsername = &cli.StringFlag{
	Name:     "mqtt-username",
	EnvVars:  []string{"MQTT_USERNAME"},
	Required: true,
}

var FlagMQTTPassword = &cli.StringFlag{
	Name:     "mqtt-password",
	EnvVars:  []string{"MQTT_PASSWORD"},
	Required: true,
}

var FlagMQTTQoS = &cli.IntFlag{
	Name:     "mqtt-qos",
	Usage:    "QoS level for every publish and subscribe",
	EnvVars:  []string{"MQTT_QOS"},
	Value:    2,
	Required: false,
}

var FlagMQTTKeepAlive = &cli.DurationFlag{
	Name:     "mqtt-keepalive",
	EnvVars:  []string{"MQTT_KEEPALIVE"},
	Value:    60 * time.Second,
	Required: false,
}

var FlagMQTTUseTLS = &cli.BoolFlag{
	Name:     "mqtt-use-tls",
	EnvVars:  []string{"MQTT_USE_TLS"},
	Value:    true,
	Required: false,
}

var FlagMQTTDataTopic = &cli.StringFlag{
	Name:     "mqtt-data-topic",
	Usage:    "topic scale readings are published to",
	EnvVars:  []string{"MQTT_DATA_TOPIC"},
	Value:    "laboratory/scale/data",
	Required: false,
}

var FlagMQTTCommandTopic = &cli.StringFlag{
	Name:     "mqtt-command-topic",
	Usage:    "topic single-byte scale commands arrive on",
	EnvVars:  []string{"MQTT_COMMAND_TOPIC"},
	Value:    "laboratory/scale/command",
	Required: false,
}

var FlagMQTTPrintTopic = &cli.StringFlag{
	Name:     "mqtt-print-topic",
	Usage:    "topic print jobs arrive on",
	EnvVars:  []string{"MQTT_PRINT_TOPIC"},
	Value:    "laboratory/printer/print",
	Required: false,
}

var FlagMQTTClientIDScale = &cli.StringFlag{
	Name:     "mqtt-client-id",
	EnvVars:  []string{"MQTT_CLIENT_ID"},
	Value:    "scale_daemon_client",
	Required: false,
}

var FlagMQTTClientIDPrinter = &cli.StringFlag{
	Name:     "mqtt-client-id",
	EnvVars:  []string{"MQTT_CLIENT_ID"},
	Value:    "printer_daemon_client",
	Required: false,
}

var FlagSerialDeviceScale = &cli.StringFlag{
	Name:     "serial-device",
	EnvVars:  []string{"SERIAL_DEVICE"},
	Value:    "/dev/ttyUSB_SCALE",
	Required: false,
}

var FlagSerialDevicePrinter = &cli.StringFlag{
	Name:     "serial-device",
	EnvVars:  []string{"SERIAL_DEVICE"},
	Value:    "/dev/ttyUSB_PRINTER",
	Required: false,
}

var FlagSerialBaudScale = &cli.IntFlag{
	Name:     "serial-baud",
	EnvVars:  []string{"SERIAL_BAUD"},
	Value:    9600,
	Required: false,
}

var FlagSerialBaudPrinter = &cli.IntFlag{
	Name:     "serial-baud",
	EnvVars:  []string{"SERIAL_BAUD"},
	Value:    115200,
	Required: false,
}

var FlagMockSerial = &cli.BoolFlag{
	Name:     "mock-serial",
	Usage:    "run against a simulated serial device",
	EnvVars:  []string{"MOCK_SERIAL_DEVICES"},
	Value:    false,
	Required: false,
}

var FlagQueueSize = &cli.IntFlag{
	Name:     "queue-size",
	Usage:    "bound of each bridge queue; overflow drops the oldest message",
	EnvVars:  []string{"BRIDGE_QUEUE_SIZE"},
	Value:    256,
	Required: false,
}

var FlagSmokeTest = &cli.BoolFlag{
	Name:     "smoke-test",
	Usage:    "connect to the broker, push one synthetic message, then exit",
	EnvVars:  []string{"RUN_INTEGRATION_TEST"},
	Value:    false,
	Required: false,
}

var commonFlags = []cli.Flag{
	FlagMQTTBrokerHost,
	FlagMQTTBrokerPort,
	FlagMQTTUsername,
	FlagMQTTPassword,
	FlagMQTTQoS,
	FlagMQTTKeepAlive,
	FlagMQTTUseTLS,
	FlagMockSerial,
	FlagQueueSize,
	FlagSmokeTest,
}

var scaleFlags = append([]cli.Flag{
	FlagMQTTClientIDScale,
	FlagMQTTDataTopic,
	FlagMQTTCommandTopic,
	FlagSerialDeviceScale,
	FlagSerialBaudScale,
}, commonFlags...)

var printerFlags = append([]cli.Flag{
	FlagMQTTClientIDPrinter,
	FlagMQTTPrintTopic,
	FlagSerialDevicePrinter,
	FlagSerialBaudPrinter,
}, commonFlags...)
