package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/donadiosolutions/scale-printer-mqtt/adapters"
	"github.com/donadiosolutions/scale-printer-mqtt/application"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const (
	roleScale   = "scale"
	rolePrinter = "printer"

	smokeConnectTimeout = 20 * time.Second
	smokeSoak           = 10 * time.Second
)

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "scale-printer-mqtt",
		Usage:   "bridge a serial device to an MQTT broker",
		Version: "v0.1.0",
		Flags: []cli.Flag{
			FlagLogLevel,
			FlagLogWriter,
		},
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			} else if ctx.String(FlagLogWriter.Name) == "json" {
				logWriter = os.Stderr
			} else {
				return fmt.Errorf("invalid log writer: %s", ctx.String(FlagLogWriter.Name))
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "scale-printer-mqtt").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  roleScale,
				Usage: "bridge a laboratory scale: readings out, single-byte commands in",
				Flags: scaleFlags,
				Action: func(ctx *cli.Context) error {
					return runDaemon(ctx, &logger, roleScale)
				},
			},
			{
				Name:  rolePrinter,
				Usage: "bridge a receipt printer: print jobs in",
				Flags: printerFlags,
				Action: func(ctx *cli.Context) error {
					return runDaemon(ctx, &logger, rolePrinter)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
		os.Exit(1)
	}
}

type daemonConfig struct {
	role string

	brokerHost string
	brokerPort int
	username   string
	password   string
	clientID   string
	qos        byte
	keepAlive  time.Duration
	useTLS     bool

	dataTopic    string
	commandTopic string
	printTopic   string

	device string
	baud   int

	mockSerial bool
	queueSize  int
	smokeTest  bool
}

// configFromCLI collects and validates the daemon configuration. A
// validation failure here is the only fatal error class: once the daemon is
// running, device and broker loss are retried forever.
func configFromCLI(ctx *cli.Context, role string) (daemonConfig, error) {
	cfg := daemonConfig{
		role:       role,
		brokerHost: ctx.String(FlagMQTTBrokerHost.Name),
		brokerPort: ctx.Int(FlagMQTTBrokerPort.Name),
		username:   ctx.String(FlagMQTTUsername.Name),
		password:   ctx.String(FlagMQTTPassword.Name),
		clientID:   ctx.String("mqtt-client-id"),
		keepAlive:  ctx.Duration(FlagMQTTKeepAlive.Name),
		useTLS:     ctx.Bool(FlagMQTTUseTLS.Name),
		device:     ctx.String("serial-device"),
		baud:       ctx.Int("serial-baud"),
		mockSerial: ctx.Bool(FlagMockSerial.Name),
		queueSize:  ctx.Int(FlagQueueSize.Name),
		smokeTest:  ctx.Bool(FlagSmokeTest.Name),
	}

	switch role {
	case roleScale:
		cfg.dataTopic = ctx.String(FlagMQTTDataTopic.Name)
		cfg.commandTopic = ctx.String(FlagMQTTCommandTopic.Name)
	case rolePrinter:
		cfg.printTopic = ctx.String(FlagMQTTPrintTopic.Name)
	}

	qos := ctx.Int(FlagMQTTQoS.Name)
	if qos < 0 || qos > 2 {
		return daemonConfig{}, fmt.Errorf("invalid mqtt qos: %d", qos)
	}
	cfg.qos = byte(qos)

	if cfg.brokerHost == "" {
		return daemonConfig{}, fmt.Errorf("mqtt broker host is empty")
	}
	if cfg.brokerPort <= 0 || cfg.brokerPort > 65535 {
		return daemonConfig{}, fmt.Errorf("invalid mqtt broker port: %d", cfg.brokerPort)
	}
	if cfg.username == "" || cfg.password == "" {
		return daemonConfig{}, fmt.Errorf("mqtt credentials are empty")
	}
	if cfg.clientID == "" {
		return daemonConfig{}, fmt.Errorf("mqtt client id is empty")
	}
	if cfg.keepAlive <= 0 {
		return daemonConfig{}, fmt.Errorf("invalid mqtt keepalive: %s", cfg.keepAlive)
	}
	if cfg.device == "" {
		return daemonConfig{}, fmt.Errorf("serial device is empty")
	}
	if cfg.baud <= 0 {
		return daemonConfig{}, fmt.Errorf("invalid serial baud rate: %d", cfg.baud)
	}
	if cfg.queueSize <= 0 {
		return daemonConfig{}, fmt.Errorf("invalid queue size: %d", cfg.queueSize)
	}

	return cfg, nil
}

func (c daemonConfig) brokerURL() string {
	scheme := "tcp"
	if c.useTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.brokerHost, c.brokerPort)
}

func runDaemon(ctx *cli.Context, logger *zerolog.Logger, role string) error {
	logger.Info().Str("role", role).Msg("service starting...")

	cfg, err := configFromCLI(ctx, role)
	if err != nil {
		return err
	}

	appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	defer cancel()
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

		<-c

		logger.Warn().Msg("interrupt signal received")
		cancel()
	}()

	inbound := application.NewBridgeQueue(cfg.queueSize)

	var outbound *application.BridgeQueue
	if role == roleScale {
		outbound = application.NewBridgeQueue(cfg.queueSize)
	}

	var port application.SerialPort
	if cfg.mockSerial {
		logger.Info().Str("device", cfg.device).Msg("mock serial device selected")
		port = adapters.NewMockSerialPort(adapters.MockSerialPortParams{
			Log: logger.With().Str("module", "mock-serial-port").Logger(),
		})
	} else {
		port = adapters.NewSerialPort(adapters.SerialPortParams{
			Device:   cfg.device,
			BaudRate: cfg.baud,
			Log:      logger.With().Str("module", "serial-port").Logger(),
		})
	}

	serial, err := application.NewSerialTransport(application.SerialTransportParams{
		Port:             port,
		Inbound:          inbound,
		Outbound:         outbound,
		DataTopic:        cfg.dataTopic,
		QoS:              cfg.qos,
		AppendTerminator: role == rolePrinter,
		Log:              logger.With().Str("module", "serial-transport").Logger(),
	})
	if err != nil {
		return err
	}

	mqttClient := adapters.NewMQTTClient(adapters.MQTTClientParams{
		ClientID:  cfg.clientID,
		Username:  cfg.username,
		Password:  cfg.password,
		MQTTUrl:   cfg.brokerURL(),
		UseTLS:    cfg.useTLS,
		KeepAlive: cfg.keepAlive,
		Log:       logger.With().Str("module", "mqtt-client").Logger(),
	})
	logger.Info().Str("broker", cfg.brokerURL()).Bool("tls", cfg.useTLS).Msg("broker endpoint")

	subscribeTopic := cfg.commandTopic
	if role == rolePrinter {
		subscribeTopic = cfg.printTopic
	}

	broker, err := application.NewMessageTransport(application.MessageTransportParams{
		Client:             mqttClient,
		PublishTopic:       cfg.dataTopic,
		SubscribeTopic:     subscribeTopic,
		QoS:                cfg.qos,
		SingleByteCommands: role == roleScale,
		Inbound:            inbound,
		Outbound:           outbound,
		Log:                logger.With().Str("module", "message-transport").Logger(),
	})
	if err != nil {
		return err
	}

	service, err := application.NewBridgeService(application.BridgeServiceParams{
		Serial:   serial,
		Broker:   broker,
		Inbound:  inbound,
		Outbound: outbound,
		Log:      logger.With().Str("module", "bridge").Logger(),
	})
	if err != nil {
		return err
	}

	if cfg.smokeTest {
		return runSmokeTest(appCtx, cancel, service, broker, outbound, cfg, *logger)
	}

	logger.Info().Msg("service started")
	if err := service.Run(appCtx); err != nil {
		return err
	}

	logger.Info().Msg("service terminating...")
	return nil
}

// runSmokeTest starts the bridge, waits for broker connectivity, pushes one
// synthetic message through the outbound path, soaks briefly, and shuts
// down. Used by CI against a live broker.
func runSmokeTest(ctx context.Context, cancel context.CancelFunc, service *application.BridgeService,
	broker *application.MessageTransport, outbound *application.BridgeQueue,
	cfg daemonConfig, logger zerolog.Logger) error {

	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()

	logger.Info().Msg("smoke test: waiting for broker connection...")
	deadline := time.Now().Add(smokeConnectTimeout)
	for broker.State() != application.BrokerConnected {
		if time.Now().After(deadline) {
			cancel()
			<-done
			return fmt.Errorf("smoke test: broker connection timed out")
		}
		time.Sleep(200 * time.Millisecond)
	}
	logger.Info().Msg("smoke test: broker connected")

	if outbound != nil {
		payload := fmt.Sprintf(`{"type": "smoke_test", "value": "ping_from_%s_daemon"}`, cfg.role)
		outbound.Enqueue(application.Message{
			Topic:   cfg.dataTopic,
			Payload: []byte(payload),
			QoS:     cfg.qos,
		})
		logger.Info().Str("payload", payload).Msg("smoke test: synthetic message enqueued")
	}

	logger.Info().Dur("soak", smokeSoak).Msg("smoke test: soaking...")
	time.Sleep(smokeSoak)

	cancel()
	if err := <-done; err != nil {
		return err
	}

	logger.Info().Msg("smoke test: completed successfully")
	return nil
}
