package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mqtt-queue-bridge/adapters"
	"mqtt-queue-bridge/application"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagMode,
	FlagMQTTUrl,
	FlagMQTTClientID,
	FlagMQTTUsername,
	FlagMQTTPassword,
	FlagMQTTQoS,
	FlagSubTopic,
	FlagTopicsFile,
	FlagQueueSize,
	FlagMemoryLimit,
	FlagTickInterval,
	FlagPublisherReconnectInterval,
	FlagSubscriberReconnectInterval,
	FlagReportInterval,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "mqtt-queue-bridge",
		Usage:   "publish stdin lines (topic,payload) to MQTT and print subscribed messages to stdout",
		Version: "v0.0.1",
		Flags:   Flags,
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
				Str("service", "mqtt-queue-bridge").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)
			adapters.InstallMQTTLoggers(logger, level <= zerolog.DebugLevel)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

				<-c

				logger.Warn().Msg("interrupt signal received")
				cancel()
			}()

			var runPublisher, runSubscriber bool
			switch ctx.String(FlagMode.Name) {
			case "pub":
				runPublisher = true
			case "sub":
				runSubscriber = true
			case "both":
				runPublisher, runSubscriber = true, true
			default:
				return fmt.Errorf("invalid mode")
			}

			clientID := ctx.String(FlagMQTTClientID.Name)
			if clientID == "" {
				clientID = "bridge-" + uuid.NewString()[:8]
			}
			logger.Info().Str("client_id", clientID).Str("url", ctx.String(FlagMQTTUrl.Name)).Msg("mqtt endpoint")

			qos := ctx.Uint(FlagMQTTQoS.Name)
			if qos < 1 || qos > 2 {
				return fmt.Errorf("invalid mqtt qos: %d", qos)
			}

			budget := application.NewMemoryBudget(ctx.Int64(FlagMemoryLimit.Name))

			newMQTTClient := func(role application.BridgeRole, suffix string, reconnectInterval time.Duration) *adapters.MQTTClient {
				return adapters.NewMQTTClient(adapters.MQTTClientParams{
					ClientID:       clientID + suffix,
					Username:       ctx.String(FlagMQTTUsername.Name),
					Password:       ctx.String(FlagMQTTPassword.Name),
					MQTTUrl:        ctx.String(FlagMQTTUrl.Name),
					ConnectTimeout: adapters.ConnectTimeoutWithin(reconnectInterval),
					Log: logger.With().
						Str("module", "mqtt-client").
						Str("role", role.String()).
						Logger(),
				})
			}

			serviceParams := application.BridgeServiceParams{
				ReportInterval: ctx.Duration(FlagReportInterval.Name),
				Log:            logger.With().Str("module", "bridge-service").Logger(),
			}

			if runPublisher {
				bridgeLog := logger.With().Str("module", "bridge").Str("role", "publisher").Logger()
				publisher, err := application.NewBridge(application.BridgeParams{
					Role:              application.RolePublisher,
					Client:            newMQTTClient(application.RolePublisher, "-pub", ctx.Duration(FlagPublisherReconnectInterval.Name)),
					Outbound:          application.NewOutboundQueue(ctx.Int(FlagQueueSize.Name), budget, bridgeLog),
					QoS:               byte(qos),
					TickInterval:      ctx.Duration(FlagTickInterval.Name),
					ReconnectInterval: ctx.Duration(FlagPublisherReconnectInterval.Name),
					Log:               bridgeLog,
				})
				if err != nil {
					return err
				}
				serviceParams.Bridges = append(serviceParams.Bridges, publisher)
				serviceParams.Producer = os.Stdin
			}

			if runSubscriber {
				topics := ctx.StringSlice(FlagSubTopic.Name)
				if path := ctx.String(FlagTopicsFile.Name); path != "" {
					fileTopics, err := adapters.LoadTopicsFile(path)
					if err != nil {
						return err
					}
					topics = append(topics, fileTopics...)
				}

				bridgeLog := logger.With().Str("module", "bridge").Str("role", "subscriber").Logger()
				state := application.NewConnectionState(true)
				registry := application.NewTopicRegistry(state, bridgeLog)
				for _, topic := range topics {
					if err := registry.Register(topic); err != nil {
						return fmt.Errorf("register topic %q: %w", topic, err)
					}
				}

				subscriber, err := application.NewBridge(application.BridgeParams{
					Role:              application.RoleSubscriber,
					Client:            newMQTTClient(application.RoleSubscriber, "-sub", ctx.Duration(FlagSubscriberReconnectInterval.Name)),
					Inbound:           application.NewInboundQueue(ctx.Int(FlagQueueSize.Name), budget, bridgeLog),
					Registry:          registry,
					State:             state,
					QoS:               byte(qos),
					TickInterval:      ctx.Duration(FlagTickInterval.Name),
					ReconnectInterval: ctx.Duration(FlagSubscriberReconnectInterval.Name),
					Log:               bridgeLog,
				})
				if err != nil {
					return err
				}
				serviceParams.Bridges = append(serviceParams.Bridges, subscriber)
				serviceParams.Consumer = os.Stdout
			}

			bridgeService, err := application.NewBridgeService(serviceParams)
			if err != nil {
				return err
			}

			logger.Info().Msg("service started")
			err = bridgeService.Run(appCtx)
			if err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
		Authors: []*cli.Author{
			{
				Name:  "Marcin Gorzynski",
				Email: "marcin@gorzynski.me",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
	}
}
