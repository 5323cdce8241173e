package ingest

import (
	"context"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sewerwatch/internal/config"
	"sewerwatch/internal/model"
	"sewerwatch/internal/normalize"
)

// StartMQTT subscribes to the sensor data topic and feeds decoded messages
// into the pipeline. The connection retries forever on a fixed interval;
// connection loss is never terminal and a reconnect re-subscribes. A
// malformed payload is logged and discarded without affecting the
// subscription.
func StartMQTT(ctx context.Context, cfg *config.Manager, out chan<- model.InboundMessage, logger *slog.Logger) (mqtt.Client, error) {
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return nil, nil
	}

	handler := func(_ mqtt.Client, m mqtt.Message) {
		msg, err := normalize.DecodeMessage(m.Payload())
		if err != nil {
			if logger != nil {
				logger.Warn("malformed mqtt payload discarded", "topic", m.Topic(), "err", err)
			}
			return
		}
		msg.ReceivedVia = "mqtt"
		SendNonBlocking(ctx, out, msg, logger)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.Broker)
	opts.SetClientID(current.ClientID)
	opts.SetUsername(current.Username)
	opts.SetPassword(current.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(current.ReconnectInterval)
	opts.SetMaxReconnectInterval(current.ReconnectInterval)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		if logger != nil {
			logger.Info("mqtt connected", "broker", current.Broker)
		}
		// Re-subscribe on every (re)connect; the subscription does not
		// survive a clean-session reconnect.
		token := client.Subscribe(current.Topic, current.QoS, handler)
		go func() {
			token.Wait()
			if err := token.Error(); err != nil && logger != nil {
				logger.Error("mqtt subscribe failed", "topic", current.Topic, "err", err)
			} else if logger != nil {
				logger.Info("mqtt subscribed", "topic", current.Topic, "qos", current.QoS)
			}
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost, reconnecting", "err", err)
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		// With ConnectRetry set the token only fails on non-retryable
		// errors such as a bad broker URL.
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return client, nil
}
