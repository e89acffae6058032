package ingest

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/timzifer/meteohub/config"
)

// MessageHandler consumes one raw transport message.
type MessageHandler func(topic string, payload []byte)

// Source subscribes to the telemetry topic on an MQTT broker and forwards
// every message to the handler. Reconnects resubscribe automatically.
type Source struct {
	client mqtt.Client
	topic  string
	logger zerolog.Logger
}

// NewSource connects to the broker and subscribes. The handler runs on the
// paho callback goroutine; it must not block for long.
func NewSource(cfg config.MQTTConfig, handler MessageHandler, logger zerolog.Logger) (*Source, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("mqtt: message handler is required")
	}

	src := &Source{topic: cfg.Topic, logger: logger}

	callback := func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
	onConnect := func(client mqtt.Client) {
		token := client.Subscribe(cfg.Topic, cfg.QoS, callback)
		if token.Wait() && token.Error() != nil {
			logger.Error().Err(token.Error()).Str("topic", cfg.Topic).Msg("mqtt: subscribe failed")
			return
		}
		logger.Info().Str("topic", cfg.Topic).Msg("mqtt: subscribed")
	}

	client, err := buildClient(cfg, logger, onConnect)
	if err != nil {
		return nil, err
	}
	src.client = client
	return src, nil
}

// Close unsubscribes and disconnects from the broker.
func (s *Source) Close() {
	if s == nil || s.client == nil {
		return
	}
	if s.client.IsConnected() {
		if token := s.client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
			s.logger.Warn().Err(token.Error()).Msg("mqtt: unsubscribe failed")
		}
		s.client.Disconnect(250)
	}
}

// buildClient constructs a configured MQTT client and establishes the initial
// connection.
func buildClient(cfg config.MQTTConfig, logger zerolog.Logger, onConnect mqtt.OnConnectHandler) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID(cfg.ClientID))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive.Duration > 0 {
		opts.SetKeepAlive(cfg.KeepAlive.Duration)
	}
	if cfg.ConnectTimeout.Duration > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout.Duration)
	}
	if cfg.AutoReconnect != nil {
		opts.AutoReconnect = *cfg.AutoReconnect
	}
	if cfg.MaxReconnectInterval.Duration > 0 {
		opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval.Duration)
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(*cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if onConnect != nil {
		opts.OnConnect = onConnect
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info().Msg("mqtt: reconnecting")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", err)
	}

	return client, nil
}

func clientID(configured string) string {
	if configured != "" {
		return configured
	}
	return fmt.Sprintf("meteohub-%08x", rand.Uint32())
}

func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsConfig.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		ca, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("mqtt: ca file %s contains no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
