// Package bridge relays realtime events between gateway instances over NATS.
// A single instance serves its sessions from the in-process hub alone; the
// bridge makes presence, message, and receipt events reach users whose
// sessions live on a peer instance.
package bridge

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/pkg/logger"
)

// Subject carries every relayed frame. Filtering happens on the frame itself,
// not the subject, because the fleet is small and frames are ephemeral.
const subject = "chat.events"

// Config holds NATS connection configuration.
type Config struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
}

// Frame is one relayed event plus its routing hints. ConversationID targets a
// room, ReceiverID targets a user's sessions; with neither set the envelope is
// broadcast to every session.
type Frame struct {
	Origin         string         `json:"origin"`
	ConversationID string         `json:"conversationId,omitempty"`
	ReceiverID     string         `json:"receiverId,omitempty"`
	Envelope       model.Envelope `json:"envelope"`
}

// LocalDeliverer pushes a relayed frame into this instance's sessions. The hub
// implements it.
type LocalDeliverer interface {
	DeliverRemote(conversationID, receiverID string, env model.Envelope)
	BroadcastRemote(env model.Envelope)
}

// Bridge is a connected relay. Frames published here are ignored on the way
// back in: every bridge carries a unique origin id.
type Bridge struct {
	id   string
	conn *nats.Conn
	sub  *nats.Subscription
	log  *logger.Logger
}

// Connect establishes the NATS connection.
func Connect(cfg Config, log *logger.Logger) (*Bridge, error) {
	if log == nil {
		log = logger.Global()
	}
	log = log.WithComponent("bridge")

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("nats error", zap.Error(err))
		}),
	}

	if cfg.CAFile != "" && cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsConfig, err := createTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Bridge{
		id:   uuid.New().String(),
		conn: nc,
		log:  log,
	}, nil
}

// Start subscribes to the relay subject and feeds foreign frames to the local
// deliverer. Frames this bridge published are dropped.
func (b *Bridge) Start(local LocalDeliverer) error {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var frame Frame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			b.log.Warn("dropping malformed frame", zap.Error(err))
			return
		}
		if frame.Origin == b.id {
			return
		}

		if frame.ConversationID == "" && frame.ReceiverID == "" {
			local.BroadcastRemote(frame.Envelope)
			return
		}
		local.DeliverRemote(frame.ConversationID, frame.ReceiverID, frame.Envelope)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	b.sub = sub
	return nil
}

// Publish relays a targeted event to peer instances. Delivery is best effort;
// a publish failure is logged, never surfaced to the sending session.
func (b *Bridge) Publish(conversationID, receiverID string, env model.Envelope) {
	b.publish(Frame{
		Origin:         b.id,
		ConversationID: conversationID,
		ReceiverID:     receiverID,
		Envelope:       env,
	})
}

// PublishGlobal relays an event meant for every session, such as presence.
func (b *Bridge) PublishGlobal(env model.Envelope) {
	b.publish(Frame{Origin: b.id, Envelope: env})
}

func (b *Bridge) publish(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		b.log.Error("failed to marshal frame", zap.Error(err))
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.log.Warn("failed to publish frame", zap.Error(err))
	}
}

// Close drains the subscription and closes the connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}

// IsConnected reports whether the NATS connection is up.
func (b *Bridge) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
