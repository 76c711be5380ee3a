package eventsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Soypete/clackbot/logging"
	"github.com/Soypete/clackbot/metrics"
	"github.com/gorilla/websocket"
)

const (
	// welcomeTimeout bounds the wait for the first frame of a session.
	welcomeTimeout = 30 * time.Second
	// keepaliveGrace is added to the advertised keepalive timeout.
	keepaliveGrace = 5 * time.Second
)

// Subscriber creates the subscriptions for a fresh websocket session.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) error
}

// Publisher hands notifications to their consumers.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Listener holds the EventSub websocket connection open.
type Listener struct {
	url        string
	dialer     *websocket.Dialer
	subscriber Subscriber
	publisher  Publisher
	logger     *logging.Logger
}

func NewListener(url string, subscriber Subscriber, publisher Publisher, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Default()
	}
	return &Listener{
		url:        url,
		dialer:     websocket.DefaultDialer,
		subscriber: subscriber,
		publisher:  publisher,
		logger:     logger.WithComponent("eventsub"),
	}
}

// Run connects and reads frames until ctx is cancelled or the connection
// fails. Subscriptions are created inline when the welcome frame arrives.
// Reconnect requests are followed without subscribing again, since Twitch
// carries subscriptions over to the new session.
func (l *Listener) Run(ctx context.Context) error {
	sock, err := l.dial(ctx, l.url)
	if err != nil {
		return err
	}

	readTimeout := welcomeTimeout
	subscribe := true
	for {
		next, err := l.serve(ctx, sock, readTimeout, subscribe)
		if err != nil || next == "" {
			sock.close()
			return err
		}

		metrics.EventSubReconnectCount.Add(1)
		l.logger.Info("following eventsub reconnect", "url", next)
		sock, readTimeout, err = l.handover(ctx, sock, next)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		subscribe = false
	}
}

// Supervise keeps Run going, waiting delay between failed attempts.
func (l *Listener) Supervise(ctx context.Context, delay time.Duration) {
	for {
		err := l.Run(ctx)
		if ctx.Err() != nil {
			l.logger.Info("eventsub listener stopped")
			return
		}
		if err != nil {
			l.logger.Error("eventsub listener failed, restarting", "error", err.Error(), "delay", delay.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// socket is a websocket connection that is closed when ctx ends.
type socket struct {
	conn *websocket.Conn
	stop chan struct{}
	once sync.Once
}

func (l *Listener) dial(ctx context.Context, url string) (*socket, error) {
	conn, _, err := l.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial eventsub: %w", err)
	}
	sock := &socket{conn: conn, stop: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-sock.stop:
		}
	}()
	return sock, nil
}

func (s *socket) close() {
	s.once.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
	})
}

// read returns the next decodable frame, skipping the ones it cannot decode.
func (l *Listener) read(sock *socket, timeout time.Duration) (Message, error) {
	for {
		if err := sock.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return Message{}, fmt.Errorf("failed to set read deadline: %w", err)
		}
		_, data, err := sock.conn.ReadMessage()
		if err != nil {
			return Message{}, fmt.Errorf("eventsub read failed: %w", err)
		}

		msg, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownMessageType) {
				l.logger.Warn("skipping eventsub frame", "error", err.Error())
			} else {
				l.logger.Error("failed to decode eventsub frame", "error", err.Error())
			}
			continue
		}
		metrics.EventSubFrames.WithLabelValues(string(msg.Metadata.MessageType)).Inc()
		return msg, nil
	}
}

// serve reads one connection. It returns the reconnect URL when Twitch asks
// to move, or "" when ctx is done. The socket stays open on reconnect.
func (l *Listener) serve(ctx context.Context, sock *socket, readTimeout time.Duration, subscribe bool) (string, error) {
	for {
		msg, err := l.read(sock, readTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return "", nil
			}
			return "", err
		}

		switch p := msg.Payload.(type) {
		case Welcome:
			readTimeout = keepaliveTimeout(p.Session)
			l.logger.Info("eventsub session established", "sessionID", p.Session.ID, "keepalive", readTimeout.String())
			if subscribe {
				if err := l.subscriber.Subscribe(ctx, p.Session.ID); err != nil {
					return "", fmt.Errorf("failed to subscribe session %s: %w", p.Session.ID, err)
				}
			}
		case Reconnect:
			return p.Session.ReconnectURL, nil
		default:
			if err := l.handle(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return "", nil
				}
				return "", err
			}
		}
	}
}

// handover dials the reconnect URL while the old connection keeps delivering
// notifications. The old connection is closed once the new session's welcome
// arrives.
func (l *Listener) handover(ctx context.Context, old *socket, url string) (*socket, time.Duration, error) {
	defer old.close()

	sock, err := l.dial(ctx, url)
	if err != nil {
		return nil, 0, err
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			msg, err := l.read(old, welcomeTimeout)
			if err != nil {
				return
			}
			if err := l.handle(ctx, msg); err != nil {
				return
			}
		}
	}()

	readTimeout, err := l.awaitWelcome(ctx, sock)
	old.close()
	<-drained
	if err != nil {
		sock.close()
		return nil, 0, err
	}
	return sock, readTimeout, nil
}

func (l *Listener) awaitWelcome(ctx context.Context, sock *socket) (time.Duration, error) {
	for {
		msg, err := l.read(sock, welcomeTimeout)
		if err != nil {
			return 0, err
		}
		if p, ok := msg.Payload.(Welcome); ok {
			timeout := keepaliveTimeout(p.Session)
			l.logger.Info("eventsub session moved", "sessionID", p.Session.ID, "keepalive", timeout.String())
			return timeout, nil
		}
		if err := l.handle(ctx, msg); err != nil {
			return 0, err
		}
	}
}

// handle deals with every frame other than welcome and reconnect.
func (l *Listener) handle(ctx context.Context, msg Message) error {
	switch p := msg.Payload.(type) {
	case Keepalive:
		l.logger.Debug("eventsub keepalive")
	case Notification:
		if err := l.publisher.Publish(ctx, p); err != nil {
			return fmt.Errorf("failed to publish notification: %w", err)
		}
	case Revocation:
		l.logger.Warn("eventsub subscription revoked", "type", p.Subscription.Type, "status", p.Subscription.Status)
	case Reconnect:
		l.logger.Warn("ignoring eventsub reconnect during handover", "url", p.Session.ReconnectURL)
	}
	return nil
}

func keepaliveTimeout(session Session) time.Duration {
	if session.KeepaliveTimeoutSeconds > 0 {
		return time.Duration(session.KeepaliveTimeoutSeconds)*time.Second + keepaliveGrace
	}
	return welcomeTimeout
}
