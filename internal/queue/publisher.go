package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishBuffer  = 256
	dialTimeout    = 5 * time.Second
	redialBackoff  = 10 * time.Second
	publishTimeout = 5 * time.Second
)

var (
	// ErrPublishQueueFull is returned when the broker cannot keep up and
	// the event was dropped.
	ErrPublishQueueFull = errors.New("publish queue full")
	ErrPublisherClosed  = errors.New("publisher closed")

	errRedialWait = errors.New("waiting to redial")
)

// Publisher sends domain events to RabbitMQ from a single worker over one
// long-lived connection that is re-dialled when the broker drops it.
// Callers only enqueue, so a slow or dead broker costs them nothing; when
// the buffer is full the event is dropped.  A nil *Publisher accepts and
// discards every event, which is how publishing is disabled.
type Publisher struct {
	url     string
	log     *zap.Logger
	dial    func(network, addr string) (net.Conn, error)
	backoff time.Duration

	events    chan DownloadRecordedEvent
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// owned by run
	conn     *amqp.Connection
	ch       *amqp.Channel
	nextDial time.Time
}

// NewPublisher returns nil when url is empty.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	if url == "" {
		return nil
	}
	return newPublisher(url, log, publishBuffer, dialTimeout, redialBackoff)
}

func newPublisher(url string, log *zap.Logger, buffer int, timeout, backoff time.Duration) *Publisher {
	p := &Publisher{
		url:     url,
		log:     log,
		dial:    amqp.DefaultDial(timeout),
		backoff: backoff,
		events:  make(chan DownloadRecordedEvent, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishDownloaded queues ev for the file.downloaded queue.  It never
// blocks; ctx is accepted for interface symmetry.
func (p *Publisher) PublishDownloaded(ctx context.Context, ev DownloadRecordedEvent) error {
	if p == nil {
		return nil
	}
	select {
	case <-p.stop:
		return ErrPublisherClosed
	default:
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrPublishQueueFull
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			p.drain()
			p.closeErr = p.reset()
			return
		case ev := <-p.events:
			p.send(ev)
		}
	}
}

// drain flushes what is already queued.  While the broker is down this
// costs at most one dial; the rest fail fast on the redial wait.
func (p *Publisher) drain() {
	for {
		select {
		case ev := <-p.events:
			p.send(ev)
		default:
			return
		}
	}
}

// send publishes ev as a persistent message on the default exchange.
func (p *Publisher) send(ev DownloadRecordedEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("marshal download event", zap.Uint64("file_id", ev.FileID), zap.Error(err))
		return
	}
	ch, err := p.channel()
	if err != nil {
		p.log.Warn("rabbitmq unavailable, event dropped", zap.Uint64("file_id", ev.FileID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx,
		"",            // default exchange
		DownloadQueue, // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		p.log.Warn("rabbitmq publish failed", zap.Uint64("file_id", ev.FileID), zap.Error(err))
		_ = p.reset()
	}
}

// channel returns an open channel, dialling if needed.  After a failed
// dial it refuses to try again until the backoff has passed.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	_ = p.reset()
	if time.Now().Before(p.nextDial) {
		return nil, errRedialWait
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      p.dial,
	})
	if err != nil {
		p.nextDial = time.Now().Add(p.backoff)
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		p.nextDial = time.Now().Add(p.backoff)
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(DownloadQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		p.nextDial = time.Now().Add(p.backoff)
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() error {
	var errs []error
	if p.ch != nil {
		if !p.ch.IsClosed() {
			errs = append(errs, p.ch.Close())
		}
		p.ch = nil
	}
	if p.conn != nil {
		if !p.conn.IsClosed() {
			errs = append(errs, p.conn.Close())
		}
		p.conn = nil
	}
	return errors.Join(errs...)
}

// Close stops accepting events, flushes the queue and releases the broker
// connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() { close(p.stop) })
	<-p.done
	return p.closeErr
}
