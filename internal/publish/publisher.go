// Package publish hands finalized records and review requests to downstream
// consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/resilience"
)

const (
	DefaultFinalizedSubject = "receipts.finalized"
	DefaultReviewSubject    = "receipts.review"
)

// Publisher delivers pipeline outcomes. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Finalized(ctx context.Context, rec entity.FinalRecord) error
	ReviewRequested(ctx context.Context, item entity.QueueItem) error
	Close()
}

// ReviewRequest is the message body announced for documents awaiting review.
type ReviewRequest struct {
	ItemID       string   `json:"item_id"`
	CallingAppID string   `json:"calling_app_id"`
	FilePath     string   `json:"file_path"`
	ReviewType   string   `json:"review_type"`
	Confidence   float64  `json:"confidence"`
	Tier         string   `json:"tier"`
	Flags        []string `json:"flags,omitempty"`
}

func NewReviewRequest(item entity.QueueItem) ReviewRequest {
	req := ReviewRequest{
		ItemID:       item.ID.String(),
		CallingAppID: item.CallingAppID,
		FilePath:     item.FilePath,
		ReviewType:   string(item.ReviewType),
		Flags:        item.Flags,
	}
	if item.Classification != nil {
		req.Confidence = item.Classification.Confidence.Score
		req.Tier = string(item.Classification.Confidence.Tier)
	}
	return req
}

type Options struct {
	FinalizedSubject string
	ReviewSubject    string
	ConnectTimeout   time.Duration
	ReconnectWait    time.Duration
	MaxReconnects    int
	Executor         *resilience.Executor
}

// NATSPublisher publishes JSON messages on core NATS subjects.
type NATSPublisher struct {
	conn      *nats.Conn
	finalized string
	review    string
	executor  *resilience.Executor
	log       *slog.Logger
}

func NewNATSPublisher(url string, opts Options, logger *slog.Logger) (*NATSPublisher, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}
	if opts.FinalizedSubject == "" {
		opts.FinalizedSubject = DefaultFinalizedSubject
	}
	if opts.ReviewSubject == "" {
		opts.ReviewSubject = DefaultReviewSubject
	}

	conn, err := nats.Connect(
		url,
		nats.Name("receipts-intake"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSPublisherFromConn(conn, opts, logger), nil
}

// NewNATSPublisherFromConn wraps an existing connection. The publisher takes
// ownership and closes it.
func NewNATSPublisherFromConn(conn *nats.Conn, opts Options, logger *slog.Logger) *NATSPublisher {
	if opts.FinalizedSubject == "" {
		opts.FinalizedSubject = DefaultFinalizedSubject
	}
	if opts.ReviewSubject == "" {
		opts.ReviewSubject = DefaultReviewSubject
	}
	return &NATSPublisher{
		conn:      conn,
		finalized: opts.FinalizedSubject,
		review:    opts.ReviewSubject,
		executor:  opts.Executor,
		log:       logger,
	}
}

func (p *NATSPublisher) Finalized(ctx context.Context, rec entity.FinalRecord) error {
	return p.publish(ctx, p.finalized, rec.ItemID.String(), rec)
}

func (p *NATSPublisher) ReviewRequested(ctx context.Context, item entity.QueueItem) error {
	return p.publish(ctx, p.review, item.ID.String(), NewReviewRequest(item))
}

func (p *NATSPublisher) publish(ctx context.Context, subject, itemID string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	// Consumers dedupe on this header.
	msg.Header.Set(nats.MsgIdHdr, itemID)

	call := func(context.Context) error {
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("%w: nats publish: %v", common.ErrServiceUnavailable, err)
		}
		return nil
	}
	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, nil)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return err
	}
	p.log.Debug("published", "subject", subject, "item_id", itemID)
	return nil
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}

// LogPublisher only logs outcomes. It is used when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Finalized(_ context.Context, rec entity.FinalRecord) error {
	p.log.Info("record finalized",
		"item_id", rec.ItemID,
		"document_type", rec.DocumentType,
		"tier", rec.Tier,
		"reviewed", rec.Reviewed,
	)
	return nil
}

func (p *LogPublisher) ReviewRequested(_ context.Context, item entity.QueueItem) error {
	p.log.Info("review requested", "item_id", item.ID, "review_type", item.ReviewType)
	return nil
}

func (p *LogPublisher) Close() {}
