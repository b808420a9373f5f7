package mail

import (
	"context"

	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/config"
)

// defaultSenders is used when the account configures no sender allow-list.
var defaultSenders = []string{"alphasignal.ai", "superhuman.ai"}

// Result reports the outcome of one mailbox check. Per-message failures are
// counted, not fatal.
type Result struct {
	EmailsProcessed int
	Failures        int
}

// Handler ingests one parsed message. Errors are counted against the batch
// but never abort it.
type Handler func(ctx context.Context, msg *Message) error

// Poller connects to a mailbox account, fetches unseen newsletter messages,
// and drives them one at a time through the handler.
type Poller struct {
	cfg     *config.MailboxConfig
	connect ConnectFunc
	logger  *zap.Logger
}

// NewPoller creates a poller for an account. connect may be nil, in which
// case the IMAP implementation is used.
func NewPoller(cfg *config.MailboxConfig, connect ConnectFunc, logger *zap.Logger) *Poller {
	if connect == nil {
		connect = ConnectIMAP
	}
	return &Poller{cfg: cfg, connect: connect, logger: logger}
}

// CheckMailbox fetches every unseen message from the allow-listed senders
// and processes them sequentially. It returns after the last message has
// been handled or individually failed; the connection is closed exactly
// once. Connection or auth failure fails the whole check with
// ErrMailboxUnavailable and is not retried here.
func (p *Poller) CheckMailbox(ctx context.Context, handler Handler) (*Result, error) {
	senders := p.cfg.Sources
	if len(senders) == 0 {
		senders = defaultSenders
	}

	mailbox, err := p.connect(ctx, p.cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := mailbox.Close(); closeErr != nil {
			p.logger.Warn("Failed to close mailbox cleanly", zap.Error(closeErr))
		}
	}()

	raws, err := mailbox.UnseenFrom(ctx, senders)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Checking mailbox",
		zap.String("server", p.cfg.Server),
		zap.Int("unseen", len(raws)),
		zap.Strings("senders", senders))

	result := &Result{}
	for _, raw := range raws {
		if err := p.processOne(ctx, raw, handler); err != nil {
			result.Failures++
			p.logger.Warn("Failed to process message",
				zap.Uint32("uid", raw.UID),
				zap.Error(err))
			continue
		}
		result.EmailsProcessed++
	}

	p.logger.Info("Mailbox check complete",
		zap.Int("processed", result.EmailsProcessed),
		zap.Int("failures", result.Failures))

	return result, nil
}

func (p *Poller) processOne(ctx context.Context, raw RawMessage, handler Handler) error {
	msg, err := ParseMessage(raw.Raw)
	if err != nil {
		return err
	}
	return handler(ctx, msg)
}
