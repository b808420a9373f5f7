package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/waypost-ai/waypost-engine/pkg/apperrors"
	"github.com/waypost-ai/waypost-engine/pkg/config"
	"github.com/waypost-ai/waypost-engine/pkg/logging"
)

// connectTimeout bounds both the TCP/TLS dial and the login exchange.
const connectTimeout = 30 * time.Second

// RawMessage is one fetched message body.
type RawMessage struct {
	UID uint32
	Raw []byte
}

// Mailbox abstracts an open mailbox session.
type Mailbox interface {
	// UnseenFrom returns the raw bodies of unseen messages whose From header
	// matches any of the given senders.
	UnseenFrom(ctx context.Context, senders []string) ([]RawMessage, error)
	Close() error
}

// ConnectFunc opens a mailbox session for an account.
type ConnectFunc func(ctx context.Context, cfg *config.MailboxConfig) (Mailbox, error)

type imapMailbox struct {
	client *imapclient.Client
}

// ConnectIMAP dials the account's IMAP server and authenticates. Connection
// and auth failures surface as apperrors.ErrMailboxUnavailable: the check is
// abandoned and the next scheduled run retries.
func ConnectIMAP(ctx context.Context, cfg *config.MailboxConfig) (Mailbox, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)

	// Error text from the dial and login exchange can echo credentials
	// (proxied DSNs, server banners quoting the LOGIN command), so it is
	// sanitized before it ends up in a wrapped error that gets logged.
	dialer := &net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %s", apperrors.ErrMailboxUnavailable, addr, logging.SanitizeError(err))
	}

	if cfg.Secure {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: cfg.Server})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: TLS handshake with %s: %s", apperrors.ErrMailboxUnavailable, addr, logging.SanitizeError(err))
		}
		conn = tlsConn
	}

	// The deadline also bounds the login round trip.
	_ = conn.SetDeadline(time.Now().Add(connectTimeout))

	client := imapclient.New(conn, nil)
	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: login as %s: %s", apperrors.ErrMailboxUnavailable, cfg.Username, logging.SanitizeError(err))
	}

	_ = conn.SetDeadline(time.Time{})

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: select INBOX: %v", apperrors.ErrMailboxUnavailable, err)
	}

	return &imapMailbox{client: client}, nil
}

func (m *imapMailbox) UnseenFrom(ctx context.Context, senders []string) ([]RawMessage, error) {
	criteria := unseenFromCriteria(senders)

	searchData, err := m.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(uids...)

	fetchOptions := &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	messages, err := m.client.Fetch(uidSet, fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	raws := make([]RawMessage, 0, len(messages))
	for _, msg := range messages {
		body := msg.FindBodySection(&imap.FetchItemBodySection{})
		if body == nil {
			continue
		}
		raws = append(raws, RawMessage{UID: uint32(msg.UID), Raw: body})
	}

	return raws, nil
}

func (m *imapMailbox) Close() error {
	if err := m.client.Logout().Wait(); err != nil {
		m.client.Close()
		return err
	}
	return nil
}

// unseenFromCriteria builds UNSEEN AND (FROM s1 OR FROM s2 OR ...).
func unseenFromCriteria(senders []string) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	if len(senders) == 0 {
		return criteria
	}

	fromCriteria := func(sender string) imap.SearchCriteria {
		return imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: sender}},
		}
	}

	combined := fromCriteria(senders[0])
	for _, sender := range senders[1:] {
		combined = imap.SearchCriteria{
			Or: [][2]imap.SearchCriteria{{combined, fromCriteria(sender)}},
		}
	}

	criteria.And(&combined)
	return criteria
}
