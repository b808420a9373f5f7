package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/mail"
	"github.com/waypost-ai/waypost-engine/pkg/newsletter"
	"github.com/waypost-ai/waypost-engine/pkg/repositories"
)

// MailboxService ties the poller to newsletter extraction and discovery
// ingestion: each fetched message is decoded by its sender's format, and
// the resulting content is evaluated against every project.
type MailboxService struct {
	poller      *mail.Poller
	registry    *newsletter.Registry
	extractor   *DiscoveryExtractor
	projects    repositories.ProjectRepository
	discoveries repositories.DiscoveryRepository
	logger      *zap.Logger
}

// NewMailboxService creates a mailbox service.
func NewMailboxService(
	poller *mail.Poller,
	registry *newsletter.Registry,
	extractor *DiscoveryExtractor,
	projects repositories.ProjectRepository,
	discoveries repositories.DiscoveryRepository,
	logger *zap.Logger,
) *MailboxService {
	return &MailboxService{
		poller:      poller,
		registry:    registry,
		extractor:   extractor,
		projects:    projects,
		discoveries: discoveries,
		logger:      logger,
	}
}

// CheckMailbox processes every unseen newsletter message. Per-message
// failures are counted in the result, not raised.
func (s *MailboxService) CheckMailbox(ctx context.Context) (*mail.Result, error) {
	return s.poller.CheckMailbox(ctx, s.ingestMessage)
}

func (s *MailboxService) ingestMessage(ctx context.Context, msg *mail.Message) error {
	format := s.registry.Resolve(msg.From)
	extraction := format.Extract(msg.Body)

	content := renderExtraction(msg.Subject, extraction)
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message from %q produced no content", msg.From)
	}

	s.logger.Info("Ingesting newsletter message",
		zap.String("from", msg.From),
		zap.String("subject", msg.Subject),
		zap.String("format", format.Name()),
		zap.Int("items", len(extraction.Items)))

	projects, err := s.projects.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	for i := range projects {
		project := &projects[i]
		for _, d := range s.extractor.ExtractDiscoveries(ctx, content, project) {
			if _, err := s.discoveries.Upsert(ctx, &d); err != nil {
				s.logger.Warn("Failed to persist newsletter discovery",
					zap.String("project_id", project.ID.String()),
					zap.String("source", d.Source),
					zap.Error(err))
			}
		}
	}

	return nil
}

// renderExtraction flattens an extraction into the text block handed to the
// generative extractor: structured items first, then section prose in
// heading order so the same message always renders the same block.
func renderExtraction(subject string, extraction newsletter.Extraction) string {
	var b strings.Builder
	if subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n\n", subject)
	}

	if len(extraction.Items) > 0 {
		b.WriteString("Items:\n")
		for _, item := range extraction.Items {
			fmt.Fprintf(&b, "- %s", item.Title)
			if item.Category != "" {
				fmt.Fprintf(&b, " [%s]", item.Category)
			}
			if item.URL != "" {
				fmt.Fprintf(&b, " %s", item.URL)
			}
			if item.Popularity != "" {
				fmt.Fprintf(&b, " (%s)", item.Popularity)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	headings := make([]string, 0, len(extraction.Sections))
	for heading := range extraction.Sections {
		headings = append(headings, heading)
	}
	sort.Strings(headings)
	for _, heading := range headings {
		text := strings.TrimSpace(extraction.Sections[heading])
		if text == "" {
			continue
		}
		if heading != "" {
			fmt.Fprintf(&b, "%s:\n", heading)
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	return strings.TrimSpace(b.String())
}
