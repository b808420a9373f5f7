package newsletter

import (
	"strings"

	"go.uber.org/zap"
)

// Item is a single extracted newsletter entry.
type Item struct {
	Title      string
	URL        string
	Category   string
	Popularity string
}

// Extraction is the output of running a format over a decoded email body.
// Sections are free text keyed by heading; Items are the structured entries
// found inside them.
type Extraction struct {
	Items    []Item
	Sections map[string]string
}

// Format captures a sender-specific extraction strategy.
type Format interface {
	Name() string
	Match(sender string) bool
	Extract(body string) Extraction
}

// Registry resolves the format for a sender address, falling back to a
// pass-through format for senders no strategy claims.
type Registry struct {
	formats  []Format
	fallback Format
	logger   *zap.Logger
}

// NewRegistry builds a registry pre-loaded with the known digest formats.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		formats: []Format{
			NewAlphaSignalFormat(logger),
			NewSuperhumanFormat(logger),
		},
		fallback: passthroughFormat{},
		logger:   logger,
	}
}

// Register adds a format ahead of the fallback.
func (r *Registry) Register(f Format) {
	r.formats = append(r.formats, f)
}

// Resolve returns the first format claiming the sender, or the pass-through
// fallback.
func (r *Registry) Resolve(sender string) Format {
	sender = strings.ToLower(sender)
	for _, f := range r.formats {
		if f.Match(sender) {
			return f
		}
	}
	r.logger.Debug("No format matched sender, using pass-through",
		zap.String("sender", sender))
	return r.fallback
}

// passthroughFormat treats the whole body as one unlabeled section with no
// structured items. The generative extraction step downstream still gets the
// full text to work with.
type passthroughFormat struct{}

func (passthroughFormat) Name() string      { return "passthrough" }
func (passthroughFormat) Match(string) bool { return false }

func (passthroughFormat) Extract(body string) Extraction {
	return Extraction{
		Items:    nil,
		Sections: map[string]string{"": body},
	}
}
