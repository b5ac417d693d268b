package plugins

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bnema/gmail-fleet/internal/adapters/gmail"
	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	"go.uber.org/zap"
)

const (
	defaultLinksPerMessage = 3
	tabLoadTimeout         = 15 * time.Second
	tabLoadPoll            = 500 * time.Millisecond
	tabSettle              = 2 * time.Second
)

var linkPattern = regexp.MustCompile(`https?://[^\s"'<>()\[\]]+`)

// Extensions that point at media or assets, never at a landing page.
var skippedExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico",
	".css", ".js", ".woff", ".woff2", ".ttf",
	".mp3", ".mp4", ".avi", ".pdf", ".zip",
}

// ClickLinks opens the links found in unread matching messages inside the
// account's own browser, then marks those messages read. Engagement runs
// through the real profile so the provider sees ordinary user traffic.
type ClickLinks struct{}

var _ ports.Action = (*ClickLinks)(nil)

func (ClickLinks) ID() domain.ActionID   { return "click_links" }
func (ClickLinks) RequiresBrowser() bool { return true }

func (ClickLinks) Run(ctx context.Context, actx *ports.ActionContext) error {
	if actx.Session == nil {
		return fmt.Errorf("click_links needs a browser session")
	}
	opener, ok := actx.Session.(ports.TabOpener)
	if !ok {
		return fmt.Errorf("session cannot open tabs")
	}

	terms := actx.Task.SearchTerms()
	if len(terms) == 0 {
		actx.Log.Info("no search terms, no links to visit")
		return nil
	}

	maxLinks := defaultLinksPerMessage
	if n, ok := actx.Task.Shared[domain.SharedLinkCount].(int); ok && n > 0 {
		maxLinks = n
	}

	for _, term := range terms {
		query := gmail.BuildSearchQuery(term, "is:unread")
		refs, err := actx.Mailbox.SearchMessages(ctx, query, 0)
		if err != nil {
			return fmt.Errorf("search unread %q: %w", term, err)
		}

		for _, ref := range refs {
			body, err := actx.Mailbox.GetMessageBody(ctx, ref.ID)
			if err != nil {
				actx.Log.Warn("skipping unreadable message",
					zap.String("message", ref.ID), zap.Error(err))
				continue
			}

			links := ExtractLinks(body, maxLinks)
			for _, link := range links {
				if err := visitLink(ctx, actx, opener, link); err != nil {
					actx.Log.Warn("link visit failed",
						zap.String("url", link), zap.Error(err))
				}
			}

			if err := actx.Mailbox.ModifyLabels(ctx, ref.ID, nil, []string{"UNREAD"}); err != nil {
				return fmt.Errorf("mark %s read: %w", ref.ID, err)
			}

			actx.Log.Info("message engaged",
				zap.String("message", ref.ID), zap.Int("links", len(links)))
		}
	}

	return nil
}

func visitLink(ctx context.Context, actx *ports.ActionContext, opener ports.TabOpener, link string) error {
	wsURL, err := opener.OpenTab(ctx, link, tabLoadTimeout)
	if err != nil {
		return fmt.Errorf("open tab: %w", err)
	}

	deadline := time.Now().Add(tabLoadTimeout)
	for time.Now().Before(deadline) {
		state, err := opener.TabReadyState(ctx, wsURL, tabLoadTimeout)
		if err == nil && state == "complete" {
			break
		}
		select {
		case <-time.After(tabLoadPoll):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Dwell on the page like a reader would.
	select {
	case <-time.After(tabSettle):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// ExtractLinks pulls up to max http(s) URLs out of a message body, in
// order of appearance, skipping duplicates and asset URLs.
func ExtractLinks(body string, max int) []string {
	if max <= 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	for _, match := range linkPattern.FindAllString(body, -1) {
		link := strings.TrimRight(match, ".,;")
		if skippableLink(link) {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
		if len(links) == max {
			break
		}
	}
	return links
}

func skippableLink(link string) bool {
	lowered := strings.ToLower(link)
	if idx := strings.IndexAny(lowered, "?#"); idx >= 0 {
		lowered = lowered[:idx]
	}
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}
