package plugins

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	"go.uber.org/zap"
)

const (
	defaultShortsCount  = 3
	shortsHomeURL       = "https://www.youtube.com"
	shortsHomeTimeout   = 15 * time.Second
	shortsNavTimeout    = 20 * time.Second
	shortsWatchTimeout  = 40 * time.Second
	shortsWatchPoll     = 2 * time.Second
	shortsSettle        = 2 * time.Second
	shortsResultsMaxLen = 2 << 20
)

var shortsPattern = regexp.MustCompile(`/shorts/([A-Za-z0-9_-]{8,})`)

var shortsQueries = []string{
	"shorts", "trending shorts", "viral shorts", "funny shorts", "music shorts",
	"gaming shorts", "tech shorts", "life hacks shorts", "satisfying shorts",
	"fails shorts", "football shorts", "basketball shorts", "soccer shorts",
}

// Short-playback page scripts. The state script reports whether the current
// video finished; the reset script tears the player down before the next
// navigation so stale audio never overlaps.
const (
	shortsStateJS = `(function(){var v=document.querySelector('video');if(!v)return "missing";if(v.ended||(v.duration>0&&v.currentTime>=v.duration-1))return "ended";return "playing";})()`
	shortsResetJS = `(function(){var v=document.querySelector('video');if(v){try{v.pause();v.remove();}catch(e){}}return "ok";})()`
)

// PlayShorts plays a handful of YouTube Shorts in the account's foreground
// browser window, watching each until it ends or the watch window elapses.
// Zero-value fields fall back to production defaults; tests override them.
type PlayShorts struct {
	client    *http.Client
	searchURL string
	homeURL   string

	watchTimeout time.Duration
	watchPoll    time.Duration
	settle       time.Duration
}

var _ ports.Action = (*PlayShorts)(nil)

func (*PlayShorts) ID() domain.ActionID   { return "play_shorts" }
func (*PlayShorts) RequiresBrowser() bool { return true }

func (p *PlayShorts) Run(ctx context.Context, actx *ports.ActionContext) error {
	if actx.Session == nil {
		return fmt.Errorf("play_shorts needs a browser session")
	}
	scripter, ok := actx.Session.(ports.PageScripter)
	if !ok {
		return fmt.Errorf("session cannot run page script")
	}

	count := defaultShortsCount
	if n, ok := actx.Task.Shared[domain.SharedShortsCount].(int); ok {
		count = n
	}
	if count <= 0 {
		actx.Log.Info("shorts count is zero, nothing to play")
		return nil
	}

	links, err := p.fetchShortLinks(ctx, count*6)
	if err != nil {
		return fmt.Errorf("fetch shorts: %w", err)
	}
	if len(links) == 0 {
		actx.Log.Info("no shorts found")
		return nil
	}

	rand.Shuffle(len(links), func(i, j int) { links[i], links[j] = links[j], links[i] })
	if len(links) > count {
		links = links[:count]
	}

	if err := actx.Session.Navigate(ctx, p.home(), true, shortsHomeTimeout); err != nil {
		return fmt.Errorf("open video site: %w", err)
	}
	if err := scripter.BringToFront(ctx, shortsHomeTimeout); err != nil {
		actx.Log.Warn("could not raise browser window", zap.Error(err))
	}
	if err := p.wait(ctx, p.settleFor()); err != nil {
		return err
	}

	for i, link := range links {
		if i > 0 {
			if _, err := scripter.EvaluateInPage(ctx, shortsResetJS, p.pollFor()); err != nil {
				actx.Log.Warn("player reset failed", zap.Error(err))
			}
		}

		actx.Log.Info("playing short",
			zap.String("url", link), zap.Int("n", i+1), zap.Int("of", len(links)))
		if err := actx.Session.Navigate(ctx, link, true, shortsNavTimeout); err != nil {
			actx.Log.Warn("short navigation failed", zap.String("url", link), zap.Error(err))
			continue
		}
		if err := p.wait(ctx, p.settleFor()); err != nil {
			return err
		}
		if err := p.watchUntilEnded(ctx, scripter, actx.Log); err != nil {
			return err
		}
	}

	return nil
}

// watchUntilEnded polls the player state until the video reports ended or
// the watch window elapses; a missing player only ends the wait early when
// it never appears at all.
func (p *PlayShorts) watchUntilEnded(ctx context.Context, scripter ports.PageScripter, log *zap.Logger) error {
	deadline := time.Now().Add(p.watchFor())
	sawVideo := false
	for time.Now().Before(deadline) {
		state, err := scripter.EvaluateInPage(ctx, shortsStateJS, p.pollFor())
		if err != nil {
			log.Warn("player state check failed", zap.Error(err))
		} else {
			switch state {
			case "ended":
				return nil
			case "playing":
				sawVideo = true
			case "missing":
				if sawVideo {
					return nil
				}
			}
		}

		if err := p.wait(ctx, p.pollFor()); err != nil {
			return err
		}
	}

	log.Info("watch window elapsed, moving on")
	return nil
}

// fetchShortLinks scrapes shorts ids out of search result pages, trying the
// queries in random order until enough distinct links are collected.
func (p *PlayShorts) fetchShortLinks(ctx context.Context, max int) ([]string, error) {
	queries := append([]string(nil), shortsQueries...)
	rand.Shuffle(len(queries), func(i, j int) { queries[i], queries[j] = queries[j], queries[i] })

	seen := make(map[string]struct{})
	var links []string
	for _, query := range queries {
		page, err := p.fetchResultsPage(ctx, query)
		if err != nil {
			continue
		}
		for _, match := range shortsPattern.FindAllStringSubmatch(page, -1) {
			id := match[1]
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			links = append(links, p.home()+"/shorts/"+id)
			if len(links) >= max {
				return links, nil
			}
		}
	}
	return links, nil
}

func (p *PlayShorts) fetchResultsPage(ctx context.Context, query string) (string, error) {
	target := p.search() + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("results page status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, shortsResultsMaxLen))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (p *PlayShorts) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PlayShorts) httpClient() *http.Client {
	if p.client != nil {
		return p.client
	}
	return http.DefaultClient
}

func (p *PlayShorts) home() string {
	if p.homeURL != "" {
		return p.homeURL
	}
	return shortsHomeURL
}

func (p *PlayShorts) search() string {
	if p.searchURL != "" {
		return p.searchURL
	}
	return shortsHomeURL + "/results?search_query="
}

func (p *PlayShorts) watchFor() time.Duration {
	if p.watchTimeout > 0 {
		return p.watchTimeout
	}
	return shortsWatchTimeout
}

func (p *PlayShorts) pollFor() time.Duration {
	if p.watchPoll > 0 {
		return p.watchPoll
	}
	return shortsWatchPoll
}

func (p *PlayShorts) settleFor() time.Duration {
	if p.settle > 0 {
		return p.settle
	}
	return shortsSettle
}
