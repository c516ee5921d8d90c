package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/stealth"
)

// Render opens a stealth page on pageURL and returns the rendered document
// as HTML. When waitAny is set, Render waits until one of the selectors
// matches and fails if none does before the navigation timeout. ctx bounds
// the whole call; cancelling it stops the page work.
func (m *Manager) Render(ctx context.Context, pageURL string, waitAny ...string) (string, error) {
	b, err := m.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer m.release()

	page, err := stealth.Page(b)
	if err != nil {
		return "", fmt.Errorf("browser: create page: %w", err)
	}
	defer page.Close()

	if len(m.cfg.ResourceBlocking) > 0 {
		router := applyResourceBlocking(page, m.cfg.ResourceBlocking)
		defer router.Stop()
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	if len(waitAny) > 0 {
		race := p.Race()
		for _, sel := range waitAny {
			race = race.Element(sel)
		}
		if _, err := race.Do(); err != nil {
			return "", fmt.Errorf("browser: wait for %v on %s: %w", waitAny, pageURL, err)
		}
	}

	// Lazy-loaded cards appear only after a scroll.
	if _, err := p.Eval(`() => window.scrollBy(0, 300)`); err != nil {
		m.cfg.Logger.Debug("browser: scroll", "url", pageURL, "error", err)
	}

	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	html := res.Value.Str()

	m.cfg.Logger.Debug("browser: rendered", "url", pageURL, "size", len(html))
	return html, nil
}
