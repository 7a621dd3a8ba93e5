// Package rodpage drives Chrome through go-rod with a stealth page.
package rodpage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/v0xg/slotbot/internal/config"
	"github.com/v0xg/slotbot/internal/page"
)

// Browser wraps the rod browser and its single page
type Browser struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// Launch starts Chrome with automation markers removed and opens a stealth
// page shaped by cfg.
func Launch(ctx context.Context, cfg config.BrowserConfig, log *zap.Logger) (*Browser, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("rod")

	bin := cfg.Bin
	if bin == "" {
		bin, _ = launcher.LookPath()
	}
	l := launcher.New().
		Context(ctx).
		Headless(cfg.Headless).
		Leakless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("exclude-switches", "enable-automation").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("lang", cfg.Locale).
		Set("window-size", strconv.Itoa(cfg.ViewportWidth)+","+strconv.Itoa(cfg.ViewportHeight))
	if bin != "" {
		l = l.Bin(bin)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := &Browser{launcher: l}
	b.browser = rod.New().ControlURL(u).Context(ctx)
	if err := b.browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	b.page, err = stealth.Page(b.browser)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("create stealth page: %w", err), b.Close())
	}
	if err := b.shape(cfg); err != nil {
		return nil, multierr.Append(err, b.Close())
	}

	log.Info("browser started",
		zap.Bool("headless", cfg.Headless),
		zap.String("locale", cfg.Locale),
		zap.Int("width", cfg.ViewportWidth),
		zap.Int("height", cfg.ViewportHeight))
	return b, nil
}

// shape applies viewport, user agent and locale overrides
func (b *Browser) shape(cfg config.BrowserConfig) error {
	err := b.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: cfg.DeviceScaleFactor,
	})
	if err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if cfg.UserAgent != "" {
		err = b.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.Locale,
		})
		if err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}
	if cfg.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: cfg.Locale}).Call(b.page); err != nil {
			return fmt.Errorf("set locale: %w", err)
		}
	}
	return nil
}

// Page returns the page adapter
func (b *Browser) Page() page.Page {
	return &Page{page: b.page}
}

// Close releases the page, the browser and the launcher's process
func (b *Browser) Close() error {
	var err error
	if b.page != nil {
		err = multierr.Append(err, b.page.Close())
	}
	if b.browser != nil {
		err = multierr.Append(err, b.browser.Close())
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	return err
}
