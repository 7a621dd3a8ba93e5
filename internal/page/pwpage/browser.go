// Package pwpage drives Chromium through playwright-go.
package pwpage

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/v0xg/slotbot/internal/config"
	"github.com/v0xg/slotbot/internal/page"
)

const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Browser owns the playwright runtime, browser, context and page
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
}

// Launch starts Chromium and opens one page shaped by cfg
func Launch(ctx context.Context, cfg config.BrowserConfig, log *zap.Logger) (*Browser, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("playwright")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	b := &Browser{pw: pw}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--disable-infobars",
			"--no-first-run",
		},
	}
	if cfg.Bin != "" {
		launch.ExecutablePath = playwright.String(cfg.Bin)
	}
	if b.browser, err = pw.Chromium.Launch(launch); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to launch browser: %w", err), b.Close())
	}

	opts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		},
		JavaScriptEnabled: playwright.Bool(true),
	}
	if cfg.Locale != "" {
		opts.Locale = playwright.String(cfg.Locale)
	}
	if cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(cfg.UserAgent)
	}
	if cfg.DeviceScaleFactor > 0 {
		opts.DeviceScaleFactor = playwright.Float(cfg.DeviceScaleFactor)
	}
	if b.bctx, err = b.browser.NewContext(opts); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create context: %w", err), b.Close())
	}
	if err := b.bctx.AddInitScript(playwright.Script{Content: playwright.String(hideWebdriver)}); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to add init script: %w", err), b.Close())
	}
	if b.page, err = b.bctx.NewPage(); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create page: %w", err), b.Close())
	}

	log.Info("browser started",
		zap.Bool("headless", cfg.Headless),
		zap.String("locale", cfg.Locale),
		zap.Int("width", cfg.ViewportWidth),
		zap.Int("height", cfg.ViewportHeight))
	return b, nil
}

// Page returns the page adapter
func (b *Browser) Page() page.Page {
	return &Page{page: b.page}
}

// Close tears everything down in reverse order of creation
func (b *Browser) Close() error {
	var err error
	if b.page != nil {
		err = multierr.Append(err, b.page.Close())
	}
	if b.bctx != nil {
		err = multierr.Append(err, b.bctx.Close())
	}
	if b.browser != nil {
		err = multierr.Append(err, b.browser.Close())
	}
	if b.pw != nil {
		err = multierr.Append(err, b.pw.Stop())
	}
	return err
}
