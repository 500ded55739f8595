package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"reconagent/internal/logging"
)

// RodObserver renders pages in headless Chrome. The browser is launched on
// first use and reused; each observation gets its own incognito context.
type RodObserver struct {
	cfg Config

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRodObserver creates an observer. Chrome is not started until Observe.
func NewRodObserver(cfg Config) *RodObserver {
	return &RodObserver{cfg: cfg}
}

func (o *RodObserver) Name() string { return "rod" }

// start connects to Chrome, replacing a stale connection.
func (o *RodObserver) start(ctx context.Context) (*rod.Browser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.browser != nil {
		if _, err := o.browser.Version(); err == nil {
			return o.browser, nil
		}
		logging.BrowserWarn("stale browser connection detected, relaunching")
		o.closeLocked()
	}

	l := launcher.New().Headless(o.cfg.Headless).Set("disable-blink-features", "AutomationControlled")
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	o.browser = b
	o.launcher = l
	logging.Browser("chrome started (headless=%v)", o.cfg.Headless)
	return b, nil
}

// Observe navigates to url and captures HTML, title, the document response
// status and headers, and optionally a screenshot.
func (o *RodObserver) Observe(ctx context.Context, url string) (*Observation, error) {
	start := time.Now()
	b, err := o.start(ctx)
	if err != nil {
		return nil, err
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	defer func() { _ = incognito.Close() }()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             o.cfg.ViewportWidth,
		Height:            o.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		logging.BrowserDebug("failed to set viewport: %v", err)
	}
	if o.cfg.UserAgent != "" {
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: o.cfg.UserAgent})
	}

	navCtx, cancel := context.WithTimeout(ctx, o.cfg.GetNavigationTimeout())
	defer cancel()
	p := page.Context(navCtx)

	var (
		status  int
		headers = map[string]string{}
	)
	waitDoc := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		status = e.Response.Status
		for k, v := range e.Response.Headers {
			headers[strings.ToLower(k)] = v.Str()
		}
		return true
	})

	if err := p.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	waitDoc()
	if err := p.WaitLoad(); err != nil {
		logging.BrowserDebug("wait load %s: %v", url, err)
	}

	source, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}

	obs := &Observation{
		URL:     url,
		Status:  status,
		HTML:    source,
		Headers: headers,
		Source:  o.Name(),
	}
	if info, err := p.Info(); err == nil {
		obs.FinalURL = info.URL
		obs.Title = info.Title
	}
	if obs.Title == "" {
		obs.Title = ExtractTitle(source)
	}
	if obs.FinalURL == "" {
		obs.FinalURL = url
	}
	if o.cfg.Screenshot {
		if shot, err := p.Screenshot(false, nil); err == nil {
			obs.Screenshot = shot
		} else {
			logging.BrowserDebug("screenshot failed: %v", err)
		}
	}

	obs.Duration = time.Since(start)
	logging.Browser("rod observed %s: status=%d bytes=%d in %v", url, status, len(source), obs.Duration)
	return obs, nil
}

// Close shuts Chrome down.
func (o *RodObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeLocked()
}

func (o *RodObserver) closeLocked() error {
	var err error
	if o.browser != nil {
		err = o.browser.Close()
		o.browser = nil
	}
	if o.launcher != nil {
		o.launcher.Kill()
		o.launcher = nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
