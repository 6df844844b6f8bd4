package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"ticketwatch/internal/components/telemetry"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const pollInterval = 250 * time.Millisecond

type ChromeOptions struct {
	// ExecPath is the chrome binary, empty means the first one found on PATH.
	ExecPath string
	Headful  bool
	// ProfileDir is a persistent user data directory, empty means a
	// temporary profile.
	ProfileDir   string
	WindowWidth  int
	WindowHeight int
	UserAgent    string
}

func (o ChromeOptions) allocatorOptions() []chromedp.ExecAllocatorOption {
	width, height := o.WindowWidth, o.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !o.Headful),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("force-webrtc-ip-handling-policy", "disable_non_proxied_udp"),
		chromedp.Flag("enforce-webrtc-ip-permission-check", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(width, height),
	)
	if o.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(o.ProfileDir))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	return opts
}

// Chrome is a Browser backed by a local chrome process driven over CDP.
type Chrome struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	pages       *PageSet
	tel         telemetry.API
}

// ChromeLauncher returns a LaunchFunc that starts chrome with opts.
func ChromeLauncher(opts ChromeOptions, tel telemetry.API) LaunchFunc {
	return func(ctx context.Context) (Browser, error) {
		return LaunchChrome(ctx, opts, tel)
	}
}

// LaunchChrome starts a browser process. The process outlives ctx, which
// only bounds the launch itself.
func LaunchChrome(ctx context.Context, opts ChromeOptions, tel telemetry.API) (*Chrome, error) {
	tel = telemetry.NewScopedAPI("browser", tel)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts.allocatorOptions()...)
	browserCtx, cancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, v ...any) {
			tel.ReportDebug(fmt.Sprintf(format, v...))
		}),
		chromedp.WithErrorf(func(format string, v ...any) {
			tel.ReportWarning("chrome.cdp", fmt.Sprintf(format, v...))
		}),
	)

	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx)
	}()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			allocCancel()
			return nil, err
		}
	case <-ctx.Done():
		cancel()
		allocCancel()
		return nil, ctx.Err()
	}

	return &Chrome{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		pages:       NewPageSet(),
		tel:         tel,
	}, nil
}

func (c *Chrome) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(c.ctx)
	p := &chromePage{
		ctx:       tabCtx,
		cancel:    cancel,
		pages:     c.pages,
		tel:       c.tel,
		listeners: make(map[int]func(Response)),
		pending:   make(map[network.RequestID]Response),
	}

	// the first Run creates the tab, it must use the tab context itself
	created := make(chan error, 1)
	go func() {
		created <- chromedp.Run(tabCtx, network.Enable())
	}()
	select {
	case err := <-created:
		if err != nil {
			cancel()
			return nil, err
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	if t := chromedp.FromContext(tabCtx).Target; t != nil {
		p.id = string(t.TargetID)
		c.pages.Add(p.id)
	}

	chromedp.ListenTarget(tabCtx, p.dispatch)
	return p, nil
}

func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancel()
	c.allocCancel()
	return err
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	id     string
	pages  *PageSet
	tel    telemetry.API

	lock      sync.Mutex
	nextID    int
	listeners map[int]func(Response)
	pending   map[network.RequestID]Response
}

// run executes actions on the tab, bounded by ctx.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) dispatch(ev any) {
	switch ev := ev.(type) {
	case *network.EventResponseReceived:
		p.lock.Lock()
		defer p.lock.Unlock()
		if len(p.listeners) == 0 {
			return
		}
		p.pending[ev.RequestID] = Response{
			URL:          ev.Response.URL,
			ResourceType: string(ev.Type),
			MimeType:     ev.Response.MimeType,
			Status:       ev.Response.Status,
		}
	case *network.EventLoadingFinished:
		p.finish(ev.RequestID, true)
	case *network.EventLoadingFailed:
		p.finish(ev.RequestID, false)
	}
}

func (p *chromePage) finish(id network.RequestID, ok bool) {
	p.lock.Lock()
	res, found := p.pending[id]
	delete(p.pending, id)
	handlers := make([]func(Response), 0, len(p.listeners))
	for _, h := range p.listeners {
		handlers = append(handlers, h)
	}
	p.lock.Unlock()

	if !found || !ok {
		return
	}

	res.Body = func(ctx context.Context) ([]byte, error) {
		var body []byte
		err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		return body, err
	}
	for _, h := range handlers {
		go h(res)
	}
}

func (p *chromePage) OnResponse(handler func(Response)) func() {
	p.lock.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = handler
	p.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.lock.Lock()
			defer p.lock.Unlock()
			delete(p.listeners, id)
			if len(p.listeners) == 0 {
				clear(p.pending)
			}
		})
	}
}

// load starts a navigation with start and waits for DOMContentLoaded.
func (p *chromePage) load(ctx context.Context, start func(ctx context.Context) error) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		loaded := make(chan struct{}, 1)
		listenCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		chromedp.ListenTarget(listenCtx, func(ev any) {
			if _, ok := ev.(*page.EventDomContentEventFired); ok {
				select {
				case loaded <- struct{}{}:
				default:
				}
			}
		})

		err := start(ctx)
		if err != nil {
			return err
		}
		select {
		case <-loaded:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.load(ctx, func(ctx context.Context) error {
		var res page.NavigateReturns
		err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res)
		if err != nil {
			return err
		}
		if res.ErrorText != "" {
			return fmt.Errorf("navigate %s: %s", url, res.ErrorText)
		}
		return nil
	})
}

func (p *chromePage) Reload(ctx context.Context) error {
	return p.load(ctx, func(ctx context.Context) error {
		return page.Reload().Do(ctx)
	})
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (p *chromePage) Text(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	return text, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &html))
	return html, err
}

func (p *chromePage) count(ctx context.Context, selector string) (int, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return 0, err
	}
	var n int
	err = p.run(ctx, chromedp.Evaluate(fmt.Sprintf(`document.querySelectorAll(%s).length`, quoted), &n))
	return n, err
}

// poll evaluates cond every pollInterval until it holds or timeout passes.
// Evaluation errors (ex. the document being replaced mid-query) count as
// the condition not holding yet.
func (p *chromePage) poll(ctx context.Context, timeout time.Duration, cond func(n int) bool, selector string) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		n, err := p.count(ctx, selector)
		if err == nil && cond(n) {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (p *chromePage) Exists(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return p.poll(ctx, timeout, func(n int) bool { return n > 0 }, selector)
}

func (p *chromePage) WaitGone(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := p.poll(ctx, timeout, func(n int) bool { return n == 0 }, selector)
	return err
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

func (p *chromePage) CloseOthers(ctx context.Context) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		if c == nil || c.Target == nil || c.Browser == nil {
			return errors.New("page has no target")
		}
		self := c.Target.TargetID

		targets, err := chromedp.Targets(ctx)
		if err != nil {
			return err
		}
		var ids []string
		for _, t := range targets {
			if t.Type == "page" {
				ids = append(ids, string(t.TargetID))
			}
		}
		exec := cdp.WithExecutor(ctx, c.Browser)
		for _, id := range p.pages.Strays(ids, string(self)) {
			err := cdp.Execute(exec, target.CommandCloseTarget, target.CloseTarget(target.ID(id)), nil)
			if err != nil {
				p.tel.ReportWarning("page.close-others", err, id)
			}
		}
		return nil
	}))
}

func (p *chromePage) Release() {
	p.pages.Remove(p.id)
}

func (p *chromePage) Close() error {
	p.pages.Remove(p.id)
	p.cancel()
	return nil
}
