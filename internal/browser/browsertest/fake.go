// Package browsertest provides a scripted in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"ticketwatch/internal/browser"
	"time"
)

// Page is a scripted browser.Page. Its state is plain data that hooks may
// change in response to clicks, reloads and navigations.
type Page struct {
	lock sync.Mutex

	url      string
	text     string
	html     string
	elements map[string]bool

	// NavigateErr is consulted on every Navigate with the 1-based attempt
	// number, a nil func or nil error means success.
	NavigateErr func(attempt int) error
	// OnNavigate runs after a successful Navigate.
	OnNavigate func(p *Page, url string)
	OnClick    func(p *Page, selector string)
	OnReload   func(p *Page)

	navigations  int
	reloads      int
	clicks       []string
	screenshots  int
	closed       bool
	othersClosed int

	nextID    int
	listeners map[int]func(browser.Response)
	detaches  int

	id    string
	owner *Browser
}

func NewPage() *Page {
	return &Page{
		elements:  make(map[string]bool),
		listeners: make(map[int]func(browser.Response)),
	}
}

func (p *Page) SetURL(url string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.url = url
}

func (p *Page) SetText(text string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.text = text
}

func (p *Page) SetHTML(html string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.html = html
}

// SetPresent marks a single selector as matching (or not matching) an element.
func (p *Page) SetPresent(selector string, present bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if present {
		p.elements[selector] = true
		return
	}
	delete(p.elements, selector)
}

// matches reports whether any part of a comma separated selector list is present.
func (p *Page) matches(selector string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.elements[selector] {
		return true
	}
	for _, part := range strings.Split(selector, ",") {
		if p.elements[strings.TrimSpace(part)] {
			return true
		}
	}
	return false
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.lock.Lock()
	p.navigations++
	attempt := p.navigations
	hook := p.NavigateErr
	p.lock.Unlock()

	if hook != nil {
		err := hook(attempt)
		if err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.SetURL(url)
	if p.OnNavigate != nil {
		p.OnNavigate(p, url)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	p.lock.Lock()
	p.reloads++
	p.lock.Unlock()

	if p.OnReload != nil {
		p.OnReload(p)
	}
	return nil
}

func (p *Page) Location(ctx context.Context) (string, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.url, nil
}

func (p *Page) Text(ctx context.Context) (string, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.text, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.html, nil
}

// Exists never waits, the page state only changes through hooks.
func (p *Page) Exists(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return p.matches(selector), nil
}

func (p *Page) WaitGone(ctx context.Context, selector string, timeout time.Duration) error {
	return ctx.Err()
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.lock.Lock()
	p.clicks = append(p.clicks, selector)
	p.lock.Unlock()

	if p.OnClick != nil {
		p.OnClick(p, selector)
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.screenshots++
	// png signature
	return []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, nil
}

func (p *Page) OnResponse(handler func(browser.Response)) func() {
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
			p.detaches++
		})
	}
}

// Emit delivers res to every registered handler, each on its own goroutine.
func (p *Page) Emit(res browser.Response) {
	p.lock.Lock()
	handlers := make([]func(browser.Response), 0, len(p.listeners))
	for _, h := range p.listeners {
		handlers = append(handlers, h)
	}
	p.lock.Unlock()

	for _, h := range handlers {
		go h(res)
	}
}

// CloseOthers closes the pages of the owning browser that are not live.
func (p *Page) CloseOthers(ctx context.Context) error {
	p.lock.Lock()
	p.othersClosed++
	owner, self := p.owner, p.id
	p.lock.Unlock()

	if owner == nil {
		return nil
	}
	for _, stray := range owner.strays(self) {
		stray.markClosed()
	}
	return nil
}

func (p *Page) Release() {
	p.lock.Lock()
	owner, id := p.owner, p.id
	p.lock.Unlock()
	if owner != nil {
		owner.live.Remove(id)
	}
}

func (p *Page) Close() error {
	p.Release()
	p.markClosed()
	return nil
}

func (p *Page) markClosed() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
}

type Stats struct {
	Navigations  int
	Reloads      int
	Clicks       []string
	Screenshots  int
	Closed       bool
	OthersClosed int
	Listeners    int
	Detaches     int
}

func (p *Page) Stats() Stats {
	p.lock.Lock()
	defer p.lock.Unlock()
	return Stats{
		Navigations:  p.navigations,
		Reloads:      p.reloads,
		Clicks:       append([]string(nil), p.clicks...),
		Screenshots:  p.screenshots,
		Closed:       p.closed,
		OthersClosed: p.othersClosed,
		Listeners:    len(p.listeners),
		Detaches:     p.detaches,
	}
}

// Browser is a browser.Browser that hands out pages from NewPageFn.
type Browser struct {
	NewPageFn func() *Page

	lock   sync.Mutex
	pages  []*Page
	live   *browser.PageSet
	closed bool
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	page := NewPage()
	if b.NewPageFn != nil {
		page = b.NewPageFn()
	}
	b.attach(page)
	b.live.Add(page.id)
	return page, nil
}

// OpenStray adds a page the browser opened by itself, like a popup.
func (b *Browser) OpenStray() *Page {
	page := NewPage()
	b.attach(page)
	return page
}

func (b *Browser) attach(page *Page) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.live == nil {
		b.live = browser.NewPageSet()
	}
	page.lock.Lock()
	page.id = fmt.Sprintf("page-%d", len(b.pages)+1)
	page.owner = b
	page.lock.Unlock()
	b.pages = append(b.pages, page)
}

func (b *Browser) strays(self string) []*Page {
	b.lock.Lock()
	pages := append([]*Page(nil), b.pages...)
	b.lock.Unlock()

	ids := make([]string, 0, len(pages))
	byID := make(map[string]*Page, len(pages))
	for _, page := range pages {
		page.lock.Lock()
		if !page.closed {
			ids = append(ids, page.id)
			byID[page.id] = page
		}
		page.lock.Unlock()
	}
	var out []*Page
	for _, id := range b.live.Strays(ids, self) {
		out = append(out, byID[id])
	}
	return out
}

func (b *Browser) Pages() []*Page {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]*Page(nil), b.pages...)
}

func (b *Browser) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.closed = true
	return nil
}

func (b *Browser) Closed() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.closed
}
