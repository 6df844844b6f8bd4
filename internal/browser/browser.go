// Package browser owns the shared headless browser and the page abstraction
// every other stage of the fetch pipeline works against.
package browser

import (
	"context"
	"time"
)

// Response is a completed network exchange observed on a page.
type Response struct {
	URL          string
	ResourceType string
	MimeType     string
	Status       int64
	// Body loads the response body, it must not be called from inside the
	// event loop of the page that produced the response.
	Body func(ctx context.Context) ([]byte, error)
}

const (
	ResourceXHR   = "XHR"
	ResourceFetch = "Fetch"
)

// IsAsyncData reports whether the response came from a script initiated data
// request rather than a document, stylesheet or image load.
func (r Response) IsAsyncData() bool {
	return r.ResourceType == ResourceXHR || r.ResourceType == ResourceFetch
}

// Page is a single browser tab.
//
// note: fault injection point
type Page interface {
	// Navigate loads url and returns once the DOM content has loaded.
	Navigate(ctx context.Context, url string) error
	// Reload reloads the current document and returns once the DOM content has loaded.
	Reload(ctx context.Context) error
	Location(ctx context.Context) (string, error)
	// Text is the rendered text of the document body.
	Text(ctx context.Context) (string, error)
	// HTML is the serialized markup of the whole document.
	HTML(ctx context.Context) (string, error)
	// Exists waits up to timeout for an element matching selector to appear.
	// Not finding it is not an error.
	Exists(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	// WaitGone waits up to timeout for every element matching selector to
	// disappear. Reaching the timeout is not an error.
	WaitGone(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	// Screenshot returns a png of the full page.
	Screenshot(ctx context.Context) ([]byte, error)
	// OnResponse registers handler for every completed response. Handlers run
	// on their own goroutine. The returned function removes the handler and
	// may be called more than once.
	OnResponse(handler func(Response)) (detach func())
	// CloseOthers closes every other page of the same browser that is not
	// held open by another caller.
	CloseOthers(ctx context.Context) error
	// Release leaves the page open but lets CloseOthers of another page
	// close it.
	Release()
	Close() error
}

// Browser is a running browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}
