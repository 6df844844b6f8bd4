// Package client talks to the ticketwatch http api.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"ticketwatch/internal/broadcast"
	"ticketwatch/internal/models"
	"ticketwatch/internal/monitor"
	"ticketwatch/lib/restyutil"
	"ticketwatch/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

type Client struct {
	baseUrl string
	http    *resty.Client
}

// NewClient creates a client for the service at baseUrl, every exchange is
// also written to dump when it is not nil.
func NewClient(baseUrl string, dump restyutil.Output) *Client {
	baseUrl = strings.TrimRight(baseUrl, "/")
	client := resty.New().
		SetBaseURL(baseUrl).
		SetHeader("Content-Type", "application/json")
	telemetry.InstrumentResty(client, "cmd/ticketwatch-cli/client")
	if dump != nil {
		restyutil.DumpExchanges(client, dump)
	}
	return &Client{baseUrl: baseUrl, http: client}
}

type apiError struct {
	Error string `json:"error"`
}

type urlRequest struct {
	URL string `json:"url"`
}

type AddResponse struct {
	Created  bool                     `json:"created"`
	Endpoint models.MonitoredEndpoint `json:"endpoint"`
}

func check(res *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !res.IsError() {
		return nil
	}
	body, ok := res.Error().(*apiError)
	if ok && body.Error != "" {
		return fmt.Errorf("%s: %s", res.Status(), body.Error)
	}
	return errors.New(res.Status())
}

func (c *Client) Add(ctx context.Context, url string) (AddResponse, error) {
	var out AddResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(urlRequest{URL: url}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/api/endpoints")
	return out, check(res, err)
}

func (c *Client) List(ctx context.Context) ([]models.MonitoredEndpoint, error) {
	var out []models.MonitoredEndpoint
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/api/endpoints")
	return out, check(res, err)
}

func (c *Client) Fetch(ctx context.Context, url string) (monitor.RefreshResult, error) {
	var out monitor.RefreshResult
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(urlRequest{URL: url}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/api/fetch")
	return out, check(res, err)
}

func (c *Client) Changes(ctx context.Context, eventID string) ([]models.ChangeEvent, error) {
	var out []models.ChangeEvent
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("eventId", eventID).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/api/endpoints/{eventId}/changes")
	return out, check(res, err)
}

// Watch streams the messages published for eventID to handler until ctx is
// done or the server hangs up.
func (c *Client) Watch(ctx context.Context, eventID string, changesOnly bool, handler func(broadcast.Message)) error {
	wsUrl := "ws" + strings.TrimPrefix(c.baseUrl, "http") + "/api/ws?eventId=" + eventID
	if changesOnly {
		wsUrl += "&stream=changes"
	}

	conn, res, err := websocket.DefaultDialer.DialContext(ctx, wsUrl, nil)
	if err != nil {
		if res != nil && res.StatusCode != http.StatusSwitchingProtocols {
			return fmt.Errorf("dial %s: %s", wsUrl, res.Status)
		}
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	for {
		var msg broadcast.Message
		err := conn.ReadJSON(&msg)
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		handler(msg)
	}
}
