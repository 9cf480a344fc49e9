package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-listen/internal/protocol"
)

// client talks to the loqa-listen HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string, timeout time.Duration) *client {
	return &client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *client) state(ctx context.Context) (protocol.StateSnapshot, error) {
	var snap protocol.StateSnapshot
	err := c.call(ctx, http.MethodGet, "/v1/state", nil, &snap)
	return snap, err
}

func (c *client) listen(ctx context.Context, action, language string) (protocol.StateSnapshot, error) {
	path := "/v1/listen/" + action
	if language != "" {
		path += "?language=" + url.QueryEscape(language)
	}
	var snap protocol.StateSnapshot
	err := c.call(ctx, http.MethodPost, path, nil, &snap)
	return snap, err
}

type draftText struct {
	Text string `json:"text"`
}

func (c *client) draft(ctx context.Context) (string, error) {
	var out draftText
	err := c.call(ctx, http.MethodGet, "/v1/draft", nil, &out)
	return out.Text, err
}

func (c *client) confirm(ctx context.Context, candidate string, index int) (string, error) {
	body := map[string]any{"candidate": candidate}
	if index >= 0 {
		body = map[string]any{"index": index}
	}
	var out draftText
	err := c.call(ctx, http.MethodPost, "/v1/draft/confirm", body, &out)
	return out.Text, err
}

func (c *client) share(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/v1/draft/share", nil, nil)
}

// watch streams state snapshots until ctx is done or the server closes the
// connection.
func (c *client) watch(ctx context.Context, fn func(protocol.StateSnapshot)) error {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/v1/state/stream"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var snap protocol.StateSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fn(snap)
	}
}

func (c *client) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(data))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
