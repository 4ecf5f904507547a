// Package remote is a client for the collection server: REST for fetches and
// commands, one websocket per feed subscription.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/model"
)

// Error is the error class for the remote client.
var Error = errs.Class("remote")

const (
	defaultTimeout = 15 * time.Second
	// the server pings every 30s
	defaultFeedTimeout = 40 * time.Second
	writeWait          = 10 * time.Second
)

// Config points the client at a server.
type Config struct {
	URL     string
	AnonKey string
	Token   string
	// HTTPClient defaults to a client with a 15s timeout.
	HTTPClient *http.Client
	// FeedTimeout fails a subscription that hears nothing, not even a
	// ping, for this long. Defaults to 40s.
	FeedTimeout time.Duration
}

// Client implements backend.Service against a remote server.
type Client struct {
	log    *zap.Logger
	base   *url.URL
	cfg    Config
	http   *http.Client
	dialer *websocket.Dialer
}

// New validates cfg and creates a client. No connection is made.
func New(log *zap.Logger, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, Error.New("missing server url")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, Error.New("unsupported url scheme %q", base.Scheme)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.FeedTimeout <= 0 {
		cfg.FeedTimeout = defaultFeedTimeout
	}
	return &Client{
		log:    log,
		base:   base,
		cfg:    cfg,
		http:   hc,
		dialer: &websocket.Dialer{HandshakeTimeout: defaultTimeout, Proxy: http.ProxyFromEnvironment},
	}, nil
}

func (c *Client) FetchAll(ctx context.Context, collection string, order backend.OrderBy) ([]model.Item, error) {
	q := url.Values{"order": {order.String()}}
	var items []model.Item
	if err := c.do(ctx, http.MethodGet, itemsPath(collection)+"?"+q.Encode(), nil, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Item{}
	}
	return items, nil
}

func (c *Client) Insert(ctx context.Context, collection string, fields model.Patch) (model.Item, error) {
	var it model.Item
	err := c.do(ctx, http.MethodPost, itemsPath(collection), fields, &it)
	return it, err
}

func (c *Client) Update(ctx context.Context, collection string, id model.ID, patch model.Patch) (model.Item, error) {
	var it model.Item
	err := c.do(ctx, http.MethodPatch, itemPath(collection, id), patch, &it)
	return it, err
}

func (c *Client) Delete(ctx context.Context, collection string, id model.ID) error {
	return c.do(ctx, http.MethodDelete, itemPath(collection, id), nil, nil)
}

func itemsPath(collection string) string {
	return "/v1/collections/" + url.PathEscape(collection) + "/items"
}

func itemPath(collection string, id model.ID) string {
	return itemsPath(collection) + "/" + url.PathEscape(string(id))
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.cfg.AnonKey != "" {
		h.Set("apikey", c.cfg.AnonKey)
	}
	if c.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	return h
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return Error.Wrap(err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return Error.Wrap(err)
	}
	req.Header = c.header()
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Error.New("decode response: %v", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	if resp.StatusCode == http.StatusNotFound {
		return backend.ErrNotFound
	}
	return Error.New("%s: %s", resp.Status, body.Error)
}

// Subscribe opens a websocket to the collection's feed. Frames are delivered
// to onEvent in arrival order from the connection's read goroutine; a frame
// that is not a change is passed on with an empty kind so the consumer can
// account for it.
func (c *Client) Subscribe(ctx context.Context, collection string, onEvent func(backend.Change)) (backend.Subscription, error) {
	if err := backend.ValidateCollection(collection); err != nil {
		return nil, err
	}
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/collections/" + url.PathEscape(collection) + "/changes"

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), c.header())
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			return nil, statusError(resp)
		}
		return nil, Error.Wrap(err)
	}

	sub := &subscription{
		id:   fmt.Sprintf("%s@%s", collection, conn.LocalAddr()),
		conn: conn,
		done: make(chan struct{}),
	}
	go sub.read(c.log, c.cfg.FeedTimeout, onEvent)
	return sub, nil
}

func (c *Client) Unsubscribe(sub backend.Subscription) error {
	s, ok := sub.(*subscription)
	if !ok {
		return Error.New("foreign subscription %T", sub)
	}
	s.close()
	<-s.done
	return nil
}

type subscription struct {
	id   string
	conn *websocket.Conn
	done chan struct{}

	mu      sync.Mutex
	closing bool
	err     error
}

func (s *subscription) ID() string            { return s.id }
func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.mu.Unlock()

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = s.conn.Close()
}

func (s *subscription) read(log *zap.Logger, timeout time.Duration, onEvent func(backend.Change)) {
	defer close(s.done)
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	s.conn.SetPingHandler(func(data string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		kind, frame, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if !s.closing {
				s.err = Error.Wrap(err)
			}
			s.mu.Unlock()
			_ = s.conn.Close()
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
		if kind != websocket.TextMessage {
			continue
		}
		var change backend.Change
		if err := json.Unmarshal(frame, &change); err != nil {
			log.Debug("undecodable frame", zap.String("subscription", s.id), zap.Error(err))
			change = backend.Change{New: frame}
		}
		onEvent(change)
	}
}
