// Package client is the viewer side of the board: a typed HTTP client for
// the service and the refresh loop that keeps a local copy current.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tripboard/models"
)

// DefaultTimeout bounds every API call.
const DefaultTimeout = 8 * time.Second

var ErrServer = errors.New("server error")

// Result mirrors the change-detection answer of GET /data.
type Result struct {
	NoChanges bool
	Data      *models.TripData
}

type API struct {
	base    string
	http    *http.Client
	timeout time.Duration
	now     func() time.Time
}

// NewAPI talks to the service at baseURL (scheme and host, optional path
// prefix such as "/api"). A nil http.Client uses http.DefaultClient.
func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &API{
		base:    strings.TrimSuffix(baseURL, "/"),
		http:    hc,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
}

// WithTimeout returns a copy using d per request.
func (a *API) WithTimeout(d time.Duration) *API {
	cp := *a
	cp.timeout = d
	return &cp
}

// LiveURL is the websocket address of the change feed.
func (a *API) LiveURL() string {
	switch {
	case strings.HasPrefix(a.base, "https://"):
		return "wss://" + strings.TrimPrefix(a.base, "https://") + "/data/live"
	case strings.HasPrefix(a.base, "http://"):
		return "ws://" + strings.TrimPrefix(a.base, "http://") + "/data/live"
	default:
		return a.base + "/data/live"
	}
}

// CheckForUpdate asks for the document, sending known when non-empty.
func (a *API) CheckForUpdate(ctx context.Context, known string) (Result, error) {
	q := url.Values{}
	if known != "" {
		q.Set("lastUpdate", known)
	}
	// Defeats caches that ignore the no-store headers.
	q.Set("t", strconv.FormatInt(a.now().UnixMilli(), 10))

	raw, err := a.do(ctx, http.MethodGet, "/data?"+q.Encode(), nil)
	if err != nil {
		return Result{}, err
	}
	var marker struct {
		NoChanges bool `json:"noChanges"`
	}
	if err := json.Unmarshal(raw, &marker); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if marker.NoChanges {
		return Result{NoChanges: true}, nil
	}
	var doc models.TripData
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, fmt.Errorf("decode document: %w", err)
	}
	doc = doc.Normalize()
	return Result{Data: &doc}, nil
}

// Save replaces the whole document and returns what the server stored.
func (a *API) Save(ctx context.Context, doc models.TripData) (models.TripData, error) {
	var resp struct {
		Success bool            `json:"success"`
		Data    models.TripData `json:"data"`
	}
	if err := a.call(ctx, http.MethodPost, "/data", doc, &resp); err != nil {
		return models.TripData{}, err
	}
	return resp.Data, nil
}

func (a *API) AddQuestion(ctx context.Context, author, content string) (models.Message, error) {
	var resp struct {
		Data models.Message `json:"data"`
	}
	in := map[string]string{"author": author, "content": content}
	if err := a.call(ctx, http.MethodPost, "/data/questions", in, &resp); err != nil {
		return models.Message{}, err
	}
	return resp.Data, nil
}

func (a *API) AddReply(ctx context.Context, messageID int64, author, content string) (models.Reply, error) {
	var resp struct {
		Data models.Reply `json:"data"`
	}
	in := map[string]string{"author": author, "content": content}
	path := fmt.Sprintf("/data/questions/%d/replies", messageID)
	if err := a.call(ctx, http.MethodPost, path, in, &resp); err != nil {
		return models.Reply{}, err
	}
	return resp.Data, nil
}

// Authenticate reports whether password opens the admin view.
func (a *API) Authenticate(ctx context.Context, password string) (bool, error) {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := a.call(ctx, http.MethodPost, "/auth", map[string]string{"password": password}, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (a *API) Images(ctx context.Context) (models.TrainImageSet, error) {
	var set models.TrainImageSet
	if err := a.call(ctx, http.MethodGet, "/images", nil, &set); err != nil {
		return models.TrainImageSet{}, err
	}
	return set.Normalize(), nil
}

func (a *API) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	raw, err := a.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (a *API) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return nil, fmt.Errorf("%w: %s %s: %d %s", ErrServer, method, path, resp.StatusCode, e.Error)
	}
	return raw, nil
}
