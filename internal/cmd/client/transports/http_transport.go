package transports

import (
	"bufio"
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
)

// HTTPTransport implements StreamsTransport against the server's HTTP API.
type HTTPTransport struct {
	base   string
	client *http.Client
}

func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, q url.Values, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	u := t.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, e.Error)
	}
	return resp, nil
}

// ConsumerCommand asks the server to start, stop or reset a consumer. The
// server accepts the command before it runs.
func (t *HTTPTransport) ConsumerCommand(ctx context.Context, name, action string) error {
	resp, err := t.do(ctx, http.MethodPost, "/v1/consumers/"+url.PathEscape(name)+"/"+action, nil, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// ConsumerStatus returns the server's JSON view of one consumer.
func (t *HTTPTransport) ConsumerStatus(ctx context.Context, name string) (json.RawMessage, error) {
	resp, err := t.do(ctx, http.MethodGet, "/v1/consumers/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Publish posts to /v1/streams/publish.
func (t *HTTPTransport) Publish(ctx context.Context, req PublishRequest) ([]string, error) {
	resp, err := t.do(ctx, http.MethodPost, "/v1/streams/publish", nil, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Positions []string `json:"positions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// Read calls /v1/streams/messages.
func (t *HTTPTransport) Read(ctx context.Context, req ReadRequest) ([]Event, error) {
	q := url.Values{}
	if req.Stream != "" {
		q.Set("stream", req.Stream)
		q.Set("from", strconv.FormatUint(req.From, 10))
	} else if req.After != "" {
		q.Set("after", req.After)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	resp, err := t.do(ctx, http.MethodGet, "/v1/streams/messages", q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Events []Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Tail reads SSE frames from /v1/streams/tail.
func (t *HTTPTransport) Tail(ctx context.Context, req TailRequest, onEvent func(Event) error) error {
	q := url.Values{}
	for k, v := range map[string]string{"filter": req.Filter, "expr": req.Expr, "after": req.After} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	resp, err := t.do(ctx, http.MethodGet, "/v1/streams/tail", q, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return fmt.Errorf("tail: decode frame: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return err
	}
	return nil
}
