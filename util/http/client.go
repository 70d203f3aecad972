package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 30 * time.Second

var ErrResponseTooLarge = errors.New("response body too large")

type HTTPClient struct {
	client *http.Client
}

func NewHTTPClient() IClient {
	return &HTTPClient{
		client: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *HTTPClient) DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error {
	if requestParam == nil {
		return errors.New("request param is nil")
	}

	if requestParam.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestParam.Timeout)
		defer cancel()
	}

	body, err := encodeBody(requestParam.Body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	reqURL := requestParam.RequestURI
	if len(requestParam.Query) > 0 {
		u, err := url.Parse(reqURL)
		if err != nil {
			return fmt.Errorf("parse request uri: %w", err)
		}
		q := u.Query()
		for k, v := range requestParam.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, requestParam.Method, reqURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range requestParam.Header {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var src io.Reader = resp.Body
	if limit := requestParam.MaxResponseSize; limit > 0 {
		src = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if limit := requestParam.MaxResponseSize; limit > 0 && int64(len(data)) > limit {
		return fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, limit)
	}

	slog.Debug("http request done",
		"method", requestParam.Method, "uri", reqURL,
		"status", resp.StatusCode, "bytes", len(data), "cost", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, string(data))
	}

	switch out := requestParam.Response.(type) {
	case nil:
		return nil
	case *[]byte:
		*out = data
		return nil
	default:
		if len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}
}

func encodeBody(body interface{}) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case io.Reader:
		return b, nil
	case []byte:
		return bytes.NewReader(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
}
