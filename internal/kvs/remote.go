package kvs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

const maxRemoteBody = 1 << 20 // 1MB

// RemoteStore is a Store backed by another process running the kvs HTTP API
// (see internal/api). Calls go through a circuit breaker and are retried with
// exponential backoff; client errors are never retried.
type RemoteStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	newBackOff func() backoff.BackOff
}

// RemoteOption customizes a RemoteStore.
type RemoteOption func(*RemoteStore)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *RemoteStore) { r.httpClient = c }
}

// WithBackOff sets the retry policy. f is called once per operation.
func WithBackOff(f func() backoff.BackOff) RemoteOption {
	return func(r *RemoteStore) { r.newBackOff = f }
}

// WithBreakerSettings replaces the default circuit breaker settings.
// IsSuccessful is filled in when left nil.
func WithBreakerSettings(st gobreaker.Settings) RemoteOption {
	return func(r *RemoteStore) {
		if st.IsSuccessful == nil {
			st.IsSuccessful = remoteSuccess
		}
		r.breaker = gobreaker.NewCircuitBreaker(st)
	}
}

// NewRemoteStore returns a client for the kvs HTTP API at baseURL. token is
// sent as a bearer token when non-empty.
func NewRemoteStore(baseURL, token string, opts ...RemoteOption) *RemoteStore {
	r := &RemoteStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		newBackOff: defaultRemoteBackOff,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "kvs-remote",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			IsSuccessful: remoteSuccess,
		}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func defaultRemoteBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// A missing key is an answer, not a failure of the remote.
func remoteSuccess(err error) bool {
	return err == nil || errors.Is(err, ErrNotFound)
}

// StatusError is a non-2xx response from the remote API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned %d", e.Code)
	}
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Message)
}

func (r *RemoteStore) Get(key string) (json.RawMessage, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	body, err := r.do(http.MethodGet, keyPath(key), nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (r *RemoteStore) Set(key string, value json.RawMessage) error {
	if err := checkWrite(key, value); err != nil {
		return err
	}
	_, err := r.do(http.MethodPut, keyPath(key), value)
	return err
}

func (r *RemoteStore) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := r.do(http.MethodDelete, keyPath(key), nil)
	return err
}

func (r *RemoteStore) Keys() ([]string, error) {
	body, err := r.do(http.MethodGet, "/kv", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding key list: %w", err)
	}
	if resp.Keys == nil {
		resp.Keys = []string{}
	}
	return resp.Keys, nil
}

func keyPath(key string) string {
	return "/kv/" + url.PathEscape(key)
}

func (r *RemoteStore) do(method, path string, body []byte) ([]byte, error) {
	var out []byte
	op := func() error {
		res, err := r.breaker.Execute(func() (any, error) {
			return r.roundTrip(method, path, body)
		})
		if err != nil {
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = res.([]byte)
		return nil
	}
	if err := backoff.Retry(op, r.newBackOff()); err != nil {
		return nil, err
	}
	return out, nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

func (r *RemoteStore) roundTrip(method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, r.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote store not reachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(data) > maxRemoteBody {
		return nil, backoff.Permanent(fmt.Errorf("remote response exceeds %d bytes", maxRemoteBody))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet && path != "/kv":
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

func errorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}
