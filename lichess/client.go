package lichess

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultBaseURL = "https://lichess.org/api"

// ErrRateLimited is returned when the server answers 429. The client blocks
// all further outbound calls for the cooldown window; callers must not retry
// on their own.
var ErrRateLimited = errors.New("lichess: rate limited")

// RequestError is any non-2xx response other than a rate limit.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("lichess: request failed with status %d: %s", e.StatusCode, e.Body)
}

// Client is the single choke-point for outbound lichess API calls. All calls
// carry the same bearer token, and a single 429 response pauses every caller
// until the cooldown has elapsed.
type Client struct {
	token  string
	unary  *http.Client // bounded per-call timeout
	stream *http.Client // no body deadline, streams stay open indefinitely
	logger zerolog.Logger

	baseURL      string
	cooldown     time.Duration
	pollInterval time.Duration

	mu           sync.Mutex
	blockedUntil time.Time
}

func NewClient(token string, cooldown time.Duration, logger zerolog.Logger) *Client {
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return &Client{
		token:        token,
		unary:        &http.Client{Timeout: 10 * time.Second},
		stream:       &http.Client{},
		logger:       logger,
		baseURL:      DefaultBaseURL,
		cooldown:     cooldown,
		pollInterval: time.Minute,
	}
}

// AcceptChallenge acts on an incoming challenge. The response body carries
// nothing we need.
func (c *Client) AcceptChallenge(ctx context.Context, challengeID string) error {
	res, err := c.do(ctx, http.MethodPost, "/challenge/"+challengeID+"/accept", nil, false)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// SendMove submits a coordinate-notation move for the given game.
func (c *Client) SendMove(ctx context.Context, gameID, move string) error {
	res, err := c.do(ctx, http.MethodPost, "/bot/game/"+gameID+"/move/"+move, nil, false)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// SendChat posts a chat line to the given room ("player" or "spectator").
// Best effort: callers treat failure as the line simply not being sent.
func (c *Client) SendChat(ctx context.Context, gameID, text, room string) error {
	form := url.Values{}
	form.Set("room", room)
	form.Set("text", text)
	res, err := c.do(ctx, http.MethodPost, "/bot/game/"+gameID+"/chat", form, false)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// Challenge issues a rated, random-color challenge with zero increment.
func (c *Client) Challenge(ctx context.Context, opponentID string, limitSeconds int) error {
	form := url.Values{}
	form.Set("clock.limit", fmt.Sprintf("%d", limitSeconds))
	form.Set("clock.increment", "0")
	form.Set("rated", "true")
	form.Set("color", "random")
	res, err := c.do(ctx, http.MethodPost, "/challenge/"+opponentID, form, false)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// do waits out any active rate-limit window, issues the request and
// normalizes error responses. Only this method mutates the rate-limit state.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, stream bool) (*http.Response, error) {
	if err := c.waitIfBlocked(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s %s", method, path)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/x-ndjson")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	httpClient := c.unary
	if stream {
		httpClient = c.stream
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}

	if res.StatusCode == http.StatusTooManyRequests {
		res.Body.Close()
		c.block()
		c.logger.Warn().Str("path", path).Dur("cooldown", c.cooldown).Msg("rate limited, pausing all outbound calls")
		return nil, ErrRateLimited
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		res.Body.Close()
		return nil, &RequestError{StatusCode: res.StatusCode, Body: string(b)}
	}
	return res, nil
}

func (c *Client) block() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockedUntil = time.Now().Add(c.cooldown)
}

func (c *Client) blockedFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Until(c.blockedUntil)
}

// waitIfBlocked polls until the rate-limit window has passed. The wait is
// deliberate, not a hang, so it is bounded only by ctx.
func (c *Client) waitIfBlocked(ctx context.Context) error {
	for {
		remaining := c.blockedFor()
		if remaining <= 0 {
			return nil
		}
		wait := c.pollInterval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
