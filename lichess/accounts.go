package lichess

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Perf is a single performance-category rating.
type Perf struct {
	Rating int  `json:"rating"`
	Games  int  `json:"games"`
	Prov   bool `json:"prov"`
}

// Account describes a lichess user. The same shape is used for the bot's own
// account and for entries of the online-bot roster.
type Account struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Title    string          `json:"title"`
	Perfs    map[string]Perf `json:"perfs"`
}

// Rating returns the rating for the given performance category, reporting
// whether the account has one at all.
func (a *Account) Rating(perf string) (int, bool) {
	p, ok := a.Perfs[perf]
	if !ok {
		return 0, false
	}
	return p.Rating, true
}

// Account fetches the identity and rating map of the token's account.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	res, err := c.do(ctx, "GET", "/account", nil, false)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var acct Account
	if err := json.NewDecoder(res.Body).Decode(&acct); err != nil {
		return nil, errors.Wrap(err, "decoding account")
	}
	return &acct, nil
}

// OnlineBots fetches up to max entries of the online-bot roster. The roster
// arrives as newline-delimited JSON; malformed lines are logged and skipped.
func (c *Client) OnlineBots(ctx context.Context, max int) ([]Account, error) {
	res, err := c.do(ctx, "GET", fmt.Sprintf("/bot/online?nb=%d", max), nil, true)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var bots []Account
	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var bot Account
		if err := json.Unmarshal(line, &bot); err != nil {
			c.logger.Warn().Err(err).Msg("skipping malformed roster line")
			continue
		}
		bots = append(bots, bot)
	}
	if err := scanner.Err(); err != nil {
		return bots, errors.Wrap(err, "reading online bots")
	}
	return bots, nil
}
