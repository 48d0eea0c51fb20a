package txodds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

func fixtures(in []APIFixture) []domain.Fixture {
	out := make([]domain.Fixture, len(in))
	for i, f := range in {
		out[i] = f.ToDomain()
	}
	return out
}

func odds(in []APIOdds) []domain.Odds {
	out := make([]domain.Odds, len(in))
	for i, o := range in {
		out[i] = o.ToDomain()
	}
	return out
}

func scores(in []APIScoreUpdate) []domain.ScoreUpdate {
	out := make([]domain.ScoreUpdate, len(in))
	for i, u := range in {
		out[i] = u.ToDomain()
	}
	return out
}

func asOfQuery(asOf time.Time) url.Values {
	if asOf.IsZero() {
		return nil
	}
	return url.Values{"asOf": {strconv.FormatInt(asOf.UnixMilli(), 10)}}
}

// FixturesSnapshot lists fixtures of a competition starting on or after
// startEpochDay. A zero competitionID lists every competition.
func (c *Client) FixturesSnapshot(ctx context.Context, s domain.Session, competitionID int64, startEpochDay int64) ([]domain.Fixture, error) {
	q := url.Values{"startEpochDay": {strconv.FormatInt(startEpochDay, 10)}}
	if competitionID != 0 {
		q.Set("competitionId", strconv.FormatInt(competitionID, 10))
	}
	var resp []APIFixture
	if err := c.getJSON(ctx, s, "/api/fixtures/snapshot", q, &resp); err != nil {
		return nil, fmt.Errorf("txodds: fixtures snapshot: %w", err)
	}
	return fixtures(resp), nil
}

// FixtureUpdates lists the updates of one fixture on epochDay.
func (c *Client) FixtureUpdates(ctx context.Context, s domain.Session, epochDay int64, fixtureID uint64) ([]domain.Fixture, error) {
	var resp []APIFixture
	path := fmt.Sprintf("/api/fixtures/updates/%d/%d", epochDay, fixtureID)
	if err := c.getJSON(ctx, s, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("txodds: fixture updates: %w", err)
	}
	return fixtures(resp), nil
}

// OddsSnapshot returns the current odds of a fixture, or the odds as of a
// past instant when asOf is non-zero.
func (c *Client) OddsSnapshot(ctx context.Context, s domain.Session, fixtureID uint64, asOf time.Time) ([]domain.Odds, error) {
	var resp []APIOdds
	if err := c.getJSON(ctx, s, fmt.Sprintf("/api/odds/snapshot/%d", fixtureID), asOfQuery(asOf), &resp); err != nil {
		return nil, fmt.Errorf("txodds: odds snapshot: %w", err)
	}
	return odds(resp), nil
}

// OddsUpdates returns the live odds updates of a fixture.
func (c *Client) OddsUpdates(ctx context.Context, s domain.Session, fixtureID uint64) ([]domain.Odds, error) {
	var resp []APIOdds
	if err := c.getJSON(ctx, s, fmt.Sprintf("/api/odds/updates/%d", fixtureID), nil, &resp); err != nil {
		return nil, fmt.Errorf("txodds: odds updates: %w", err)
	}
	return odds(resp), nil
}

// OddsUpdatesInterval returns the odds updates committed in one intraday
// bucket.
func (c *Client) OddsUpdatesInterval(ctx context.Context, s domain.Session, epochDay, hour, interval int64) ([]domain.Odds, error) {
	var resp []APIOdds
	path := fmt.Sprintf("/api/odds/updates/%d/%d/%d", epochDay, hour, interval)
	if err := c.getJSON(ctx, s, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("txodds: odds updates: %w", err)
	}
	return odds(resp), nil
}

// ScoresSnapshot returns the score updates of a fixture, optionally as of a
// past instant.
func (c *Client) ScoresSnapshot(ctx context.Context, s domain.Session, fixtureID uint64, asOf time.Time) ([]domain.ScoreUpdate, error) {
	var resp []APIScoreUpdate
	if err := c.getJSON(ctx, s, fmt.Sprintf("/api/scores/snapshot/%d", fixtureID), asOfQuery(asOf), &resp); err != nil {
		return nil, fmt.Errorf("txodds: scores snapshot: %w", err)
	}
	return scores(resp), nil
}

// ScoresUpdates returns the live score updates of a fixture.
func (c *Client) ScoresUpdates(ctx context.Context, s domain.Session, fixtureID uint64) ([]domain.ScoreUpdate, error) {
	var resp []APIScoreUpdate
	if err := c.getJSON(ctx, s, fmt.Sprintf("/api/scores/updates/%d", fixtureID), nil, &resp); err != nil {
		return nil, fmt.Errorf("txodds: scores updates: %w", err)
	}
	return scores(resp), nil
}

// ScoresUpdatesInterval returns the score updates committed in one intraday
// bucket.
func (c *Client) ScoresUpdatesInterval(ctx context.Context, s domain.Session, epochDay, hour, interval int64) ([]domain.ScoreUpdate, error) {
	var resp []APIScoreUpdate
	path := fmt.Sprintf("/api/scores/updates/%d/%d/%d", epochDay, hour, interval)
	if err := c.getJSON(ctx, s, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("txodds: scores updates: %w", err)
	}
	return scores(resp), nil
}

// StatValidation fetches the proof bundle for statKey at score update seq.
// The body is checked against the bundle schema before decoding.
func (c *Client) StatValidation(ctx context.Context, s domain.Session, fixtureID, seq uint64, statKey uint16) (domain.StatValidation, error) {
	q := url.Values{
		"fixtureId": {strconv.FormatUint(fixtureID, 10)},
		"seq":       {strconv.FormatUint(seq, 10)},
		"statKey":   {strconv.FormatUint(uint64(statKey), 10)},
	}
	body, err := c.doRequest(ctx, s, http.MethodGet, "/api/scores/stat-validation", q, nil)
	if err != nil {
		return domain.StatValidation{}, fmt.Errorf("txodds: stat validation: %w", err)
	}
	var resp APIStatValidation
	if err := c.validator.decode(schemaStatValidation, body, &resp); err != nil {
		return domain.StatValidation{}, fmt.Errorf("txodds: stat validation: %w", err)
	}
	v, err := resp.ToDomain()
	if err != nil {
		return domain.StatValidation{}, fmt.Errorf("txodds: stat validation: %w", err)
	}
	if v.Stat.Stat.Key != statKey {
		return v, fmt.Errorf("txodds: stat validation: %w: asked for key %d, got %d",
			domain.ErrMalformedPayload, statKey, v.Stat.Stat.Key)
	}
	return v, nil
}

// FixtureValidation fetches the proof bundle for a fixture snapshot.
func (c *Client) FixtureValidation(ctx context.Context, s domain.Session, fixtureID uint64) (domain.FixtureValidation, error) {
	q := url.Values{"fixtureId": {strconv.FormatUint(fixtureID, 10)}}
	body, err := c.doRequest(ctx, s, http.MethodGet, "/api/fixtures/validation", q, nil)
	if err != nil {
		return domain.FixtureValidation{}, fmt.Errorf("txodds: fixture validation: %w", err)
	}
	var resp APIFixtureValidation
	if err := c.validator.decode(schemaFixtureValidation, body, &resp); err != nil {
		return domain.FixtureValidation{}, fmt.Errorf("txodds: fixture validation: %w", err)
	}
	v, err := resp.ToDomain()
	if err != nil {
		return v, fmt.Errorf("txodds: fixture validation: %w", err)
	}
	return v, nil
}

// OddsValidation fetches the proof bundle for one odds message.
func (c *Client) OddsValidation(ctx context.Context, s domain.Session, messageID string, ts int64) (domain.OddsValidation, error) {
	q := url.Values{
		"messageId": {messageID},
		"ts":        {strconv.FormatInt(ts, 10)},
	}
	body, err := c.doRequest(ctx, s, http.MethodGet, "/api/odds/validation", q, nil)
	if err != nil {
		return domain.OddsValidation{}, fmt.Errorf("txodds: odds validation: %w", err)
	}
	var resp APIOddsValidation
	if err := c.validator.decode(schemaOddsValidation, body, &resp); err != nil {
		return domain.OddsValidation{}, fmt.Errorf("txodds: odds validation: %w", err)
	}
	v, err := resp.ToDomain()
	if err != nil {
		return v, fmt.Errorf("txodds: odds validation: %w", err)
	}
	return v, nil
}
