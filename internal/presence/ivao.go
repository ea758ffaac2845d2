package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kafly/skymetrics/pkg/logger"
)

// IvaoProvider reads the IVAO whazzup feed.
type IvaoProvider struct {
	whazzupURL string
	client     *http.Client
	logger     *logger.Logger
}

// NewIvaoProvider creates an IVAO roster provider.
func NewIvaoProvider(whazzupURL string, timeout time.Duration, log *logger.Logger) *IvaoProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IvaoProvider{
		whazzupURL: whazzupURL,
		client:     &http.Client{Timeout: timeout},
		logger:     log.Named("ivao"),
	}
}

// Name implements Provider.
func (p *IvaoProvider) Name() string { return "IVAO" }

// ivaoFeed is the subset of the whazzup payload we read: the user ID of
// every connected pilot.
type ivaoFeed struct {
	Clients struct {
		Pilots []struct {
			UserID json.Number `json:"userId"`
		} `json:"pilots"`
	} `json:"clients"`
}

// Present implements Provider.
func (p *IvaoProvider) Present(ctx context.Context, memberID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.whazzupURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to fetch IVAO whazzup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("IVAO whazzup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read IVAO response: %w", err)
	}

	var feed ivaoFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return false, fmt.Errorf("failed to parse IVAO whazzup: %w", err)
	}

	for _, pilot := range feed.Clients.Pilots {
		if pilot.UserID.String() == memberID {
			return true, nil
		}
	}

	p.logger.Debug("Member not found in IVAO roster",
		logger.String("member_id", memberID),
		logger.Int("pilots_online", len(feed.Clients.Pilots)))
	return false, nil
}
