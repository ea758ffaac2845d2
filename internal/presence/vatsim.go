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

// VatsimProvider reads the VATSIM v3 live data feed.
type VatsimProvider struct {
	dataURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewVatsimProvider creates a VATSIM roster provider.
func NewVatsimProvider(dataURL string, timeout time.Duration, log *logger.Logger) *VatsimProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &VatsimProvider{
		dataURL: dataURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log.Named("vatsim"),
	}
}

// Name implements Provider.
func (p *VatsimProvider) Name() string { return "VATSIM" }

// vatsimFeed is the subset of the data feed we read: the CID of every
// connected pilot.
type vatsimFeed struct {
	Pilots []struct {
		CID json.Number `json:"cid"`
	} `json:"pilots"`
}

// Present implements Provider.
func (p *VatsimProvider) Present(ctx context.Context, memberID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.dataURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to fetch VATSIM data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("VATSIM data feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read VATSIM response: %w", err)
	}

	var feed vatsimFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return false, fmt.Errorf("failed to parse VATSIM data: %w", err)
	}

	for _, pilot := range feed.Pilots {
		if pilot.CID.String() == memberID {
			return true, nil
		}
	}

	p.logger.Debug("Member not found in VATSIM roster",
		logger.String("member_id", memberID),
		logger.Int("pilots_online", len(feed.Pilots)))
	return false, nil
}
