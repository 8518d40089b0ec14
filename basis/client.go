package basis

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// DefaultBaseURL is the production Basis cloud API.
const DefaultBaseURL = "https://api.wearebasis.io"

const defaultHTTPTimeout = 30 * time.Second

// TokenProvider supplies a valid bearer token immediately before each call;
// tokens may be short lived, so the client never caches them itself.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Client issues the four Basis GraphQL operations over an authenticated
// transport. It is stateless aside from holding the token provider: no
// retries, no pooling policy, transient failures propagate to the caller.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenProvider
	UserAgent  string

	log *log.Logger
}

// NewClient builds a client against the production API. Version ends up in
// the User-Agent header identifying this bridge to the remote side.
func NewClient(tokens TokenProvider, version string) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: defaultHTTPTimeout},
		Tokens:     tokens,
		UserAgent:  "panelkit/" + version,
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "basis: ",
			Level:  log.GetLevel(),
		}),
	}
}

type graphQLRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

func (c *Client) query(ctx context.Context, opName, document string, variables map[string]any, out any) error {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return &AuthError{Err: err}
	}

	body, err := json.Marshal(graphQLRequest{
		OperationName: opName,
		Query:         document,
		Variables:     variables,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode graphql request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransportError{Op: opName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: opName, StatusCode: resp.StatusCode}
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &ApiError{Op: opName, Message: "undecodable response body: " + err.Error()}
	}
	if len(envelope.Errors) > 0 {
		return &ApiError{Op: opName, Message: envelope.Errors[0].Message}
	}

	if out != nil {
		if len(envelope.Data) == 0 {
			return &ApiError{Op: opName, Message: "response carries no data"}
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &ApiError{Op: opName, Message: "unexpected data shape: " + err.Error()}
		}
	}

	return nil
}

// DiscoverSwitchboards lists every switchboard visible to the authenticated
// account, flattened across sites. Boards without connectivity data are
// reported as not connected.
func (c *Client) DiscoverSwitchboards(ctx context.Context) ([]DiscoveredBoard, error) {
	var result struct {
		Sites struct {
			Sites []struct {
				ID           string `json:"id"`
				Switchboards []struct {
					Serial       string        `json:"serial"`
					Connectivity *Connectivity `json:"connectivity"`
				} `json:"switchboards"`
			} `json:"sites"`
		} `json:"sites"`
	}

	err := c.query(ctx, "", discoverSwitchboardsQuery, nil, &result)
	if err != nil {
		return nil, err
	}

	boards := []DiscoveredBoard{}
	for _, site := range result.Sites.Sites {
		for _, board := range site.Switchboards {
			if board.Serial == "" {
				return nil, &ApiError{Op: "DiscoverSwitchboards", Message: "switchboard without serial"}
			}
			connected := false
			if board.Connectivity != nil {
				connected = board.Connectivity.Connected
			}
			boards = append(boards, DiscoveredBoard{
				Serial:    board.Serial,
				SiteID:    site.ID,
				Connected: connected,
			})
		}
	}

	c.log.Debug("discovered switchboards", "count", len(boards))
	return boards, nil
}

// GetSwitchboard fetches the full live snapshot of one board, subcircuits
// included. Optional fields default; a board or subcircuit without a serial
// is an ApiError.
func (c *Client) GetSwitchboard(ctx context.Context, serial string) (*Switchboard, error) {
	var result struct {
		Switchboard *Switchboard `json:"switchboard"`
	}

	err := c.query(ctx, "GetSwitchboardData", getSwitchboardDataQuery, map[string]any{"serial": serial}, &result)
	if err != nil {
		return nil, err
	}

	board := result.Switchboard
	if board == nil || board.Serial == "" {
		return nil, &ApiError{Op: "GetSwitchboardData", Message: "no switchboard in response for serial " + serial}
	}
	for _, sub := range board.Subcircuits {
		if sub.Serial == "" {
			return nil, &ApiError{Op: "GetSwitchboardData", Message: "subcircuit without serial on board " + board.Serial}
		}
	}

	return board, nil
}

// GetEnergyUsage returns cumulative import/export kWh for the window
// [startTime, now). Missing totals default to zero rather than failing.
func (c *Client) GetEnergyUsage(ctx context.Context, serial string, startTime time.Time) (EnergyUsage, error) {
	var result struct {
		Switchboard *struct {
			TotalSwitchboardEnergyUsage *EnergyUsage `json:"totalSwitchboardEnergyUsage"`
		} `json:"switchboard"`
	}

	variables := map[string]any{
		"serial":    serial,
		"startTime": startTime.Format(time.RFC3339),
	}
	err := c.query(ctx, "GetSwitchboardEnergyUsage", getEnergyUsageQuery, variables, &result)
	if err != nil {
		return EnergyUsage{}, err
	}

	if result.Switchboard == nil || result.Switchboard.TotalSwitchboardEnergyUsage == nil {
		return EnergyUsage{}, nil
	}
	return *result.Switchboard.TotalSwitchboardEnergyUsage, nil
}

// SetSubcircuitStandby activates or releases standby on one circuit. The
// remote side is idempotent, setting the current state again is a no-op.
func (c *Client) SetSubcircuitStandby(ctx context.Context, boardSerial, subcircuitSerial string, standby bool) (StandbyResult, error) {
	var result struct {
		UpdateSubcircuitStandbyState *struct {
			Serial    string `json:"serial"`
			LiveState *struct {
				State string `json:"state"`
			} `json:"liveState"`
		} `json:"updateSubcircuitStandbyState"`
	}

	variables := map[string]any{
		"input": map[string]any{
			"switchboardSerial": boardSerial,
			"subcircuitSerial":  subcircuitSerial,
			"activateStandby":   standby,
		},
	}
	err := c.query(ctx, "UpdateSubcircuitStandby", updateSubcircuitStandbyMutation, variables, &result)
	if err != nil {
		return StandbyResult{}, err
	}

	res := StandbyResult{}
	if result.UpdateSubcircuitStandbyState != nil {
		res.Serial = result.UpdateSubcircuitStandbyState.Serial
		if result.UpdateSubcircuitStandbyState.LiveState != nil {
			res.State = result.UpdateSubcircuitStandbyState.LiveState.State
		}
	}

	c.log.Debug("standby updated", "board", boardSerial, "subcircuit", subcircuitSerial, "standby", standby, "state", res.State)
	return res, nil
}
