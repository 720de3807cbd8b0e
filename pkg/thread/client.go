package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// DefaultPageSize is the history page size requested when the caller does not
// configure one. The server caps requests at its own limit.
const DefaultPageSize = 50

// HistoryClient fetches thread history pages over REST for one session.
type HistoryClient struct {
	httpClient *http.Client
	apiBase    string
	sessionID  string
	pageSize   int
}

// NewHistoryClient creates a history fetcher for the given session.
// apiBase is the server's HTTP base URL (no trailing slash required).
func NewHistoryClient(apiBase, sessionID string, pageSize int) *HistoryClient {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &HistoryClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    strings.TrimRight(apiBase, "/"),
		sessionID:  sessionID,
		pageSize:   pageSize,
	}
}

// OverrideHTTPClientForTest swaps the underlying HTTP client.
func (c *HistoryClient) OverrideHTTPClientForTest(httpClient *http.Client) {
	c.httpClient = httpClient
}

// FetchPage retrieves one history page. An empty afterCursor fetches the
// newest page; otherwise the page older than the cursor position.
func (c *HistoryClient) FetchPage(ctx context.Context, afterCursor string) (wire.HistoryResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	if afterCursor != "" {
		q.Set("after", afterCursor)
	}
	endpoint := fmt.Sprintf("%s/api/sessions/%s/thread?%s",
		c.apiBase, url.PathEscape(c.sessionID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return wire.HistoryResponse{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wire.HistoryResponse{}, fmt.Errorf("fetch thread history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return wire.HistoryResponse{}, fmt.Errorf("history endpoint returned HTTP %d", resp.StatusCode)
	}

	var page wire.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return wire.HistoryResponse{}, fmt.Errorf("decode history response: %w", err)
	}
	return page, nil
}
