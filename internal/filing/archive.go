package filing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for archive client failures.
var (
	ErrArchiveUnreachable = errors.New("filing archive unreachable")
	ErrArchiveQuery       = errors.New("filing archive query error")
	ErrArchiveTimeout     = errors.New("filing archive timeout")
)

// ArchiveClient reads plain-text filings and transcripts from a document
// archive over HTTP:
//
//	GET {base}/filings/{TICKER}/{YEAR}/Q{N}      -> {"form","url","text"}
//	GET {base}/transcripts/{TICKER}/{YEAR}/Q{N}  -> {"date","text"}
//	GET {base}/ready
type ArchiveClient struct {
	baseURL   string
	token     string
	userAgent string
	client    *http.Client
}

// NewArchiveClient creates a new archive client. token may be empty.
func NewArchiveClient(baseURL, token, userAgent string, timeout time.Duration) *ArchiveClient {
	return &ArchiveClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

// Filings adapts the client to Source.
func (c *ArchiveClient) Filings() Source { return archiveFilings{c} }

// Transcripts adapts the client to TranscriptSource.
func (c *ArchiveClient) Transcripts() TranscriptSource { return archiveTranscripts{c} }

type archiveFilings struct{ c *ArchiveClient }

func (a archiveFilings) Fetch(ctx context.Context, ticker string, year, quarter int) (Filing, error) {
	return a.c.Filing(ctx, ticker, year, quarter)
}

type archiveTranscripts struct{ c *ArchiveClient }

func (a archiveTranscripts) Fetch(ctx context.Context, ticker string, year, quarter int) (Transcript, error) {
	return a.c.Transcript(ctx, ticker, year, quarter)
}

func (c *ArchiveClient) Filing(ctx context.Context, ticker string, year, quarter int) (Filing, error) {
	ticker = strings.ToUpper(ticker)
	u := fmt.Sprintf("%s/filings/%s/%d/Q%d", c.baseURL, ticker, year, quarter)

	var body archiveFiling
	found, err := c.getJSON(ctx, u, &body)
	if err != nil {
		return Filing{}, err
	}
	if !found {
		return Filing{}, fmt.Errorf("%w: %s %d Q%d", ErrNoFiling, ticker, year, quarter)
	}

	url := body.URL
	if url == "" {
		url = u
	}
	return Filing{
		Ticker:  ticker,
		Year:    year,
		Quarter: quarter,
		Form:    normalizeForm(body.Form),
		URL:     url,
		Text:    body.Text,
	}, nil
}

func (c *ArchiveClient) Transcript(ctx context.Context, ticker string, year, quarter int) (Transcript, error) {
	ticker = strings.ToUpper(ticker)
	u := fmt.Sprintf("%s/transcripts/%s/%d/Q%d", c.baseURL, ticker, year, quarter)

	var body archiveTranscript
	found, err := c.getJSON(ctx, u, &body)
	if err != nil {
		return Transcript{}, err
	}
	if !found || strings.TrimSpace(body.Text) == "" {
		return Transcript{}, fmt.Errorf("%w: %s %d Q%d", ErrNoTranscript, ticker, year, quarter)
	}
	return Transcript{Date: body.Date, Text: body.Text}, nil
}

// Ping reports whether the archive answers its readiness endpoint.
func (c *ArchiveClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: archive not ready (status %d)", ErrArchiveUnreachable, resp.StatusCode)
	}
	return nil
}

// getJSON decodes a 200 response into v. A 404 reports found == false.
func (c *ArchiveClient) getJSON(ctx context.Context, u string, v any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: status %d", ErrArchiveQuery, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decoding archive response: %w", err)
	}
	return true, nil
}

func (c *ArchiveClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrArchiveTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrArchiveTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrArchiveUnreachable, err)
}

type archiveFiling struct {
	Form string `json:"form"`
	URL  string `json:"url"`
	Text string `json:"text"`
}

type archiveTranscript struct {
	Date string `json:"date"`
	Text string `json:"text"`
}

var (
	_ Source           = archiveFilings{}
	_ TranscriptSource = archiveTranscripts{}
)
