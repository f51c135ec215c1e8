package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type HTTPStamper struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPStamper(endpoint, token string, timeout time.Duration) *HTTPStamper {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPStamper{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStamper) Stamp(ctx context.Context, snapshot Snapshot) (Stamp, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return Stamp{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Stamp{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", snapshot.SchoolID+":"+snapshot.InvoiceID)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Stamp{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Stamp{}, fmt.Errorf("fiscal stamp failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out Stamp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Stamp{}, fmt.Errorf("decode fiscal stamp response: %w", err)
	}
	if strings.TrimSpace(out.Reference) == "" {
		return Stamp{}, fmt.Errorf("fiscal stamp response missing reference")
	}
	if out.StampedAt.IsZero() {
		out.StampedAt = time.Now().UTC()
	}
	return out, nil
}
