// Package pds implements a client for the admin and sync XRPC endpoints of an
// AT Protocol Personal Data Server.
//
// Every exported call makes exactly one attempt bounded by the configured
// timeout and fails closed: transport errors, non-2xx responses and malformed
// bodies are logged and counted, then reported to the caller as false, an
// empty slice or nil. Nothing above this package ever sees a transport error.
package pds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/orion-pds/orion/internal/config"
	"github.com/orion-pds/orion/internal/telemetry"
)

const (
	healthPath              = "/xrpc/_health"
	listReposPath           = "/xrpc/com.atproto.sync.listRepos"
	getAccountInfosPath     = "/xrpc/com.atproto.admin.getAccountInfos"
	getAccountInfoPath      = "/xrpc/com.atproto.admin.getAccountInfo"
	deleteAccountPath       = "/xrpc/com.atproto.admin.deleteAccount"
	updateSubjectStatusPath = "/xrpc/com.atproto.admin.updateSubjectStatus"

	repoRefType = "com.atproto.admin.defs#repoRef"

	// maxErrorBody caps how much of a failed response body is kept for logging.
	maxErrorBody = 512
)

var (
	errUnexpectedStatus = errors.New("unexpected status")
	errMalformedBody    = errors.New("malformed response body")
)

// Client talks to a single PDS.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	now        func() time.Time

	lastRef atomic.Int64
}

// NewClient creates a client from cfg. The http.Client timeout is cfg.Timeout.
func NewClient(cfg config.PDSConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	username := cfg.AdminUsername
	if username == "" {
		username = "admin"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.Hostname, "/"),
		username:   username,
		password:   cfg.AdminPassword,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Repo is one entry of com.atproto.sync.listRepos. Fields holds every
// property of the entry as received, including did.
type Repo struct {
	DID    string
	Fields map[string]json.RawMessage
}

// UnmarshalJSON keeps every field of the entry.
func (r *Repo) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	r.Fields = fields
	r.DID = ""
	if raw, ok := fields["did"]; ok {
		if err := json.Unmarshal(raw, &r.DID); err != nil {
			return fmt.Errorf("repo did: %w", err)
		}
	}
	return nil
}

// MarshalJSON writes the entry back out with did guaranteed present.
func (r Repo) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	did, err := json.Marshal(r.DID)
	if err != nil {
		return nil, err
	}
	out["did"] = did
	return json.Marshal(out)
}

// AccountInfo mirrors com.atproto.admin.defs#accountView.
type AccountInfo struct {
	DID              string `json:"did"`
	Handle           string `json:"handle,omitempty"`
	Email            string `json:"email,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	IndexedAt        string `json:"indexedAt,omitempty"`
	EmailConfirmedAt string `json:"emailConfirmedAt,omitempty"`
	DeactivatedAt    string `json:"deactivatedAt,omitempty"`
	InvitedBy        any    `json:"invitedBy,omitempty"`
	InvitesDisabled  bool   `json:"invitesDisabled,omitempty"`
	InviteNote       string `json:"inviteNote,omitempty"`
}

type listReposResponse struct {
	Repos *[]Repo `json:"repos"`
}

type accountInfosResponse struct {
	Infos *[]AccountInfo `json:"infos"`
}

type repoRef struct {
	Type string `json:"$type"`
	DID  string `json:"did"`
}

type takedownStatus struct {
	Applied bool   `json:"applied"`
	Ref     string `json:"ref,omitempty"`
}

type updateSubjectStatusRequest struct {
	Subject  repoRef        `json:"subject"`
	Takedown takedownStatus `json:"takedown"`
}

type deleteAccountRequest struct {
	DID string `json:"did"`
}

// request describes one XRPC call.
type request struct {
	operation string
	method    string
	path      string
	query     url.Values
	body      any
	admin     bool
}

// do performs req and decodes a 2xx JSON body into out (when out is non-nil).
// Outcome and latency are recorded for every call.
func (c *Client) do(ctx context.Context, req request, out any) (err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		telemetry.PDSRequestDuration.WithLabelValues(req.operation).Observe(time.Since(start).Seconds())
		telemetry.PDSRequestsTotal.WithLabelValues(req.operation, outcome).Inc()
	}()

	endpoint := c.baseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			outcome = "encode"
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		outcome = "transport"
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.admin {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		outcome = "transport"
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = "status"
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w %d: %s", errUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		outcome = "decode"
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}

// HealthCheck reports whether GET /xrpc/_health answers with exactly 200.
func (c *Client) HealthCheck(ctx context.Context) bool {
	start := time.Now()
	outcome := "ok"
	defer func() {
		telemetry.PDSRequestDuration.WithLabelValues("health").Observe(time.Since(start).Seconds())
		telemetry.PDSRequestsTotal.WithLabelValues("health", outcome).Inc()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		outcome = "transport"
		slog.Error("pds health check: failed to create request", "error", err)
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "transport"
		slog.Warn("pds health check failed", "operation", "health", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		outcome = "status"
		slog.Warn("pds health check returned non-200", "operation", "health", "status", resp.StatusCode)
		return false
	}
	return true
}

// ListRepos returns every repo hosted on the PDS, or an empty slice on any failure.
func (c *Client) ListRepos(ctx context.Context) []Repo {
	var resp listReposResponse
	err := c.do(ctx, request{
		operation: "list_repos",
		method:    http.MethodGet,
		path:      listReposPath,
	}, &resp)
	if err == nil && resp.Repos == nil {
		err = fmt.Errorf("%w: missing repos array", errMalformedBody)
	}
	if err != nil {
		slog.Error("failed to retrieve pds accounts", "operation", "list_repos", "error", err)
		return []Repo{}
	}
	return *resp.Repos
}

// GetAccountInfos looks up a batch of accounts in one call. The result is
// keyed by DID; on failure it is nil.
func (c *Client) GetAccountInfos(ctx context.Context, dids []string) map[string]AccountInfo {
	query := url.Values{}
	for _, did := range dids {
		query.Add("dids", did)
	}

	var resp accountInfosResponse
	err := c.do(ctx, request{
		operation: "get_account_infos",
		method:    http.MethodGet,
		path:      getAccountInfosPath,
		query:     query,
		admin:     true,
	}, &resp)
	if err == nil && resp.Infos == nil {
		err = fmt.Errorf("%w: missing infos array", errMalformedBody)
	}
	if err != nil {
		slog.Error("failed to retrieve account infos from pds",
			"operation", "get_account_infos", "batch_size", len(dids), "error", err)
		return nil
	}

	infos := make(map[string]AccountInfo, len(*resp.Infos))
	for _, info := range *resp.Infos {
		infos[info.DID] = info
	}
	return infos
}

// GetAccountInfo fetches detail for one account, or nil on any failure.
func (c *Client) GetAccountInfo(ctx context.Context, did string) *AccountInfo {
	var info AccountInfo
	err := c.do(ctx, request{
		operation: "get_account_info",
		method:    http.MethodGet,
		path:      getAccountInfoPath,
		query:     url.Values{"did": {did}},
		admin:     true,
	}, &info)
	if err != nil {
		slog.Error("failed to retrieve account info", "operation", "get_account_info", "did", did, "error", err)
		return nil
	}
	return &info
}

// SetTakedownStatus applies or lifts a takedown on the repo of did. Applying
// sends a fresh, strictly increasing reference derived from the clock.
func (c *Client) SetTakedownStatus(ctx context.Context, did string, applied bool) bool {
	status := takedownStatus{Applied: applied}
	operation := "untakedown"
	if applied {
		status.Ref = c.nextTakedownRef()
		operation = "takedown"
	}

	err := c.do(ctx, request{
		operation: operation,
		method:    http.MethodPost,
		path:      updateSubjectStatusPath,
		body: updateSubjectStatusRequest{
			Subject:  repoRef{Type: repoRefType, DID: did},
			Takedown: status,
		},
		admin: true,
	}, nil)
	if err != nil {
		slog.Error("failed to update account takedown status", "operation", operation, "did", did, "error", err)
		return false
	}
	slog.Info("updated account takedown status", "operation", operation, "did", did, "ref", status.Ref)
	return true
}

// Takedown applies a takedown to did.
func (c *Client) Takedown(ctx context.Context, did string) bool {
	return c.SetTakedownStatus(ctx, did, true)
}

// Untakedown lifts a takedown from did.
func (c *Client) Untakedown(ctx context.Context, did string) bool {
	return c.SetTakedownStatus(ctx, did, false)
}

// DeleteAccount permanently deletes the account of did.
func (c *Client) DeleteAccount(ctx context.Context, did string) bool {
	err := c.do(ctx, request{
		operation: "delete_account",
		method:    http.MethodPost,
		path:      deleteAccountPath,
		body:      deleteAccountRequest{DID: did},
		admin:     true,
	}, nil)
	if err != nil {
		slog.Error("failed to delete account", "operation", "delete_account", "did", did, "error", err)
		return false
	}
	slog.Info("deleted account", "operation", "delete_account", "did", did)
	return true
}

// nextTakedownRef returns the current Unix time in nanoseconds, bumped past
// the previous value if the clock has not advanced.
func (c *Client) nextTakedownRef() string {
	for {
		last := c.lastRef.Load()
		next := c.now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if c.lastRef.CompareAndSwap(last, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}
