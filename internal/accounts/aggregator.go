package accounts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/orion-pds/orion/internal/pds"
)

const (
	// Unknown fills account fields the bulk lookup did not supply.
	Unknown = "unknown"

	// DefaultBatchSize is the number of DIDs per getAccountInfos call.
	DefaultBatchSize = 100
)

// Account is one row of the dashboard: a listed repo annotated with details.
type Account struct {
	DID       string
	Handle    string
	Email     string
	IndexedAt string
	// Extra carries every other field of the repo listing unchanged.
	Extra map[string]json.RawMessage
}

// MarshalJSON flattens Extra alongside the annotated fields. Annotations win
// over listing fields of the same name.
func (a Account) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Extra)+4)
	for k, v := range a.Extra {
		out[k] = v
	}
	out["did"] = a.DID
	out["handle"] = a.Handle
	out["email"] = a.Email
	out["indexedAt"] = a.IndexedAt
	return json.Marshal(out)
}

// AccountSource is the slice of the PDS client the aggregator needs.
type AccountSource interface {
	ListRepos(ctx context.Context) []pds.Repo
	GetAccountInfos(ctx context.Context, dids []string) map[string]pds.AccountInfo
}

// Aggregator joins the repo listing with batched account info lookups.
type Aggregator struct {
	source               AccountSource
	batchSize            int
	maxConcurrentBatches int
}

// NewAggregator creates an Aggregator. Non-positive batchSize falls back to
// DefaultBatchSize; non-positive maxConcurrentBatches means sequential.
func NewAggregator(source AccountSource, batchSize, maxConcurrentBatches int) *Aggregator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxConcurrentBatches <= 0 {
		maxConcurrentBatches = 1
	}
	return &Aggregator{
		source:               source,
		batchSize:            batchSize,
		maxConcurrentBatches: maxConcurrentBatches,
	}
}

// ListAccounts lists every repo on the PDS and enriches it.
func (a *Aggregator) ListAccounts(ctx context.Context) []Account {
	return a.Enrich(ctx, a.source.ListRepos(ctx))
}

// Enrich returns exactly one Account per repo, in the order given. Accounts
// whose batch failed or that the lookup omitted carry the Unknown sentinel.
func (a *Aggregator) Enrich(ctx context.Context, repos []pds.Repo) []Account {
	accounts := make([]Account, 0, len(repos))
	if len(repos) == 0 {
		return accounts
	}

	dids := make([]string, len(repos))
	for i, r := range repos {
		dids[i] = r.DID
	}
	infos := a.lookup(ctx, dids)

	for _, r := range repos {
		acct := Account{
			DID:       r.DID,
			Handle:    Unknown,
			Email:     Unknown,
			IndexedAt: Unknown,
			Extra:     extraFields(r.Fields),
		}
		if info, ok := infos[r.DID]; ok {
			acct.Handle = orUnknown(info.Handle)
			acct.Email = orUnknown(info.Email)
			acct.IndexedAt = orUnknown(info.CreatedAt)
		}
		accounts = append(accounts, acct)
	}
	return accounts
}

// lookup fetches info for dids in batches and merges the results. A failed
// batch contributes nothing; the others are unaffected.
func (a *Aggregator) lookup(ctx context.Context, dids []string) map[string]pds.AccountInfo {
	var (
		mu     sync.Mutex
		merged = make(map[string]pds.AccountInfo, len(dids))
	)

	// Batch calls never return errors, so the group is used only for its
	// concurrency limit and Wait.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrentBatches)

	for start := 0; start < len(dids); start += a.batchSize {
		end := min(start+a.batchSize, len(dids))
		batch := dids[start:end]
		start := start
		g.Go(func() error {
			infos := a.source.GetAccountInfos(gctx, batch)
			if infos == nil {
				slog.Warn("account info batch failed, filling with sentinels", "batch_start", start, "batch_size", len(batch))
				return nil
			}
			mu.Lock()
			for did, info := range infos {
				merged[did] = info
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return merged
}

func extraFields(fields map[string]json.RawMessage) map[string]json.RawMessage {
	if len(fields) == 0 {
		return nil
	}
	extra := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if k == "did" {
			continue
		}
		extra[k] = v
	}
	return extra
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
