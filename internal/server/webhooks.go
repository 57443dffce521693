package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"dispatchline/internal/config"
	"dispatchline/internal/domain"
	"dispatchline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher tails the audit log and posts matching entries to the
// configured endpoints. Each hook keeps its own cursor; delivery stops at
// the first failing entry so nothing is skipped.
type webhookDispatcher struct {
	repo     repo.Repo
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

func startWebhookDispatcher(r repo.Repo, cfg *config.Config) {
	if cfg == nil || len(cfg.Webhooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		repo:     r,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	entries, err := d.repo.AuditEntriesAfter(ctx, defaultWebhookBatch, cursor, nil)
	if err != nil {
		log.Printf("webhook: fetch audit entries failed: %v", err)
		return
	}
	filter := newOutcomeFilter(hook.Outcomes)
	for _, entry := range entries {
		if !filter.match(entry.Outcome) {
			d.setCursor(idx, entry.ID)
			continue
		}
		if err := d.postEntry(ctx, hook, entry); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, entry.ID)
	}
}

func (d *webhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	// New hooks start at the tail of the log, not at the beginning.
	cur, err := d.repo.LatestAuditID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookPayload struct {
	ID           int64           `json:"id"`
	RequestID    string          `json:"request_id"`
	RuleID       *string         `json:"rule_id,omitempty"`
	Step         string          `json:"step"`
	Outcome      string          `json:"outcome"`
	Reason       string          `json:"reason,omitempty"`
	ChosenID     *string         `json:"chosen_id,omitempty"`
	CandidateIDs []string        `json:"candidate_ids,omitempty"`
	Snapshot     json.RawMessage `json:"snapshot,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

func (d *webhookDispatcher) postEntry(ctx context.Context, hook config.WebhookConfig, entry domain.AuditLogEntry) error {
	body := webhookPayload{
		ID:           entry.ID,
		RequestID:    entry.RequestID,
		RuleID:       entry.RuleID,
		Step:         entry.Step,
		Outcome:      entry.Outcome,
		Reason:       entry.Reason,
		ChosenID:     entry.ChosenID,
		CandidateIDs: entry.CandidateIDs,
		CreatedAt:    entry.CreatedAt,
	}
	if entry.SnapshotJSON != nil && json.Valid([]byte(*entry.SnapshotJSON)) {
		body.Snapshot = json.RawMessage(*entry.SnapshotJSON)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dispatchline-Outcome", entry.Outcome)
	req.Header.Set("X-Dispatchline-Delivery", fmt.Sprintf("%d", entry.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Dispatchline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type outcomeFilter struct {
	all bool
	set map[string]struct{}
}

func newOutcomeFilter(outcomes []string) outcomeFilter {
	if len(outcomes) == 0 {
		return outcomeFilter{all: true}
	}
	set := make(map[string]struct{}, len(outcomes))
	for _, o := range outcomes {
		key := strings.TrimSpace(o)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return outcomeFilter{all: true}
	}
	return outcomeFilter{set: set}
}

func (f outcomeFilter) match(outcome string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[outcome]
	return ok
}
