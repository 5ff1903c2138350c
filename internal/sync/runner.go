package sync

import (
	"context"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"github.com/nhle/mailarchive/internal/model"
)

// SyncState represents the current state of an account sync.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus holds the sync state for a single account.
type SyncStatus struct {
	AccountID int64
	Account   string
	State     SyncState
	LastSync  time.Time
	Error     error
}

// AccountResult is the outcome of syncing one account.
type AccountResult struct {
	Account model.MailboxAccount
	Report  *Report
	Err     error
}

// RunSummary collects the results of one scheduled pass.
type RunSummary struct {
	Succeeded int
	Failed    int
	Results   []AccountResult
}

// Runner syncs accounts whose interval has elapsed. Accounts are processed
// one at a time; a single Runner must not be shared across processes.
type Runner struct {
	engine *Engine
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	mu        gosync.Mutex
	statuses  map[int64]*SyncStatus
	triggerCh chan struct{}
}

// NewRunner creates a Runner on top of engine.
func NewRunner(engine *Engine) *Runner {
	return &Runner{
		engine:    engine,
		repo:      engine.repo,
		logger:    engine.logger,
		now:       engine.now,
		statuses:  make(map[int64]*SyncStatus),
		triggerCh: make(chan struct{}, 1),
	}
}

// DueAccounts returns the active accounts to sync at now. A non-empty
// interval selects every active account with that interval regardless of
// when it last ran.
func (r *Runner) DueAccounts(ctx context.Context, now time.Time, interval model.SyncInterval) ([]model.MailboxAccount, error) {
	accounts, err := r.repo.ListAccounts(ctx, true)
	if err != nil {
		return nil, err
	}
	var due []model.MailboxAccount
	for _, a := range accounts {
		if interval != "" {
			if a.SyncInterval == interval {
				due = append(due, a)
			}
			continue
		}
		if a.DueForSync(now) {
			due = append(due, a)
		}
	}
	return due, nil
}

// RunDue syncs every due account in turn. A failing account does not stop
// the others.
func (r *Runner) RunDue(ctx context.Context, now time.Time, interval model.SyncInterval) (RunSummary, error) {
	accounts, err := r.DueAccounts(ctx, now, interval)
	if err != nil {
		return RunSummary{}, err
	}

	var summary RunSummary
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res := r.SyncAccount(ctx, a, Options{})
		summary.Results = append(summary.Results, res)
		if res.Err != nil {
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}

	if len(accounts) > 0 {
		r.logger.Info("sync pass complete", "succeeded", summary.Succeeded, "failed", summary.Failed)
	}
	return summary, nil
}

// SyncAccount connects to a, archives its messages and stamps last_sync_at
// when the run finishes.
func (r *Runner) SyncAccount(ctx context.Context, a model.MailboxAccount, opts Options) AccountResult {
	r.setStatus(a, SyncRunning, nil)

	session, err := r.engine.Connect(ctx, a)
	if err != nil {
		r.setStatus(a, SyncError, err)
		return AccountResult{Account: a, Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("closing mailbox", "account", a.Name, "error", err)
		}
	}()

	report, err := session.FetchAndArchive(ctx, opts, nil)
	if err != nil {
		r.setStatus(a, SyncError, err)
		r.logger.Error("sync failed", "account", a.Name, "error", err)
		return AccountResult{Account: a, Report: report, Err: err}
	}

	if err := r.repo.MarkAccountSynced(ctx, a.ID, r.now()); err != nil {
		r.logger.Error("stamping last sync", "account", a.Name, "error", err)
	}
	r.setStatus(a, SyncIdle, nil)
	return AccountResult{Account: a, Report: report}
}

// Run syncs due accounts immediately and then on every tick, or when
// Trigger is called, until ctx is done.
func (r *Runner) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	r.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.pass(ctx)
		case <-r.triggerCh:
			r.pass(ctx)
		}
	}
}

func (r *Runner) pass(ctx context.Context) {
	if _, err := r.RunDue(ctx, r.now(), ""); err != nil && ctx.Err() == nil {
		r.logger.Error("selecting due accounts", "error", err)
	}
}

// Trigger requests an immediate pass from Run. It never blocks.
func (r *Runner) Trigger() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
		// A pass is already pending.
	}
}

// Statuses returns the current sync status of every account seen so far,
// ordered by account id.
func (r *Runner) Statuses() []SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].AccountID < statuses[j].AccountID })
	return statuses
}

// setStatus updates the sync status for an account.
func (r *Runner) setStatus(a model.MailboxAccount, state SyncState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.statuses[a.ID]
	if !ok {
		status = &SyncStatus{AccountID: a.ID, Account: a.Name}
		r.statuses[a.ID] = status
	}
	status.State = state
	status.Error = err
	if state == SyncIdle {
		status.LastSync = r.now()
	}
}
