// Package dashboard reconciles the actor's application and participation
// records, together with on-demand study lookups, into the three dashboard
// collections: recommended, mine, and history. The view is rebuilt on every
// refresh cycle; nothing here is persisted.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"studymatch/internal/apiclient"
	"studymatch/internal/session"
	"studymatch/pkg/domain"
)

// ErrNoStudySelected rejects an apply call without a study, before any
// network round-trip.
var ErrNoStudySelected = errors.New("no study selected")

// StudyAPI is the slice of the backend client the reconciler needs.
type StudyAPI interface {
	ListApplications(ctx context.Context, token string) ([]domain.ApplicationRecord, error)
	ListParticipations(ctx context.Context, token string) ([]domain.ParticipationRecord, error)
	GetStudy(ctx context.Context, token, id string) (domain.StudyRecord, error)
	MatchedStudies(ctx context.Context, token string) ([]domain.ViewStudy, error)
	ApplyToStudy(ctx context.Context, token, studyID, message string) (apiclient.ApplicationReceipt, error)
}

// Manager owns the participant's reconciled study view.
type Manager struct {
	api               StudyAPI
	session           *session.Session
	logger            *slog.Logger
	detailConcurrency int

	mu          sync.RWMutex
	recommended []domain.ViewStudy
	mine        []domain.ViewStudy
	history     []domain.ViewStudy
}

// Config holds the Manager's dependencies.
type Config struct {
	API     StudyAPI
	Session *session.Session
	Logger  *slog.Logger
	// DetailFetchConcurrency bounds the parallel per-application study
	// lookups during reconciliation.
	DetailFetchConcurrency int
}

// New constructs the study view manager. The session must be provided; no
// fetch happens until it is ready.
func New(cfg Config) (*Manager, error) {
	if cfg.API == nil {
		return nil, errors.New("study API required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.DetailFetchConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Manager{
		api:               cfg.API,
		session:           cfg.Session,
		logger:            logger,
		detailConcurrency: concurrency,
		recommended:       []domain.ViewStudy{},
		mine:              []domain.ViewStudy{},
		history:           []domain.ViewStudy{},
	}, nil
}

// Refresh reloads every collection: the recommended feed and the reconciled
// mine/history view.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := m.RefreshRecommended(ctx); err != nil {
		return err
	}
	return m.RefreshStudies(ctx)
}

// RefreshRecommended replaces the recommended feed from the external
// matcher. The ranking is opaque; matchScore is passed through untouched.
// On fetch failure the prior feed is kept and the section stays rendered; a
// rejected credential propagates so the caller can route to re-auth.
func (m *Manager) RefreshRecommended(ctx context.Context) error {
	_, token, err := m.session.Identity()
	if err != nil {
		return err
	}
	matches, err := m.api.MatchedStudies(ctx, token)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			return err
		}
		m.logger.Warn("recommended feed fetch failed", "error", err)
		return nil
	}
	if matches == nil {
		matches = []domain.ViewStudy{}
	}
	m.mu.Lock()
	m.recommended = matches
	m.mu.Unlock()
	return nil
}

// RefreshStudies rebuilds the mine and history collections from the actor's
// applications and participations. A listing failure degrades both
// collections to empty rather than propagating, so the dashboard always
// renders; a rejected credential propagates instead.
func (m *Manager) RefreshStudies(ctx context.Context) error {
	_, token, err := m.session.Identity()
	if err != nil {
		return err
	}
	mine, history, err := m.reconcile(ctx, token)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			return err
		}
		m.logger.Warn("study reconciliation failed, rendering empty", "error", err)
		mine, history = []domain.ViewStudy{}, []domain.ViewStudy{}
	}
	m.mu.Lock()
	m.mine = mine
	m.history = history
	m.mu.Unlock()
	return nil
}

func (m *Manager) reconcile(ctx context.Context, token string) (mine, history []domain.ViewStudy, err error) {
	participations, err := m.api.ListParticipations(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("list participations: %w", err)
	}
	applications, err := m.api.ListApplications(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("list applications: %w", err)
	}

	// Participations project directly from their embedded study summary;
	// capacity, enrollment and requirements are not carried there and stay
	// zero-valued so consumers never see an absent field.
	var active []domain.ViewStudy
	history = []domain.ViewStudy{}
	claimed := make(map[string]bool, len(participations))
	for _, p := range participations {
		claimed[p.Study.ID] = true
		view := projectParticipation(p)
		switch view.DisplayStatus {
		case domain.DisplayActive:
			active = append(active, view)
		case domain.DisplayCompleted:
			history = append(history, view)
		}
	}

	// A participation supersedes a pending application for the same study:
	// only unclaimed PENDING applications survive to the detail fetch.
	var pending []domain.ApplicationRecord
	for _, app := range applications {
		if app.Status == domain.ApplicationPending && !claimed[app.Study.ID] {
			pending = append(pending, app)
		}
	}

	fetched := m.fetchPendingDetails(ctx, token, pending)

	mine = append([]domain.ViewStudy{}, active...)
	mine = append(mine, fetched...)
	return mine, history, nil
}

// fetchPendingDetails fans out one study lookup per surviving pending
// application. Fetches are unordered; results are reassembled in application
// input order. A failing lookup drops only its own entry.
func (m *Manager) fetchPendingDetails(ctx context.Context, token string, pending []domain.ApplicationRecord) []domain.ViewStudy {
	slots := make([]*domain.ViewStudy, len(pending))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.detailConcurrency)
	for i, app := range pending {
		i, app := i, app
		g.Go(func() error {
			record, err := m.api.GetStudy(ctx, token, app.Study.ID)
			if err != nil {
				m.logger.Warn("dropping pending application, study fetch failed",
					"application_id", app.ID, "study_id", app.Study.ID, "error", err)
				return nil
			}
			view := projectPending(record)
			slots[i] = &view
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.ViewStudy, 0, len(pending))
	for _, slot := range slots {
		if slot != nil {
			out = append(out, *slot)
		}
	}
	return out
}

// Apply submits an application for a study, then refetches the recommended
// feed and the reconciled view so the new pending card appears. On failure
// nothing is reloaded and the caller's form input stays intact.
func (m *Manager) Apply(ctx context.Context, studyID, message string) error {
	if studyID == "" {
		return ErrNoStudySelected
	}
	_, token, err := m.session.Identity()
	if err != nil {
		return err
	}
	if _, err := m.api.ApplyToStudy(ctx, token, studyID, message); err != nil {
		return fmt.Errorf("apply to study: %w", err)
	}
	return m.Refresh(ctx)
}

// Recommended returns the current recommended feed.
func (m *Manager) Recommended() []domain.ViewStudy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ViewStudy{}, m.recommended...)
}

// Mine returns the reconciled active and pending studies, active first.
func (m *Manager) Mine() []domain.ViewStudy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ViewStudy{}, m.mine...)
}

// History returns the completed studies in backend order.
func (m *Manager) History() []domain.ViewStudy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ViewStudy{}, m.history...)
}

func projectParticipation(p domain.ParticipationRecord) domain.ViewStudy {
	return domain.ViewStudy{
		StudyRecord: domain.StudyRecord{
			ID:           p.Study.ID,
			Title:        p.Study.Title,
			Description:  p.Study.Description,
			Institution:  p.Study.Institution,
			Category:     p.Study.Category,
			Duration:     p.Study.Duration,
			Compensation: p.Study.Compensation,
			Location:     p.Study.Location,
			Requirements: domain.Requirements{},
			Researcher:   p.Study.Researcher,
		},
		DisplayStatus: displayStatusFor(p.Status),
	}
}

func projectPending(record domain.StudyRecord) domain.ViewStudy {
	if record.Requirements == nil {
		record.Requirements = domain.Requirements{}
	}
	return domain.ViewStudy{
		StudyRecord:   record,
		DisplayStatus: domain.DisplayPending,
	}
}

// displayStatusFor maps a participation status to its display status. Any
// other value means the dedup invariant is already broken upstream, so fail
// fast instead of coercing.
func displayStatusFor(status domain.ParticipationStatus) domain.DisplayStatus {
	switch status {
	case domain.ParticipationActive:
		return domain.DisplayActive
	case domain.ParticipationCompleted:
		return domain.DisplayCompleted
	}
	panic(fmt.Sprintf("participation status %q has no display status", status))
}
