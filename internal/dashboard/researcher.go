package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"studymatch/internal/apiclient"
	"studymatch/internal/session"
	"studymatch/pkg/domain"
)

// ErrIncompleteStudy rejects a study draft missing its required fields
// before any network call.
var ErrIncompleteStudy = errors.New("study draft incomplete")

// ResearcherAPI is the slice of the backend client the researcher view needs.
type ResearcherAPI interface {
	ListStudies(ctx context.Context, token string, filter apiclient.StudyFilter) ([]domain.StudyRecord, error)
	CreateStudy(ctx context.Context, token string, draft domain.StudyDraft) error
	StudyApplications(ctx context.Context, token, studyID string) ([]domain.StudyApplication, error)
	StudyParticipants(ctx context.Context, token, studyID string) ([]domain.StudyParticipant, error)
	MatchedParticipants(ctx context.Context, token, studyID string) ([]domain.MatchedParticipant, error)
}

// ResearcherView owns the researcher's own-studies list and per-study
// review lookups.
type ResearcherView struct {
	api     ResearcherAPI
	session *session.Session
	logger  *slog.Logger

	mu      sync.RWMutex
	studies []domain.StudyRecord
}

// NewResearcherView constructs the researcher-side manager.
func NewResearcherView(api ResearcherAPI, sess *session.Session, logger *slog.Logger) (*ResearcherView, error) {
	if api == nil {
		return nil, errors.New("researcher API required")
	}
	if sess == nil {
		return nil, errors.New("session required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResearcherView{
		api:     api,
		session: sess,
		logger:  logger,
		studies: []domain.StudyRecord{},
	}, nil
}

// RefreshStudies reloads the actor's own studies. A listing failure
// degrades to an empty list so the page always renders; a rejected
// credential propagates instead.
func (v *ResearcherView) RefreshStudies(ctx context.Context) error {
	actor, token, err := v.session.Identity()
	if err != nil {
		return err
	}
	studies, err := v.api.ListStudies(ctx, token, apiclient.StudyFilter{ResearcherID: actor.ID})
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			return err
		}
		v.logger.Warn("own studies fetch failed, rendering empty", "error", err)
		studies = []domain.StudyRecord{}
	}
	v.mu.Lock()
	v.studies = studies
	v.mu.Unlock()
	return nil
}

// Studies returns the current own-studies list.
func (v *ResearcherView) Studies() []domain.StudyRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]domain.StudyRecord{}, v.studies...)
}

// CreateStudy validates and submits a new study, then reloads the list so
// the new study appears.
func (v *ResearcherView) CreateStudy(ctx context.Context, draft domain.StudyDraft) error {
	if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Description) == "" {
		return ErrIncompleteStudy
	}
	_, token, err := v.session.Identity()
	if err != nil {
		return err
	}
	if err := v.api.CreateStudy(ctx, token, draft); err != nil {
		return fmt.Errorf("create study: %w", err)
	}
	return v.RefreshStudies(ctx)
}

// Applications lists the applications on one of the actor's studies.
func (v *ResearcherView) Applications(ctx context.Context, studyID string) ([]domain.StudyApplication, error) {
	if studyID == "" {
		return nil, ErrNoStudySelected
	}
	_, token, err := v.session.Identity()
	if err != nil {
		return nil, err
	}
	return v.api.StudyApplications(ctx, token, studyID)
}

// Participants lists the enrollments on one of the actor's studies.
func (v *ResearcherView) Participants(ctx context.Context, studyID string) ([]domain.StudyParticipant, error) {
	if studyID == "" {
		return nil, ErrNoStudySelected
	}
	_, token, err := v.session.Identity()
	if err != nil {
		return nil, err
	}
	return v.api.StudyParticipants(ctx, token, studyID)
}

// MatchedParticipants returns the recommender's participant feed for one of
// the actor's studies. The ranking is opaque to the client.
func (v *ResearcherView) MatchedParticipants(ctx context.Context, studyID string) ([]domain.MatchedParticipant, error) {
	if studyID == "" {
		return nil, ErrNoStudySelected
	}
	_, token, err := v.session.Identity()
	if err != nil {
		return nil, err
	}
	return v.api.MatchedParticipants(ctx, token, studyID)
}
