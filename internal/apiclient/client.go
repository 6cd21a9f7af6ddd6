// Package apiclient is the typed JSON-over-HTTPS boundary to the research
// platform backend. Every response is decoded into pkg/domain types here so
// the rest of the client never touches untyped data.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"studymatch/pkg/domain"
)

const requestIDHeader = "X-Request-Id"

// ErrUnauthorized marks a missing or rejected credential. Callers route to
// re-authentication instead of surfacing it as a generic failure.
var ErrUnauthorized = errors.New("not authenticated")

// APIError represents a backend error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s (status %d)", e.Message, e.Status)
}

// Unwrap lets errors.Is(err, ErrUnauthorized) match credential rejections.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// Client calls the platform backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient constructs a backend client for the given API base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListApplications returns the actor's study applications.
func (c *Client) ListApplications(ctx context.Context, token string) ([]domain.ApplicationRecord, error) {
	var out []domain.ApplicationRecord
	if err := c.get(ctx, token, "/participants/applications", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListParticipations returns the actor's study participations.
func (c *Client) ListParticipations(ctx context.Context, token string) ([]domain.ParticipationRecord, error) {
	var out []domain.ParticipationRecord
	if err := c.get(ctx, token, "/participants/participations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStudy fetches one study's full record.
func (c *Client) GetStudy(ctx context.Context, token, id string) (domain.StudyRecord, error) {
	var out domain.StudyRecord
	if err := c.get(ctx, token, "/studies/"+url.PathEscape(id), nil, &out); err != nil {
		return domain.StudyRecord{}, err
	}
	return out, nil
}

// StudyFilter narrows a study listing.
type StudyFilter struct {
	Category     string
	Status       domain.StudyStatus
	ResearcherID string
}

// ListStudies returns studies matching the filter.
func (c *Client) ListStudies(ctx context.Context, token string, filter StudyFilter) ([]domain.StudyRecord, error) {
	query := url.Values{}
	if filter.Category != "" {
		query.Set("category", filter.Category)
	}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.ResearcherID != "" {
		query.Set("researcher_id", filter.ResearcherID)
	}
	var out []domain.StudyRecord
	if err := c.get(ctx, token, "/studies", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateStudy creates a new study owned by the calling researcher.
func (c *Client) CreateStudy(ctx context.Context, token string, draft domain.StudyDraft) error {
	return c.send(ctx, token, http.MethodPost, "/studies", draft, nil)
}

// ApplicationReceipt is the backend's acknowledgement of a new application.
type ApplicationReceipt struct {
	ID        string                   `json:"id"`
	StudyID   string                   `json:"study_id"`
	Status    domain.ApplicationStatus `json:"status"`
	CreatedAt domain.Timestamp         `json:"created_at"`
}

// ApplyToStudy submits an application with an optional message.
func (c *Client) ApplyToStudy(ctx context.Context, token, studyID, message string) (ApplicationReceipt, error) {
	body := struct {
		Message string `json:"message,omitempty"`
	}{Message: message}
	var resp struct {
		Application ApplicationReceipt `json:"application"`
	}
	path := "/studies/" + url.PathEscape(studyID) + "/apply"
	if err := c.send(ctx, token, http.MethodPost, path, body, &resp); err != nil {
		return ApplicationReceipt{}, err
	}
	return resp.Application, nil
}

// StudyApplications lists applications on a study the actor owns.
func (c *Client) StudyApplications(ctx context.Context, token, studyID string) ([]domain.StudyApplication, error) {
	var out []domain.StudyApplication
	path := "/studies/" + url.PathEscape(studyID) + "/applications"
	if err := c.get(ctx, token, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StudyParticipants lists enrollments on a study the actor owns.
func (c *Client) StudyParticipants(ctx context.Context, token, studyID string) ([]domain.StudyParticipant, error) {
	var out []domain.StudyParticipant
	path := "/studies/" + url.PathEscape(studyID) + "/participants"
	if err := c.get(ctx, token, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MatchedStudies returns the recommender's ranked study feed for the actor.
// The ranking is opaque to the client.
func (c *Client) MatchedStudies(ctx context.Context, token string) ([]domain.ViewStudy, error) {
	var resp struct {
		Matches []domain.ViewStudy `json:"matches"`
	}
	if err := c.send(ctx, token, http.MethodPost, "/matching/studies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// MatchedParticipants returns the recommender's ranked participant feed for a
// researcher's study.
func (c *Client) MatchedParticipants(ctx context.Context, token, studyID string) ([]domain.MatchedParticipant, error) {
	var resp struct {
		Matches []domain.MatchedParticipant `json:"matches"`
	}
	path := "/matching/participants/" + url.PathEscape(studyID)
	if err := c.get(ctx, token, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// ListConversations returns the actor's conversation list in server order.
func (c *Client) ListConversations(ctx context.Context, token string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := c.get(ctx, token, "/messages/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages returns the thread with another user, ascending by creation
// time as delivered by the backend. studyID narrows to one study context and
// may be empty.
func (c *Client) ListMessages(ctx context.Context, token, otherUserID, studyID string) ([]domain.Message, error) {
	query := url.Values{}
	query.Set("other_user_id", otherUserID)
	if studyID != "" {
		query.Set("study_id", studyID)
	}
	var out []domain.Message
	if err := c.get(ctx, token, "/messages", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessageRequest is the payload for SendMessage.
type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	StudyID    string `json:"study_id,omitempty"`
}

// SendMessage creates a message. The created record is echoed back but
// callers refresh the thread rather than appending it locally.
func (c *Client) SendMessage(ctx context.Context, token string, req SendMessageRequest) (domain.Message, error) {
	var resp struct {
		MessageData domain.Message `json:"message_data"`
	}
	if err := c.send(ctx, token, http.MethodPost, "/messages", req, &resp); err != nil {
		return domain.Message{}, err
	}
	return resp.MessageData, nil
}

// GetParticipantProfile returns the actor's participant profile.
func (c *Client) GetParticipantProfile(ctx context.Context, token string) (domain.ParticipantProfile, error) {
	var resp struct {
		ParticipantProfile domain.ParticipantProfile `json:"participant_profile"`
	}
	if err := c.get(ctx, token, "/participants/profile", nil, &resp); err != nil {
		return domain.ParticipantProfile{}, err
	}
	return resp.ParticipantProfile, nil
}

// UpdateProfile applies a partial profile update for the given role.
func (c *Client) UpdateProfile(ctx context.Context, token string, role domain.Role, update domain.ProfileUpdate) error {
	var path string
	switch role {
	case domain.RoleParticipant:
		path = "/participants/profile"
	case domain.RoleResearcher:
		path = "/researchers/profile"
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	return c.send(ctx, token, http.MethodPut, path, update, nil)
}

func (c *Client) get(ctx context.Context, token, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	addAuthHeader(req, token)
	return c.do(req, out)
}

func (c *Client) send(ctx context.Context, token, method, path string, body, out any) error {
	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = &bytes.Buffer{}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	addAuthHeader(req, token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set(requestIDHeader, uuid.NewString())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func addAuthHeader(req *http.Request, token string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
