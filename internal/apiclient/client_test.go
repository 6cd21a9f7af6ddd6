package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"studymatch/pkg/domain"
)

func TestListApplicationsDecodesAndAuthenticates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/participants/applications" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Fatalf("authorization header = %q", got)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Fatalf("missing request id header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"a1","status":"PENDING","message":"hi","created_at":"2024-05-01T10:00:00.123456",
			 "study":{"id":"s1","title":"Sleep Study","researcher":{"id":"r1","name":"Dr. Lee","email":"lee@uni.edu"}}}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	apps, err := client.ListApplications(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("list applications: %v", err)
	}
	if len(apps) != 1 {
		t.Fatalf("len = %d, want 1", len(apps))
	}
	if apps[0].Study.ID != "s1" || apps[0].Study.Researcher == nil {
		t.Fatalf("embedded study not decoded: %+v", apps[0].Study)
	}
	if apps[0].CreatedAt.IsZero() {
		t.Fatalf("created_at without timezone suffix should still parse")
	}
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"token expired"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.ListParticipations(context.Background(), "stale")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized match", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "token expired" {
		t.Fatalf("backend message lost: %v", err)
	}
}

func TestBackendErrorKeepsStatusAndMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Already applied to this study"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.ApplyToStudy(context.Background(), "tok", "s1", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "Already applied to this study" {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("400 must not look like a credential failure")
	}
}

func TestListMessagesQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("other_user_id"); got != "u2" {
			t.Fatalf("other_user_id = %q", got)
		}
		if got := r.URL.Query().Get("study_id"); got != "s1" {
			t.Fatalf("study_id = %q", got)
		}
		_, _ = w.Write([]byte(`[{"id":"m1","content":"hello","type":"TEXT","read":true,
			"created_at":"2024-05-01T10:00:00","sender":{"id":"u1","name":"A"},"receiver":{"id":"u2","name":"B"},
			"study":{"id":"s1","title":"Sleep Study"}}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	msgs, err := client.ListMessages(context.Background(), "tok", "u2", "s1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Sender.ID != "u1" {
		t.Fatalf("unexpected thread: %+v", msgs)
	}
}

func TestListMessagesOmitsEmptyStudyID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, present := r.URL.Query()["study_id"]; present {
			t.Fatalf("study_id must be omitted when empty")
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	if _, err := NewClient(server.URL).ListMessages(context.Background(), "tok", "u2", ""); err != nil {
		t.Fatalf("list messages: %v", err)
	}
}

func TestSendMessagePayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Fatalf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["receiver_id"] != "r1" || body["content"] != "hi" || body["study_id"] != "s1" {
			t.Fatalf("unexpected body: %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"Message sent successfully",
			"message_data":{"id":"m9","content":"hi","created_at":"2024-05-01T10:00:00"}}`))
	}))
	defer server.Close()

	msg, err := NewClient(server.URL).SendMessage(context.Background(), "tok", SendMessageRequest{
		ReceiverID: "r1",
		Content:    "hi",
		StudyID:    "s1",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msg.ID != "m9" {
		t.Fatalf("message id = %q", msg.ID)
	}
}

func TestMatchedStudiesUnwrapsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/matching/studies" {
			t.Fatalf("%s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"participant_id":"u1","total_matches":1,"matches":[
			{"id":"s3","title":"Fitness Study","status":"ACTIVE","matchScore":87,
			 "requirements":["18+"]}
		]}`))
	}))
	defer server.Close()

	matches, err := NewClient(server.URL).MatchedStudies(context.Background(), "tok")
	if err != nil {
		t.Fatalf("matched studies: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len = %d, want 1", len(matches))
	}
	if matches[0].MatchScore == nil || *matches[0].MatchScore != 87 {
		t.Fatalf("matchScore not passed through: %+v", matches[0])
	}
}

func TestUpdateProfileRoutesByRole(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = nil
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if err := client.UpdateProfile(context.Background(), "tok", domain.RoleParticipant, domain.ProfileUpdate{Gender: "Female"}); err != nil {
		t.Fatalf("participant update: %v", err)
	}
	if gotPath != "/participants/profile" {
		t.Fatalf("path = %q", gotPath)
	}
	if _, present := gotBody["bio"]; present {
		t.Fatalf("unset fields must be omitted, got %v", gotBody)
	}
	if gotBody["gender"] != "Female" {
		t.Fatalf("gender missing from payload: %v", gotBody)
	}

	if err := client.UpdateProfile(context.Background(), "tok", domain.RoleResearcher, domain.ProfileUpdate{Institution: "MIT"}); err != nil {
		t.Fatalf("researcher update: %v", err)
	}
	if gotPath != "/researchers/profile" {
		t.Fatalf("path = %q", gotPath)
	}

	if err := client.UpdateProfile(context.Background(), "tok", "ADMIN", domain.ProfileUpdate{}); err == nil {
		t.Fatalf("unknown role must be rejected locally")
	}
}
