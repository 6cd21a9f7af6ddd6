// Command dashboard restores the persisted session, reconciles the actor's
// study view against the backend, and prints the dashboard snapshot as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"studymatch/internal/apiclient"
	"studymatch/internal/config"
	"studymatch/internal/dashboard"
	"studymatch/internal/messaging"
	"studymatch/internal/requirements"
	"studymatch/internal/session"
	"studymatch/internal/util"
	"studymatch/pkg/domain"
)

type studyView struct {
	domain.ViewStudy
	RequirementLines []string `json:"requirementLines,omitempty"`
}

type snapshot struct {
	Actor         domain.User           `json:"actor"`
	Recommended   []studyView           `json:"recommended"`
	Mine          []studyView           `json:"mine"`
	History       []studyView           `json:"history"`
	Conversations []domain.Conversation `json:"conversations"`
	OwnStudies    []domain.StudyRecord  `json:"ownStudies,omitempty"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	api := apiclient.NewClient(cfg.APIBaseURL, apiclient.WithTimeout(cfg.RequestTimeout))

	store, err := session.OpenStore(cfg.SessionDBPath)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	sess := session.New(store, api, util.ComponentLogger("session"))
	state, err := sess.Restore(ctx)
	if err != nil {
		log.Fatalf("failed to restore session: %v", err)
	}
	if state != session.StateReady {
		fmt.Fprintln(os.Stderr, "no usable session; sign in again to continue")
		os.Exit(1)
	}
	actor, _, err := sess.Identity()
	if err != nil {
		log.Fatalf("failed to read identity: %v", err)
	}

	studies, err := dashboard.New(dashboard.Config{
		API:                    api,
		Session:                sess,
		Logger:                 util.ComponentLogger("dashboard"),
		DetailFetchConcurrency: cfg.DetailFetchConcurrency,
	})
	if err != nil {
		log.Fatalf("failed to init dashboard: %v", err)
	}
	messages, err := messaging.New(api, sess, util.ComponentLogger("messaging"))
	if err != nil {
		log.Fatalf("failed to init messaging: %v", err)
	}

	if err := studies.Refresh(ctx); err != nil {
		logger.Error("dashboard refresh failed", "err", err)
		os.Exit(1)
	}
	if err := messages.LoadConversations(ctx); err != nil {
		logger.Error("conversation load failed", "err", err)
		os.Exit(1)
	}

	out := snapshot{
		Actor:         actor,
		Recommended:   render(studies.Recommended()),
		Mine:          render(studies.Mine()),
		History:       render(studies.History()),
		Conversations: messages.Conversations(),
	}

	if actor.Role == domain.RoleResearcher {
		view, err := dashboard.NewResearcherView(api, sess, util.ComponentLogger("researcher"))
		if err != nil {
			log.Fatalf("failed to init researcher view: %v", err)
		}
		if err := view.RefreshStudies(ctx); err != nil {
			logger.Error("own studies refresh failed", "err", err)
			os.Exit(1)
		}
		out.OwnStudies = view.Studies()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("failed to encode snapshot: %v", err)
	}
}

func render(views []domain.ViewStudy) []studyView {
	out := make([]studyView, 0, len(views))
	for _, v := range views {
		out = append(out, studyView{
			ViewStudy:        v,
			RequirementLines: requirements.Format(v.Requirements),
		})
	}
	return out
}
