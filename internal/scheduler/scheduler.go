package scheduler

import (
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/tam1m/streamystats-sub003/internal/models"
	"github.com/tam1m/streamystats-sub003/internal/repository"
)

// Trigger starts a sync run; implemented by the sync service.
type Trigger interface {
	Trigger(serverID uuid.UUID, kind models.SyncKind) (*models.SyncRun, error)
}

type ServerLister interface {
	List() ([]models.Server, error)
}

// Scheduler fires periodic partial syncs and a daily full sync for every
// registered server. A trigger that collides with an active run is logged
// and skipped; the running sync already covers the work.
type Scheduler struct {
	cron    *cron.Cron
	syncs   Trigger
	servers ServerLister

	partialMinutes int
	fullSpec       string
}

func New(syncs Trigger, servers ServerLister, partialMinutes int, fullSpec string) *Scheduler {
	return &Scheduler{
		cron:           cron.New(),
		syncs:          syncs,
		servers:        servers,
		partialMinutes: partialMinutes,
		fullSpec:       fullSpec,
	}
}

func (s *Scheduler) Start() error {
	if s.partialMinutes > 0 {
		spec := fmt.Sprintf("@every %dm", s.partialMinutes)
		if _, err := s.cron.AddFunc(spec, func() { s.triggerAll(models.SyncPartial) }); err != nil {
			return fmt.Errorf("bad partial sync schedule: %w", err)
		}
	}
	if s.fullSpec != "" {
		if _, err := s.cron.AddFunc(s.fullSpec, func() { s.triggerAll(models.SyncFull) }); err != nil {
			return fmt.Errorf("bad full sync schedule %q: %w", s.fullSpec, err)
		}
	}
	s.cron.Start()
	log.Printf("[scheduler] started: partial every %dm, full at %q", s.partialMinutes, s.fullSpec)
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[scheduler] stopped")
}

func (s *Scheduler) triggerAll(kind models.SyncKind) {
	servers, err := s.servers.List()
	if err != nil {
		log.Printf("[scheduler] listing servers failed: %v", err)
		return
	}

	for _, srv := range servers {
		run, err := s.syncs.Trigger(srv.ID, kind)
		if err != nil {
			var conflict *repository.ConflictError
			if errors.As(err, &conflict) {
				log.Printf("[scheduler] %s sync for %q skipped, run %s already active",
					kind, srv.Name, conflict.Existing.ID)
				continue
			}
			log.Printf("[scheduler] %s sync for %q failed to start: %v", kind, srv.Name, err)
			continue
		}
		log.Printf("[scheduler] %s sync for %q queued as run %s", kind, srv.Name, run.ID)
	}
}
