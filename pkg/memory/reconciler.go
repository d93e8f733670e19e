package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/sirupsen/logrus"
)

// Reconciler periodically replays chats whose best-effort archive writes
// failed. The schedule is a cron expression; the default runs every minute.
type Reconciler struct {
	orch     *Orchestrator
	schedule string
	gron     *gronx.Gronx
	log      *logrus.Logger

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewReconciler(orch *Orchestrator, schedule string, log *logrus.Logger) (*Reconciler, error) {
	if schedule == "" {
		schedule = "* * * * *"
	}
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		return nil, fmt.Errorf("invalid reconciler schedule %q", schedule)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Reconciler{
		orch:     orch,
		schedule: schedule,
		gron:     gron,
		log:      log,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the background loop. The cron expression is checked once a
// minute, so sub-minute schedules degrade to once a minute.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Reconciler) Stop() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			due, err := r.gron.IsDue(r.schedule, now)
			if err != nil {
				r.log.WithError(err).Warn("reconciler schedule check failed")
				continue
			}
			if due {
				r.RunOnce(context.Background())
			}
		}
	}
}

// RunOnce syncs every dirty chat immediately. Failures keep the chat dirty
// for the next pass.
func (r *Reconciler) RunOnce(ctx context.Context) {
	for _, chatID := range r.orch.DirtyChats() {
		synced, err := r.orch.SyncCacheToArchive(ctx, chatID)
		if err != nil {
			r.log.WithError(err).WithField("chat_id", chatID).Warn("archive reconciliation failed")
			continue
		}
		r.log.WithFields(logrus.Fields{
			"chat_id": chatID,
			"turns":   synced,
		}).Info("replayed cached turns into archive")
	}
}
