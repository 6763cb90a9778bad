package locator

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrBusy is returned when RunOnce is invoked while a previous run is still
// in progress. Runs are single-flight: one process, one run at a time.
var ErrBusy = errors.New("run already in progress")

type RunnerConfig struct {
	DBPath string
	Debug  bool

	// Gazetteer dataset paths. Either may be empty.
	CopartDataPath string
	IAAIDataPath   string

	// AI fallback. Disabled when Extractor is nil (see NewRunner).
	FallbackMaxConcurrent int           // default 3
	FallbackMinInterval   time.Duration // default 500ms
	FallbackCallTimeout   time.Duration
}

type Runner struct {
	cfg          RunnerConfig
	db           *gorm.DB
	store        *Store
	orchestrator *Orchestrator
	dispatcher   *Dispatcher
	source       ConversationSource
	busy         atomic.Bool
}

func (r *Runner) debugf(format string, args ...any) {
	if r == nil || !r.cfg.Debug {
		return
	}
	log.Printf(format, args...)
}

type runStats struct {
	ConversationsSeen int
	MessagesIngested  int
	Matched           int
	OptOuts           int
	FallbackQueued    int
	UnknownMatched    int
	LocationsCreated  int
	UnknownChecked    int
}

// NewRunner wires the pipeline: DB, gazetteer, graph store, fallback
// dispatcher, orchestrator. extractor may be nil to disable the AI fallback.
func NewRunner(cfg RunnerConfig, source ConversationSource, extractor FallbackExtractor) (*Runner, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, fmt.Errorf("DBPath is required")
	}
	if source == nil {
		return nil, fmt.Errorf("conversation source is required")
	}

	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	gaz, err := LoadGazetteer(cfg.CopartDataPath, cfg.IAAIDataPath)
	if err != nil {
		return nil, err
	}

	store := NewStore(db, gaz)
	store.Debug = cfg.Debug

	var dispatcher *Dispatcher
	if extractor != nil {
		dispatcher = NewDispatcher(extractor, store, DispatcherConfig{
			MaxConcurrent: cfg.FallbackMaxConcurrent,
			MinInterval:   cfg.FallbackMinInterval,
			CallTimeout:   cfg.FallbackCallTimeout,
			Debug:         cfg.Debug,
		})
	}

	return &Runner{
		cfg:          cfg,
		db:           db,
		store:        store,
		orchestrator: NewOrchestrator(store, dispatcher),
		dispatcher:   dispatcher,
		source:       source,
	}, nil
}

// Store exposes the graph store for the external HTTP/admin layer.
func (r *Runner) Store() *Store { return r.store }

// MatchAddress exposes the gazetteer for the external admin layer.
func (r *Runner) MatchAddress(fullAddress string) *AuctionLocationResult {
	return r.store.gazetteer.MatchAddress(fullAddress)
}

func (r *Runner) Close() error {
	if r == nil {
		return nil
	}
	if r.dispatcher != nil {
		r.dispatcher.Close()
	}
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	r.db = nil
	return err
}

// RunOnce executes one correlation pass: pull conversation updates, ingest
// messages unconditionally, process each conversation through the pipeline,
// then retry the unknown-driver staging against the refreshed registry. Runs
// to completion; a concurrent invocation gets ErrBusy instead of overlapping.
func (r *Runner) RunOnce() error {
	if !r.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer r.busy.Store(false)

	start := time.Now()
	runID := uuid.NewString()[:8]
	stats := &runStats{}
	r.debugf("run %s start", runID)

	var firstErr error
	updates, err := r.source.ListConversations()
	if err != nil {
		// transport failure is transient; the staging retry below still runs
		r.debugf("run %s: list conversations: %v", runID, err)
		firstErr = err
	}

	for _, u := range updates {
		if err := r.ingestConversation(u, stats); err != nil {
			r.debugf("run %s: ingest %s: %v", runID, u.ConversationSID, err)
			continue
		}
		stats.ConversationsSeen++

		result, err := r.orchestrator.ProcessConversation(u.ConversationSID, u.PhoneNumber)
		if err != nil {
			r.debugf("run %s: process %s: %v", runID, u.ConversationSID, err)
			continue
		}
		switch {
		case result.Matched:
			stats.Matched++
		case result.Reason == "opt-out":
			stats.OptOuts++
		case strings.Contains(result.Reason, "queued for ai fallback"):
			stats.FallbackQueued++
		}
		r.debugf("run %s: %s matched=%v reason=%q", runID, u.ConversationSID, result.Matched, result.Reason)
	}

	unknownStats, err := r.store.MatchUnknownDrivers()
	if err != nil {
		r.debugf("run %s: match unknown drivers: %v", runID, err)
		if firstErr == nil {
			firstErr = err
		}
	}
	stats.UnknownMatched = unknownStats.MatchedCount
	stats.LocationsCreated = unknownStats.LocationsCreated
	stats.UnknownChecked = unknownStats.TotalChecked

	r.debugf("run %s done: conversations=%d messages=%d matched=%d optOuts=%d fallbackQueued=%d unknownChecked=%d unknownMatched=%d locationsCreated=%d elapsed=%s",
		runID, stats.ConversationsSeen, stats.MessagesIngested, stats.Matched, stats.OptOuts,
		stats.FallbackQueued, stats.UnknownChecked, stats.UnknownMatched, stats.LocationsCreated, time.Since(start))
	return firstErr
}

// ingestConversation upserts the conversation row and appends any new
// messages. This always runs, watermark or not: transcripts must be complete
// before the fallback ever sees them.
func (r *Runner) ingestConversation(u ConversationUpdate, stats *runStats) error {
	if strings.TrimSpace(u.ConversationSID) == "" {
		return fmt.Errorf("empty conversation sid")
	}

	var conv Conversation
	err := r.db.Where("conversation_sid = ?", u.ConversationSID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		conv = Conversation{
			ConversationSID: u.ConversationSID,
			PhoneNumber:     u.PhoneNumber,
			LastActivityAt:  u.LastActivityAt,
		}
		if cerr := r.db.Create(&conv).Error; cerr != nil {
			if ferr := r.db.Where("conversation_sid = ?", u.ConversationSID).First(&conv).Error; ferr != nil {
				return cerr
			}
		}
	} else if err != nil {
		return err
	}

	if u.LastActivityAt.After(conv.LastActivityAt) || conv.PhoneNumber != u.PhoneNumber {
		updates := map[string]any{"phone_number": u.PhoneNumber}
		if u.LastActivityAt.After(conv.LastActivityAt) {
			updates["last_activity_at"] = u.LastActivityAt
		}
		if uerr := r.db.Model(&Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error; uerr != nil {
			return uerr
		}
	}

	for _, m := range u.Messages {
		if strings.TrimSpace(m.MessageSID) == "" {
			continue
		}
		msg := Message{
			MessageSID:      m.MessageSID,
			ConversationSID: u.ConversationSID,
			Direction:       m.Direction,
			From:            m.From,
			Body:            m.Body,
			SentAt:          m.SentAt,
		}
		if cerr := r.db.Create(&msg).Error; cerr != nil {
			// uniqueness violation = already ingested on an earlier run
			var count int64
			if qerr := r.db.Model(&Message{}).Where("message_sid = ?", m.MessageSID).Count(&count).Error; qerr == nil && count > 0 {
				continue
			}
			return cerr
		}
		stats.MessagesIngested++
	}
	return nil
}
