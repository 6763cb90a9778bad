package locator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// MatchResult is the outcome of processing one conversation. Reason explains
// every non-matched outcome; misses are normal, not errors.
type MatchResult struct {
	Matched    bool
	DriverID   *uint
	LocationID *uint
	LoadID     string
	Reason     string
}

// Orchestrator sequences the per-conversation pipeline: watermark check,
// opt-out, regex extraction, registry resolution, graph upsert, and AI
// fallback escalation.
type Orchestrator struct {
	store      *Store
	dispatcher *Dispatcher // nil disables the AI fallback
}

func NewOrchestrator(store *Store, dispatcher *Dispatcher) *Orchestrator {
	return &Orchestrator{store: store, dispatcher: dispatcher}
}

// ProcessConversation runs the pipeline for one conversation. Message
// ingestion has already happened by the time this is called; the watermark
// only gates the parsing work.
func (o *Orchestrator) ProcessConversation(conversationSID, phone string) (MatchResult, error) {
	s := o.store

	var conv Conversation
	err := s.db.Where("conversation_sid = ?", conversationSID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MatchResult{Reason: "unknown conversation"}, fmt.Errorf("conversation %s not ingested", conversationSID)
	}
	if err != nil {
		return MatchResult{}, err
	}

	if conv.LastParsedAt != nil && !conv.LastActivityAt.After(*conv.LastParsedAt) {
		return MatchResult{Reason: "no new activity"}, nil
	}

	var msgs []Message
	if err := s.db.Where("conversation_sid = ?", conversationSID).Order("sent_at asc, id asc").Find(&msgs).Error; err != nil {
		return MatchResult{}, err
	}

	if HasOptOut(msgs) {
		if err := s.MarkOptedOut(phone); err != nil {
			return MatchResult{}, err
		}
		if err := o.advanceWatermark(&conv); err != nil {
			return MatchResult{}, err
		}
		return MatchResult{Reason: "opt-out"}, nil
	}

	text := conversationText(msgs)
	candidates := ExtractLoadIDs(text)

	if len(candidates) > 0 {
		result, resolved, err := o.resolveCandidates(phone, candidates)
		if err != nil {
			return MatchResult{}, err
		}
		if resolved {
			if werr := o.advanceWatermark(&conv); werr != nil {
				return MatchResult{}, werr
			}
			return result, nil
		}
	}

	// Nothing extracted, or nothing resolved: hand the transcript to the AI
	// fallback. Results land in unknown-driver staging, not here.
	reason := "no load candidates"
	if len(candidates) > 0 {
		reason = "no registry match"
	}
	if o.dispatcher != nil && strings.TrimSpace(text) != "" {
		if o.dispatcher.Enqueue(conversationSID, phone, text) {
			reason += ", queued for ai fallback"
		}
	}
	if err := o.advanceWatermark(&conv); err != nil {
		return MatchResult{}, err
	}
	return MatchResult{Reason: reason}, nil
}

// resolveCandidates tries each candidate id against the registry in order and
// stops at the first load that yields a usable location; remaining candidates
// are not evaluated. Delivery location wins over pickup.
func (o *Orchestrator) resolveCandidates(phone string, candidates []string) (MatchResult, bool, error) {
	s := o.store
	for _, id := range candidates {
		var load Load
		err := s.db.Where("load_id = ?", id).First(&load).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return MatchResult{}, false, err
		}

		raw := pickLoadLocation(&load)
		if raw == "" {
			continue // registry hit without location text is not a resolution
		}

		outcome, err := s.LinkDriverToLocation(phone, raw, "sms-load-match")
		if err != nil {
			return MatchResult{}, false, err
		}
		if outcome.Skipped {
			return MatchResult{Reason: "driver opted out", LoadID: id}, true, nil
		}

		if err := s.db.Model(&Load{}).Where("id = ?", load.ID).Update("driver_id", outcome.Driver.ID).Error; err != nil {
			return MatchResult{}, false, err
		}

		return MatchResult{
			Matched:    true,
			DriverID:   &outcome.Driver.ID,
			LocationID: &outcome.Location.ID,
			LoadID:     id,
		}, true, nil
	}
	return MatchResult{}, false, nil
}

func pickLoadLocation(load *Load) string {
	if load.DeliveryLocation != nil && strings.TrimSpace(*load.DeliveryLocation) != "" {
		return strings.TrimSpace(*load.DeliveryLocation)
	}
	if load.PickupLocation != nil && strings.TrimSpace(*load.PickupLocation) != "" {
		return strings.TrimSpace(*load.PickupLocation)
	}
	return ""
}

func (o *Orchestrator) advanceWatermark(conv *Conversation) error {
	now := time.Now().UTC()
	return o.store.db.Model(&Conversation{}).Where("id = ?", conv.ID).Update("last_parsed_at", now).Error
}

func conversationText(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Body)
	}
	return b.String()
}
