package locator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ConversationUpdate is what the messaging transport delivers for one
// conversation: identity, the activity high-water mark, and ordered messages.
type ConversationUpdate struct {
	ConversationSID string          `json:"conversation_sid"`
	PhoneNumber     string          `json:"phone_number"`
	LastActivityAt  time.Time       `json:"last_activity_at"`
	Messages        []MessageUpdate `json:"messages"`
}

type MessageUpdate struct {
	MessageSID string    `json:"message_sid"`
	Direction  string    `json:"direction"`
	From       string    `json:"from"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

// ConversationSource abstracts the external SMS transport. The core never
// talks to the messaging API itself; it only consumes updates.
type ConversationSource interface {
	ListConversations() ([]ConversationUpdate, error)
}

// FileConversationSource reads conversation dumps dropped as JSON files by
// the external transport client. Each file holds one ConversationUpdate or an
// array of them. Files are tracked by path+sha so an unchanged file is read
// once; a rewritten file (new messages appended by the exporter) is read
// again.
type FileConversationSource struct {
	Glob  string
	Store *Store
}

func NewFileConversationSource(glob string, store *Store) *FileConversationSource {
	return &FileConversationSource{Glob: glob, Store: store}
}

func (f *FileConversationSource) ListConversations() ([]ConversationUpdate, error) {
	paths, err := filepath.Glob(f.Glob)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []ConversationUpdate
	for _, p := range paths {
		updates, err := f.readFile(p)
		if err != nil {
			if f.Store != nil {
				f.Store.debugf("conversation dump %q: %v", p, err)
			}
			continue
		}
		out = append(out, updates...)
	}
	return out, nil
}

func (f *FileConversationSource) readFile(path string) ([]ConversationUpdate, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])

	if f.alreadyIngested(path, sha) {
		return nil, nil
	}

	var updates []ConversationUpdate
	if err := json.Unmarshal(content, &updates); err != nil {
		var single ConversationUpdate
		if serr := json.Unmarshal(content, &single); serr != nil {
			// record the broken version so it is not re-parsed every run;
			// a fixed rewrite gets a new sha and is picked up normally
			f.markFile(path, sha, fmt.Errorf("decode: %w", err))
			return nil, fmt.Errorf("decode: %w", err)
		}
		updates = []ConversationUpdate{single}
	}

	f.markFile(path, sha, nil)
	return updates, nil
}

func (f *FileConversationSource) alreadyIngested(path, sha string) bool {
	if f.Store == nil {
		return false
	}
	var count int64
	if err := f.Store.db.Model(&IngestedFile{}).Where("path = ? AND sha256 = ?", path, sha).Count(&count).Error; err != nil {
		return false
	}
	return count > 0
}

func (f *FileConversationSource) markFile(path, sha string, readErr error) {
	if f.Store == nil || sha == "" {
		return
	}
	rec := IngestedFile{Path: path, SHA256: sha, ProcessedAt: time.Now().UTC()}
	if readErr != nil {
		rec.LastError = readErr.Error()
	}
	// uniqueness violation = this exact file version was already recorded
	_ = f.Store.db.Create(&rec).Error
}
