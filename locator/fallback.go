package locator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FallbackResult is what the AI extraction returns: candidate load ids and
// an optional free-text location. Best-effort; a nil result is normal.
type FallbackResult struct {
	LoadIDs  []string `json:"load_ids"`
	Location string   `json:"location,omitempty"`
}

// FallbackExtractor is the external AI capability consulted when regex
// extraction finds nothing usable in a conversation.
type FallbackExtractor interface {
	ExtractLoadInfo(ctx context.Context, conversationText, phoneNumber string) (*FallbackResult, error)
}

const fallbackSystemPrompt = `You read SMS conversations between a dispatcher and a truck driver.
Extract load identifiers (6-character alphanumeric codes, sometimes written as the last 6 of a VIN)
and, when mentioned, the location the driver is at or heading to.

Return ONLY a JSON object, no additional text:
{"load_ids": ["ABC123"], "location": "Miami, FL"}

Use an empty load_ids array when the conversation contains no identifiers.`

// LLMConfig configures the OpenAI-compatible chat endpoint used for fallback
// extraction.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

type LLMExtractor struct {
	cfg  LLMConfig
	http *http.Client
}

func NewLLMExtractor(cfg LLMConfig) *LLMExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &LLMExtractor{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *LLMExtractor) ExtractLoadInfo(ctx context.Context, conversationText, phoneNumber string) (*FallbackResult, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: fallbackSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Driver phone: %s\n\nConversation:\n%s", phoneNumber, conversationText)},
		},
		Temperature: c.cfg.Temperature,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm endpoint returned %d: %s", resp.StatusCode, truncateForError(body))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("decode llm response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, nil
	}
	return parseFallbackContent(chat.Choices[0].Message.Content)
}

// parseFallbackContent tolerates code fences and leading prose around the
// JSON object; models do both despite the prompt.
func parseFallbackContent(content string) (*FallbackResult, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j >= 0 {
		s = s[:j+1]
	}
	if s == "" {
		return nil, nil
	}
	var res FallbackResult
	if err := json.Unmarshal([]byte(s), &res); err != nil {
		return nil, fmt.Errorf("parse llm content: %w", err)
	}
	for i, id := range res.LoadIDs {
		res.LoadIDs[i] = strings.ToUpper(strings.TrimSpace(id))
	}
	return &res, nil
}

func truncateForError(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// fallbackTask is one queued escalation.
type fallbackTask struct {
	ConversationSID string
	PhoneNumber     string
	Text            string
}

// DispatcherConfig bounds the AI fallback: at most MaxConcurrent in-flight
// calls, with dispatch starts spaced at least MinInterval apart.
type DispatcherConfig struct {
	MaxConcurrent int
	MinInterval   time.Duration
	CallTimeout   time.Duration
	QueueSize     int
	Debug         bool
}

// Dispatcher drains a FIFO queue of fallback tasks with a bounded worker
// pool. Successful extractions are staged via SaveUnknownDriver; failures are
// logged and dropped, since staging is retried on later runs anyway.
// Cancellation mid-call is not supported — a slow call only occupies its own
// worker.
type Dispatcher struct {
	extractor FallbackExtractor
	store     *Store
	limiter   *rate.Limiter
	tasks     chan fallbackTask
	wg        sync.WaitGroup // in-flight + queued tasks
	workers   sync.WaitGroup
	timeout   time.Duration
	debug     bool

	mu     sync.Mutex
	closed bool
}

func NewDispatcher(extractor FallbackExtractor, store *Store, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 500 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	d := &Dispatcher{
		extractor: extractor,
		store:     store,
		limiter:   rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		tasks:     make(chan fallbackTask, cfg.QueueSize),
		timeout:   cfg.CallTimeout,
		debug:     cfg.Debug,
	}
	for i := 0; i < cfg.MaxConcurrent; i++ {
		d.workers.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) debugf(format string, args ...any) {
	if d == nil || !d.debug {
		return
	}
	log.Printf(format, args...)
}

// Enqueue queues a conversation for AI extraction. Returns false when the
// dispatcher is closed or the queue is full; callers treat that as a normal
// miss since the conversation is revisited when new activity arrives.
func (d *Dispatcher) Enqueue(conversationSID, phoneNumber, text string) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	select {
	case d.tasks <- fallbackTask{ConversationSID: conversationSID, PhoneNumber: phoneNumber, Text: text}:
		d.mu.Unlock()
		return true
	default:
		d.wg.Done()
		d.mu.Unlock()
		d.debugf("fallback queue full, dropping conversation %s", conversationSID)
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.workers.Done()
	for task := range d.tasks {
		// spacing applies to dispatch starts, shared across workers
		_ = d.limiter.Wait(context.Background())
		d.handle(task)
		d.wg.Done()
	}
}

func (d *Dispatcher) handle(task fallbackTask) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	res, err := d.extractor.ExtractLoadInfo(ctx, task.Text, task.PhoneNumber)
	if err != nil {
		d.debugf("fallback extraction failed conversation=%s: %v", task.ConversationSID, err)
		return
	}
	if res == nil || len(res.LoadIDs) == 0 {
		d.debugf("fallback found nothing conversation=%s", task.ConversationSID)
		return
	}

	var rawLocation *string
	if strings.TrimSpace(res.Location) != "" {
		loc := strings.TrimSpace(res.Location)
		rawLocation = &loc
	}
	if err := d.store.SaveUnknownDriver(task.PhoneNumber, res.LoadIDs, rawLocation); err != nil {
		d.debugf("fallback staging failed conversation=%s: %v", task.ConversationSID, err)
		return
	}
	d.debugf("fallback staged %d load ids for %s", len(res.LoadIDs), task.PhoneNumber)
}

// Flush blocks until every queued task has been handled, or the timeout
// elapses. Used by tests and orderly shutdown; steady-state runs do not wait.
func (d *Dispatcher) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close stops accepting work and waits for the workers to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()
	d.workers.Wait()
}
