// Package calllog is the append-only record of every LLM invocation. Writes
// are asynchronous and never fail the originating call; failures go to the
// logger side channel and the record is dropped.
package calllog

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/hivecore/hivecore/pkg/logger"
	"github.com/hivecore/hivecore/pkg/redaction"
	"github.com/hivecore/hivecore/pkg/registry"
)

const (
	// maxFieldChars caps persisted prompts and responses.
	maxFieldChars   = 10000
	truncationMark  = "...(truncated)"
	writerQueueSize = 256
)

// TimeLayout is the fixed-width UTC stamp stored in the timestamp column.
// Lexicographic order equals chronological order, which the stats window
// comparison relies on; RFC3339Nano trims trailing zeros and breaks that.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one LLM call outcome.
type Record struct {
	Provider     string
	Model        string
	Caller       string
	Prompt       string
	Response     string
	InputTokens  int
	OutputTokens int
	CostEstimate float64
	Duration     time.Duration
	OK           bool
	Err          string
}

// Store persists call records to a WAL-mode sqlite database through a single
// writer goroutine draining a bounded queue.
type Store struct {
	db      *sql.DB
	queue   chan Record
	dropped atomic.Int64

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// Open creates or opens the call log at path and starts the writer.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening call log: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating call log schema: %w", err)
	}

	s := &Store{
		db:    db,
		queue: make(chan Record, writerQueueSize),
	}
	s.wg.Add(1)
	go s.writer()
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS llm_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	caller TEXT,
	prompt TEXT,
	response TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_estimate REAL NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	ok INTEGER NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_model ON llm_calls(model);
CREATE INDEX IF NOT EXISTS idx_llm_calls_timestamp ON llm_calls(timestamp);
`

// LogCall enqueues a record. It never blocks and never returns an error:
// when the queue is full the oldest queued record is dropped and counted.
func (s *Store) LogCall(rec Record) {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		s.dropped.Add(1)
		return
	}
	defer s.closeMu.Unlock()

	select {
	case s.queue <- rec:
		return
	default:
	}

	// Queue full: evict the oldest and retry once.
	select {
	case <-s.queue:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
	}
}

// DroppedRecords reports how many records were lost to queue pressure.
func (s *Store) DroppedRecords() int64 {
	return s.dropped.Load()
}

// DB exposes the underlying handle for read-only analytical queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close drains the writer queue and closes the database.
func (s *Store) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.closeMu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) writer() {
	defer s.wg.Done()
	for rec := range s.queue {
		if err := s.insert(rec); err != nil {
			logger.ErrorCF("calllog", "failed to persist call record", map[string]any{
				"model": rec.Model,
				"error": err.Error(),
			})
			s.dropped.Add(1)
		}
	}
}

func (s *Store) insert(rec Record) error {
	var errField any
	if rec.Err != "" {
		errField = rec.Err
	}
	_, err := s.db.Exec(
		`INSERT INTO llm_calls
			(timestamp, provider, model, caller, prompt, response,
			 input_tokens, output_tokens, cost_estimate, duration_ms, ok, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(TimeLayout),
		rec.Provider,
		rec.Model,
		rec.Caller,
		sanitize(rec.Prompt),
		sanitize(rec.Response),
		clampNonNegative(rec.InputTokens),
		clampNonNegative(rec.OutputTokens),
		maxFloat(rec.CostEstimate, 0),
		rec.Duration.Milliseconds(),
		boolToInt(rec.OK),
		errField,
	)
	return err
}

// sanitize redacts secrets then truncates to the persisted field limit,
// backing off to a rune boundary so the stored text stays valid UTF-8.
func sanitize(text string) string {
	text = redaction.Redact(text)
	if len(text) <= maxFieldChars {
		return text
	}
	cut := maxFieldChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncationMark
}

// EstimateTokens approximates a token count as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateCost computes the USD estimate from registry pricing. Unknown
// models cost 0.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	m, ok := registry.Info(model)
	if !ok {
		return 0
	}
	in := float64(clampNonNegative(inputTokens)) * m.Pricing.InputPerMillion
	out := float64(clampNonNegative(outputTokens)) * m.Pricing.OutputPerMillion
	return (in + out) / 1e6
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func maxFloat(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
