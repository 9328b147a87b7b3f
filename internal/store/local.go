package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/memexhq/memex/internal/chunk"
	memexerrors "github.com/memexhq/memex/internal/errors"
)

// RRFConstant is the reciprocal-rank-fusion smoothing parameter.
// k=60 is the industry-standard value.
const RRFConstant = 60

// overfetchFactor is how many candidates each ranking pass contributes
// relative to the requested result count.
const overfetchFactor = 3

// DefaultDatabaseFileName is the local store file under the source root.
const DefaultDatabaseFileName = "memory_exchange.db"

// ftsReservedChars are stripped from queries before building a MATCH
// expression.
const ftsReservedChars = `"*():^{}~`

// LocalIndex is the embedded SQLite implementation of WriteIndex and
// ReadIndex: a chunks table, an FTS5 inverted index kept in sync by
// triggers, and brute-force cosine scan over blob-stored vectors.
//
// The connection runs in WAL mode so the single writer coexists with
// concurrent readers.
type LocalIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	// keyword, when set, replaces the FTS5 BM25 pass (bleve backend).
	keyword KeywordIndex
}

// Verify interface implementations at compile time.
var (
	_ WriteIndex = (*LocalIndex)(nil)
	_ ReadIndex  = (*LocalIndex)(nil)
)

// NewLocalIndex opens (or creates) the store at path. An empty path opens
// an in-memory store for testing.
func NewLocalIndex(path string) (*LocalIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, memexerrors.StoreError("create database directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, memexerrors.StoreError("open database", err)
	}

	// Single connection: one writer, SQLite handles reader concurrency
	// through WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	// recursive_triggers keeps the FTS sync triggers firing on the
	// implicit delete of INSERT OR REPLACE.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA recursive_triggers = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, memexerrors.StoreError("set pragma", err)
		}
	}

	return &LocalIndex{db: db, path: path}, nil
}

// SetKeywordIndex installs an alternative keyword backend. Must be called
// before indexing so writes are mirrored.
func (s *LocalIndex) SetKeywordIndex(k KeywordIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyword = k
}

// EnsureIndex creates the table, secondary index, FTS5 virtual table, and
// sync triggers. Idempotent and safe on a populated store.
func (s *LocalIndex) EnsureIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return memexerrors.StoreError("index is closed", nil)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id             TEXT PRIMARY KEY,
		source_file    TEXT NOT NULL,
		chunk_index    INTEGER NOT NULL,
		heading_path   TEXT NOT NULL DEFAULT '',
		domain         TEXT NOT NULL DEFAULT 'root',
		content        TEXT NOT NULL,
		tags           TEXT NOT NULL DEFAULT '[]',
		related_files  TEXT NOT NULL DEFAULT '[]',
		is_instruction INTEGER NOT NULL DEFAULT 0,
		embedding      BLOB,
		last_updated   TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_source_file ON chunks(source_file);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		heading_path,
		domain,
		tags,
		content='chunks',
		content_rowid='rowid',
		tokenize='unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, content, heading_path, domain, tags)
		VALUES (new.rowid, new.content, new.heading_path, new.domain, new.tags);
	END;

	CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content, heading_path, domain, tags)
		VALUES ('delete', old.rowid, old.content, old.heading_path, old.domain, old.tags);
	END;

	CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content, heading_path, domain, tags)
		VALUES ('delete', old.rowid, old.content, old.heading_path, old.domain, old.tags);
		INSERT INTO chunks_fts(rowid, content, heading_path, domain, tags)
		VALUES (new.rowid, new.content, new.heading_path, new.domain, new.tags);
	END;
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return memexerrors.StoreError("initialize schema", err)
	}
	return nil
}

// UpsertChunks writes all chunks in one transaction. Any row failure
// rolls back the whole batch.
func (s *LocalIndex) UpsertChunks(ctx context.Context, chunks []*chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return memexerrors.StoreError("index is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memexerrors.StoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, source_file, chunk_index, heading_path, domain, content,
			 tags, related_files, is_instruction, embedding, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return memexerrors.StoreError("prepare upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		tags, err := json.Marshal(emptyIfNil(c.Tags))
		if err != nil {
			return memexerrors.StoreError("marshal tags for "+c.ID, err)
		}
		related, err := json.Marshal(emptyIfNil(c.RelatedFiles))
		if err != nil {
			return memexerrors.StoreError("marshal related files for "+c.ID, err)
		}

		var embedding any
		if len(c.Embedding) > 0 {
			embedding = EncodeVector(c.Embedding)
		}

		_, err = stmt.ExecContext(ctx,
			c.ID, c.SourceFile, c.ChunkIndex, c.HeadingPath, c.Domain, c.Content,
			string(tags), string(related), boolToInt(c.IsInstruction), embedding,
			c.LastUpdated.UTC().Format(time.RFC3339))
		if err != nil {
			return memexerrors.StoreError("upsert chunk "+c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return memexerrors.StoreError("commit upsert", err)
	}

	if s.keyword != nil {
		entries := make([]KeywordEntry, len(chunks))
		for i, c := range chunks {
			entries[i] = KeywordEntry{
				ID:          c.ID,
				Content:     c.Content,
				HeadingPath: c.HeadingPath,
				Domain:      c.Domain,
				Tags:        c.Tags,
			}
		}
		if err := s.keyword.Index(ctx, entries); err != nil {
			return memexerrors.StoreError("mirror chunks into keyword index", err)
		}
	}
	return nil
}

// DeleteChunksForFile removes all chunks for the normalized source path.
func (s *LocalIndex) DeleteChunksForFile(ctx context.Context, sourceFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return memexerrors.StoreError("index is closed", nil)
	}

	sourceFile = chunk.NormalizePath(sourceFile)

	if s.keyword != nil {
		rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE source_file = ?`, sourceFile)
		if err != nil {
			return memexerrors.StoreError("list chunk ids for "+sourceFile, err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return memexerrors.StoreError("scan chunk id", err)
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return memexerrors.StoreError("iterate chunk ids", err)
		}
		if err := s.keyword.Delete(ctx, ids); err != nil {
			return memexerrors.StoreError("delete from keyword index", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE source_file = ?`, sourceFile); err != nil {
		return memexerrors.StoreError("delete chunks for "+sourceFile, err)
	}
	return nil
}

// Search runs the BM25 pass and the vector pass, then fuses the rankings
// with reciprocal rank fusion (k=60).
func (s *LocalIndex) Search(ctx context.Context, query string, queryVector []float32, topK int) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, memexerrors.StoreError("index is closed", nil)
	}
	if topK <= 0 {
		topK = 1
	}
	fetch := topK * overfetchFactor

	keywordRanked, err := s.keywordPass(ctx, query, fetch)
	if err != nil {
		return nil, err
	}

	vectorRanked, err := s.vectorPass(ctx, queryVector, fetch)
	if err != nil {
		return nil, err
	}

	// RRF merge over zero-based ranks; a chunk absent from a list simply
	// contributes nothing from that list.
	scores := make(map[string]float64, len(keywordRanked)+len(vectorRanked))
	for rank, id := range keywordRanked {
		scores[id] += 1.0 / float64(RRFConstant+rank)
	}
	for rank, id := range vectorRanked {
		scores[id] += 1.0 / float64(RRFConstant+rank)
	}
	if len(scores) == 0 {
		return []SearchHit{}, nil
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}

	chunks, err := s.loadChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, SearchHit{Chunk: c, Score: scores[c.ID]})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})

	return hits, nil
}

// keywordPass returns ranked chunk ids from the BM25 ranking, best first.
func (s *LocalIndex) keywordPass(ctx context.Context, query string, fetch int) ([]string, error) {
	if s.keyword != nil {
		hits, err := s.keyword.Search(ctx, query, fetch)
		if err != nil {
			return nil, memexerrors.StoreError("keyword search", err)
		}
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		return ids, nil
	}

	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	// FTS5 bm25() is "lower is better"; ordering ascending puts the best
	// matches first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts)
		LIMIT ?`, ftsQuery, fetch)
	if err != nil {
		// Unparseable MATCH input: deterministic fallback to a LIKE scan.
		if isFTSSyntaxError(err) {
			slog.Debug("fts query rejected, falling back to like scan",
				slog.String("query", query),
				slog.String("error", err.Error()))
			return s.likeFallback(ctx, query, fetch)
		}
		return nil, memexerrors.StoreError("fts search", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, memexerrors.StoreError("scan fts result", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// likeFallback scans content with LIKE, newest first; fusion ranks the ids
// by their position in that order.
func (s *LocalIndex) likeFallback(ctx context.Context, query string, fetch int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM chunks
		WHERE content LIKE ?
		ORDER BY last_updated DESC
		LIMIT ?`, "%"+query+"%", fetch)
	if err != nil {
		return nil, memexerrors.StoreError("like fallback", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, memexerrors.StoreError("scan like result", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// vectorPass brute-force scans stored embeddings and returns the ids of
// the most cosine-similar chunks, best first.
func (s *LocalIndex) vectorPass(ctx context.Context, queryVector []float32, fetch int) ([]string, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, memexerrors.StoreError("load embeddings", err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, memexerrors.StoreError("scan embedding", err)
		}
		candidates = append(candidates, scored{
			id:    id,
			score: CosineSimilarity(queryVector, DecodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, memexerrors.StoreError("iterate embeddings", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > fetch {
		candidates = candidates[:fetch]
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids, nil
}

// loadChunks hydrates full chunk rows for the given ids.
func (s *LocalIndex) loadChunks(ctx context.Context, ids []string) ([]*chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, source_file, chunk_index, heading_path, domain, content,
		       tags, related_files, is_instruction, embedding, last_updated
		FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, memexerrors.StoreError("load chunks", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*chunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// scanChunk converts one chunks row into a chunk.Chunk.
func scanChunk(rows *sql.Rows) (*chunk.Chunk, error) {
	var (
		c           chunk.Chunk
		tagsJSON    string
		relatedJSON string
		instruction int
		blob        []byte
		updated     string
	)

	err := rows.Scan(&c.ID, &c.SourceFile, &c.ChunkIndex, &c.HeadingPath,
		&c.Domain, &c.Content, &tagsJSON, &relatedJSON, &instruction, &blob, &updated)
	if err != nil {
		return nil, memexerrors.StoreError("scan chunk row", err)
	}

	if err := json.Unmarshal([]byte(tagsJSON), &c.Tags); err != nil {
		c.Tags = nil
	}
	if err := json.Unmarshal([]byte(relatedJSON), &c.RelatedFiles); err != nil {
		c.RelatedFiles = nil
	}
	c.IsInstruction = instruction != 0
	c.Embedding = DecodeVector(blob)
	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		c.LastUpdated = t
	}

	return &c, nil
}

// ChunkCount returns the number of indexed chunks, 0 on error.
func (s *LocalIndex) ChunkCount(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// SourceFileCount returns the number of distinct source files, 0 on error.
func (s *LocalIndex) SourceFileCount(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT source_file) FROM chunks`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// LastIndexedTime returns the newest chunk timestamp, nil when empty.
func (s *LocalIndex) LastIndexedTime(ctx context.Context) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var updated sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(last_updated) FROM chunks`).Scan(&updated); err != nil {
		return nil
	}
	if !updated.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, updated.String)
	if err != nil {
		return nil
	}
	return &t
}

// Close checkpoints the WAL and closes the database.
func (s *LocalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.keyword != nil {
		_ = s.keyword.Close()
	}

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// buildFTSQuery sanitizes the raw query and ORs the quoted tokens.
// Returns "" when nothing searchable remains.
func buildFTSQuery(query string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(ftsReservedChars, r) {
			return ' '
		}
		return r
	}, query)

	tokens := strings.Fields(cleaned)
	if len(tokens) == 0 {
		return ""
	}

	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + tok + `"`
	}
	return strings.Join(quoted, " OR ")
}

// isFTSSyntaxError reports whether err is FTS5 rejecting the MATCH input.
func isFTSSyntaxError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "fts5") || strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "malformed match")
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
