package memory

import (
	"context"
	"crypto/md5"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/llmosd/llmosd/internal/host"
	"github.com/llmosd/llmosd/internal/tokens"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	archivalDBFile         = "archival_storage.db"
	archivalTopK           = 100
	archivalChunkMaxTokens = 8192
)

// Embedder turns text into vectors. The host client satisfies this via
// HostEmbedder; tests substitute deterministic fakes.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// HostEmbedder adapts a host client and a fixed embedding model to the
// Embedder interface.
type HostEmbedder struct {
	Client *host.Client
	Model  string
}

func (h HostEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return h.Client.Embed(ctx, h.Model, input)
}

// SearchResult is one archival hit.
type SearchResult struct {
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

// ArchivalStorage is the per-conversation semantic memory: text is
// chunked, embedded and stored in sqlite; queries run a cosine
// nearest-neighbour scan scoped to one user id.
type ArchivalStorage struct {
	db       *sql.DB
	embedder Embedder
	codec    *tokens.Codec
	topK     int

	mu    sync.Mutex
	count int
	cache map[string][]SearchResult // query cache, invalidated on insert
}

// OpenArchival opens (and migrates) the conversation's archival
// database under dir. The codec sizes chunks for the embedding model.
func OpenArchival(dir string, embedder Embedder, codec *tokens.Codec) (*ArchivalStorage, error) {
	dbPath := filepath.Join(dir, archivalDBFile)

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("migrate archival storage: %w", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return nil, fmt.Errorf("close migration source: %w", srcErr)
	}
	if dbErr != nil {
		return nil, fmt.Errorf("close migration db: %w", dbErr)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open archival storage: %w", err)
	}

	a := &ArchivalStorage{
		db:       db,
		embedder: embedder,
		codec:    codec,
		topK:     archivalTopK,
		cache:    map[string][]SearchResult{},
	}
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM archival_chunks`).Scan(&a.count); err != nil {
		db.Close()
		return nil, fmt.Errorf("count archival chunks: %w", err)
	}
	return a, nil
}

func (a *ArchivalStorage) Close() error { return a.db.Close() }

// Len returns the number of stored chunks.
func (a *ArchivalStorage) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Insert chunks content, embeds each chunk and stores them keyed by the
// md5 of the chunk text. Re-inserting identical content is a no-op.
// Returns the chunk ids.
func (a *ArchivalStorage) Insert(ctx context.Context, userID int, content string) ([]string, error) {
	chunks := SplitText(a.codec, content, archivalChunkMaxTokens)
	if len(chunks) == 0 {
		return nil, nil
	}

	// Dedupe within the batch; identical chunks share an id.
	seen := map[string]bool{}
	uniq := chunks[:0]
	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		sum := md5.Sum([]byte(chunk))
		id := hex.EncodeToString(sum[:])
		ids = append(ids, id)
		if seen[id] {
			continue
		}
		seen[id] = true
		uniq = append(uniq, chunk)
	}

	vectors, err := a.embedder.Embed(ctx, uniq)
	if err != nil {
		return nil, fmt.Errorf("embed archival chunks: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin archival insert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Format("2006-01-02 03:04:05 PM MST-0700")
	inserted := 0
	for i, chunk := range uniq {
		sum := md5.Sum([]byte(chunk))
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO archival_chunks (id, user_id, content, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
			hex.EncodeToString(sum[:]), userID, chunk, encodeVector(vectors[i]), now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert archival chunk: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit archival insert: %w", err)
	}

	a.mu.Lock()
	a.count += inserted
	a.cache = map[string][]SearchResult{}
	a.mu.Unlock()
	return ids, nil
}

// Search embeds the query and returns the requested page of the top-K
// nearest chunks stored for userID, plus the total the index returned.
func (a *ArchivalStorage) Search(ctx context.Context, query string, userID, count, offset int) ([]SearchResult, int, error) {
	key := fmt.Sprintf("%d|%s", userID, query)

	a.mu.Lock()
	retrieved, ok := a.cache[key]
	a.mu.Unlock()

	if !ok {
		var err error
		retrieved, err = a.retrieve(ctx, query, userID)
		if err != nil {
			return nil, 0, err
		}
		a.mu.Lock()
		a.cache[key] = retrieved
		a.mu.Unlock()
	}

	if offset < 0 {
		offset = 0
	}
	if offset > len(retrieved) {
		offset = len(retrieved)
	}
	if count <= 0 {
		count = a.topK
	}
	end := offset + count
	if end > len(retrieved) {
		end = len(retrieved)
	}
	return retrieved[offset:end], len(retrieved), nil
}

type scoredChunk struct {
	result SearchResult
	score  float64
}

func (a *ArchivalStorage) retrieve(ctx context.Context, query string, userID int) ([]SearchResult, error) {
	vectors, err := a.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed archival query: %w", err)
	}
	qv := vectors[0]

	rows, err := a.db.QueryContext(ctx,
		`SELECT content, embedding, created_at FROM archival_chunks WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query archival chunks: %w", err)
	}
	defer rows.Close()

	var scored []scoredChunk
	for rows.Next() {
		var content, createdAt string
		var blob []byte
		if err := rows.Scan(&content, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scan archival chunk: %w", err)
		}
		scored = append(scored, scoredChunk{
			result: SearchResult{Timestamp: createdAt, Content: content},
			score:  cosine(qv, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archival chunks: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > a.topK {
		scored = scored[:a.topK]
	}
	results := make([]SearchResult, len(scored))
	for i, s := range scored {
		results[i] = s.result
	}
	return results, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
