package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/database"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/redis"
)

// DefaultIndexWarmTTL bounds how long an index is trusted before it is rebuilt
// from the sheet, which picks up rows edited by hand or written by other instances.
const DefaultIndexWarmTTL = 10 * time.Minute

type roundIndex struct {
	values   map[string]map[string]struct{}
	warmedAt time.Time
	warm     bool
}

func newRoundIndex() *roundIndex {
	return &roundIndex{values: map[string]map[string]struct{}{
		KindEmail:      {},
		KindPhone:      {},
		KindContestant: {},
	}}
}

func (r *roundIndex) add(id Identity) {
	for _, p := range id.pairs() {
		r.values[p[0]][p[1]] = struct{}{}
	}
}

func (r *roundIndex) has(kind, value string) bool {
	if value == "" {
		return false
	}
	_, ok := r.values[kind][value]
	return ok
}

// MemoryIndex keeps the side index in process memory
type MemoryIndex struct {
	mu      sync.RWMutex
	rounds  map[string]*roundIndex
	warmTTL time.Duration
	now     func() time.Time
}

// NewMemoryIndex creates an empty index; warmTTL <= 0 uses DefaultIndexWarmTTL
func NewMemoryIndex(warmTTL time.Duration) *MemoryIndex {
	if warmTTL <= 0 {
		warmTTL = DefaultIndexWarmTTL
	}
	return &MemoryIndex{rounds: make(map[string]*roundIndex), warmTTL: warmTTL, now: time.Now}
}

func (m *MemoryIndex) IsWarm(ctx context.Context, round string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rounds[round]
	if !ok || !r.warm {
		return false, nil
	}
	return m.now().Sub(r.warmedAt) < m.warmTTL, nil
}

func (m *MemoryIndex) Rebuild(ctx context.Context, round string, entries []Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[round]
	if !ok {
		r = newRoundIndex()
		m.rounds[round] = r
	}
	for _, e := range entries {
		r.add(e)
	}
	r.warm = true
	r.warmedAt = m.now()
	return nil
}

func (m *MemoryIndex) Add(ctx context.Context, round string, id Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[round]
	if !ok {
		r = newRoundIndex()
		m.rounds[round] = r
	}
	r.add(id)
	return nil
}

func (m *MemoryIndex) Lookup(ctx context.Context, round string, id Identity) (domain.DuplicateCheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rounds[round]
	if !ok {
		return domain.DuplicateCheckResult{}, nil
	}
	return flagged(
		r.has(KindEmail, id.Email),
		r.has(KindPhone, id.Phone),
		r.has(KindContestant, id.ContestantID),
	), nil
}

// RedisIndex stores one Redis set per (round, kind) plus a warm marker with a TTL
type RedisIndex struct {
	client  *redis.Client
	warmTTL time.Duration
}

// NewRedisIndex creates an index on client
func NewRedisIndex(client *redis.Client, warmTTL time.Duration) *RedisIndex {
	if warmTTL <= 0 {
		warmTTL = DefaultIndexWarmTTL
	}
	return &RedisIndex{client: client, warmTTL: warmTTL}
}

func (r *RedisIndex) setKey(round, kind string) string {
	return r.client.KeyBuilder.KeyDuplicateIndex(round, kind)
}

func (r *RedisIndex) IsWarm(ctx context.Context, round string) (bool, error) {
	n, err := r.client.Exists(ctx, r.client.KeyBuilder.KeyDuplicateWarm(round))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisIndex) Rebuild(ctx context.Context, round string, entries []Identity) error {
	members := map[string][]interface{}{}
	for _, e := range entries {
		for _, p := range e.pairs() {
			members[p[0]] = append(members[p[0]], p[1])
		}
	}

	pipe := r.client.TxPipeline()
	for _, kind := range []string{KindEmail, KindPhone, KindContestant} {
		if len(members[kind]) > 0 {
			pipe.SAdd(ctx, r.setKey(round, kind), members[kind]...)
		}
	}
	pipe.Set(ctx, r.client.KeyBuilder.KeyDuplicateWarm(round), time.Now().Unix(), r.warmTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to rebuild duplicate index: %w", err)
	}
	return nil
}

func (r *RedisIndex) Add(ctx context.Context, round string, id Identity) error {
	for _, p := range id.pairs() {
		if err := r.client.SAdd(ctx, r.setKey(round, p[0]), p[1]); err != nil {
			return fmt.Errorf("failed to index %s: %w", p[0], err)
		}
	}
	return nil
}

func (r *RedisIndex) Lookup(ctx context.Context, round string, id Identity) (domain.DuplicateCheckResult, error) {
	var hits [3]bool
	for i, kv := range [][2]string{
		{KindEmail, id.Email},
		{KindPhone, id.Phone},
		{KindContestant, id.ContestantID},
	} {
		if kv[1] == "" {
			continue
		}
		ok, err := r.client.SIsMember(ctx, r.setKey(round, kv[0]), kv[1])
		if err != nil {
			return domain.DuplicateCheckResult{}, fmt.Errorf("failed to look up %s: %w", kv[0], err)
		}
		hits[i] = ok
	}
	return flagged(hits[0], hits[1], hits[2]), nil
}

// PostgresIndex keeps the side index in the checkin_index table
type PostgresIndex struct {
	db      database.Querier
	warmTTL time.Duration
	now     func() time.Time
}

// NewPostgresIndex creates an index on db; the schema comes from database.EnsureSchema
func NewPostgresIndex(db database.Querier, warmTTL time.Duration) *PostgresIndex {
	if warmTTL <= 0 {
		warmTTL = DefaultIndexWarmTTL
	}
	return &PostgresIndex{db: db, warmTTL: warmTTL, now: time.Now}
}

func (p *PostgresIndex) IsWarm(ctx context.Context, round string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM checkin_index_state
			WHERE round = $1 AND warmed_at > $2
		)
	`
	var warm bool
	if err := p.db.QueryRow(ctx, query, round, p.now().Add(-p.warmTTL)).Scan(&warm); err != nil {
		return false, fmt.Errorf("failed to read index state: %w", err)
	}
	return warm, nil
}

func (p *PostgresIndex) Rebuild(ctx context.Context, round string, entries []Identity) error {
	var kinds, values []string
	for _, e := range entries {
		for _, pair := range e.pairs() {
			kinds = append(kinds, pair[0])
			values = append(values, pair[1])
		}
	}

	if len(kinds) > 0 {
		query := `
			INSERT INTO checkin_index (round, kind, value)
			SELECT $1, k, v FROM unnest($2::text[], $3::text[]) AS t(k, v)
			ON CONFLICT DO NOTHING
		`
		if _, err := p.db.Exec(ctx, query, round, kinds, values); err != nil {
			return fmt.Errorf("failed to fill duplicate index: %w", err)
		}
	}

	// The warm marker goes last so a partial rebuild stays cold
	query := `
		INSERT INTO checkin_index_state (round, warmed_at) VALUES ($1, $2)
		ON CONFLICT (round) DO UPDATE SET warmed_at = EXCLUDED.warmed_at
	`
	if _, err := p.db.Exec(ctx, query, round, p.now()); err != nil {
		return fmt.Errorf("failed to mark duplicate index warm: %w", err)
	}
	return nil
}

func (p *PostgresIndex) Add(ctx context.Context, round string, id Identity) error {
	pairs := id.pairs()
	if len(pairs) == 0 {
		return nil
	}

	args := []any{round}
	rows := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		args = append(args, pair[0], pair[1])
		rows = append(rows, fmt.Sprintf("($1, $%d, $%d)", len(args)-1, len(args)))
	}

	query := `INSERT INTO checkin_index (round, kind, value) VALUES ` +
		strings.Join(rows, ", ") + ` ON CONFLICT DO NOTHING`
	if _, err := p.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to index submission: %w", err)
	}
	return nil
}

func (p *PostgresIndex) Lookup(ctx context.Context, round string, id Identity) (domain.DuplicateCheckResult, error) {
	query := `
		SELECT
			EXISTS (SELECT 1 FROM checkin_index WHERE round = $1 AND kind = 'email' AND value = $2),
			EXISTS (SELECT 1 FROM checkin_index WHERE round = $1 AND kind = 'phone' AND value = $3),
			$4 <> '' AND EXISTS (SELECT 1 FROM checkin_index WHERE round = $1 AND kind = 'contestant' AND value = $4)
	`
	var email, phone, contestant bool
	err := p.db.QueryRow(ctx, query, round, id.Email, id.Phone, id.ContestantID).Scan(&email, &phone, &contestant)
	if err != nil {
		return domain.DuplicateCheckResult{}, fmt.Errorf("failed to look up duplicate index: %w", err)
	}
	return flagged(email && id.Email != "", phone && id.Phone != "", contestant), nil
}

// flagged builds a result with the submitter-facing message for the collided fields
func flagged(email, phone, contestant bool) domain.DuplicateCheckResult {
	res := domain.DuplicateCheckResult{Email: email, Phone: phone, ContestantID: contestant}
	res.IsDuplicate = email || phone || contestant
	res.Message = duplicateMessage(res)
	return res
}

func duplicateMessage(res domain.DuplicateCheckResult) string {
	var names []string
	if res.Email {
		names = append(names, "email")
	}
	if res.Phone {
		names = append(names, "số điện thoại")
	}
	if res.ContestantID {
		names = append(names, "mã thí sinh")
	}
	if len(names) == 0 {
		return ""
	}

	subject := names[0]
	if len(names) > 1 {
		subject = strings.Join(names[:len(names)-1], ", ") + " và " + names[len(names)-1]
	}
	return upperFirst(subject) + " này đã được dùng để check-in cho sự kiện này."
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
