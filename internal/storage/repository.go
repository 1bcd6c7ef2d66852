package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	selectPlatformSQL = `SELECT id, code, name FROM platforms WHERE code = $1;`

	insertPlatformSQL = `INSERT INTO platforms (code, name) VALUES ($1, $2)
    ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
    RETURNING id, code, name;`

	listItemIDsSQL = `SELECT external_id FROM items
    WHERE platform_id = $1
    ORDER BY created_at, id;`

	countItemsSQL = `SELECT COUNT(*) FROM items WHERE platform_id = $1;`

	addItemsSQL = `INSERT INTO items (platform_id, external_id)
    SELECT $1, unnest($2::text[])
    ON CONFLICT (platform_id, external_id) DO NOTHING;`

	deleteItemsSQL = `DELETE FROM items
    WHERE platform_id = $1 AND external_id = ANY($2::text[]);`

	deleteOldestSQL = `DELETE FROM items
    WHERE id IN (
        SELECT id FROM items
        WHERE platform_id = $1
        ORDER BY created_at, id
        LIMIT $2
    );`

	listHardDeadSQL = `SELECT external_id FROM items
    WHERE platform_id = $1
      AND dead_fail_count >= $2
      AND last_dead_reason = ANY($3::text[]);`

	listMediaDeadSQL = `SELECT external_id FROM items
    WHERE platform_id = $1 AND media_fail_count >= $2;`

	itemColumns = `id, platform_id, external_id, title, url,
        current_price, old_price, discount, stock, rating, last_seen_at,
        observation_count, stable, baseline_price, baseline_discount, baseline_set_at,
        dead_fail_count, last_dead_reason, media_fail_count, created_at`

	selectItemSQL = `SELECT ` + itemColumns + ` FROM items
    WHERE platform_id = $1 AND external_id = $2;`

	selectItemsSQL = `SELECT ` + itemColumns + ` FROM items
    WHERE platform_id = $1 AND external_id = ANY($2::text[]);`

	listRecentItemsSQL = `SELECT ` + itemColumns + ` FROM items
    WHERE platform_id = $1
    ORDER BY last_seen_at DESC NULLS LAST, id DESC
    LIMIT $2;`

	insertItemSQL = `INSERT INTO items (
        platform_id, external_id, title, url,
        current_price, old_price, discount, stock, rating, last_seen_at,
        observation_count, stable, baseline_price, baseline_discount, baseline_set_at,
        dead_fail_count, last_dead_reason, media_fail_count
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
    )
    ON CONFLICT (platform_id, external_id) DO UPDATE SET
        title             = EXCLUDED.title,
        url               = EXCLUDED.url,
        current_price     = EXCLUDED.current_price,
        old_price         = EXCLUDED.old_price,
        discount          = EXCLUDED.discount,
        stock             = EXCLUDED.stock,
        rating            = EXCLUDED.rating,
        last_seen_at      = EXCLUDED.last_seen_at,
        observation_count = EXCLUDED.observation_count,
        stable            = EXCLUDED.stable,
        baseline_price    = EXCLUDED.baseline_price,
        baseline_discount = EXCLUDED.baseline_discount,
        baseline_set_at   = EXCLUDED.baseline_set_at,
        dead_fail_count   = EXCLUDED.dead_fail_count,
        last_dead_reason  = EXCLUDED.last_dead_reason,
        media_fail_count  = EXCLUDED.media_fail_count
    RETURNING id, created_at;`

	insertSnapshotSQL = `INSERT INTO snapshots (
        item_id, price, old_price, discount, stock, rating, observed_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7);`

	listSnapshotsSQL = `SELECT id, item_id, price, old_price, discount, stock, rating, observed_at
    FROM snapshots
    WHERE item_id = $1 AND observed_at >= $2 AND observed_at < $3
    ORDER BY observed_at;`

	bumpMediaFailSQL = `UPDATE items
    SET media_fail_count = media_fail_count + 1
    WHERE platform_id = $1 AND external_id = $2
    RETURNING media_fail_count;`

	resetMediaFailSQL = `UPDATE items
    SET media_fail_count = 0
    WHERE platform_id = $1 AND external_id = $2;`

	allSettingsSQL = `SELECT key, value FROM settings;`

	upsertSettingSQL = `INSERT INTO settings (key, value) VALUES ($1, $2)
    ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value;`

	selectRotationMarkSQL = `SELECT rotated_at FROM rotation_marks WHERE platform_id = $1;`

	upsertRotationMarkSQL = `INSERT INTO rotation_marks (platform_id, rotated_at)
    VALUES ($1, $2)
    ON CONFLICT (platform_id) DO UPDATE SET rotated_at = EXCLUDED.rotated_at;`
)

// PlatformStore manages the platform registry.
type PlatformStore interface {
	EnsurePlatform(ctx context.Context, code, name string) (Platform, error)
}

// ItemStore defines non-transactional item operations.
type ItemStore interface {
	ListItemIDs(ctx context.Context, platformID int64) ([]string, error)
	CountItems(ctx context.Context, platformID int64) (int64, error)
	AddItems(ctx context.Context, platformID int64, externalIDs []string) (int64, error)
	DeleteItems(ctx context.Context, platformID int64, externalIDs []string) (int64, error)
	DeleteOldest(ctx context.Context, platformID int64, n int) (int64, error)
	ListHardDead(ctx context.Context, platformID int64, threshold int, reasons []string) ([]string, error)
	ListMediaDead(ctx context.Context, platformID int64, threshold int) ([]string, error)
	ListRecentItems(ctx context.Context, platformID int64, limit int) ([]Item, error)
	GetItem(ctx context.Context, platformID int64, externalID string) (*Item, error)
}

// SnapshotStore exposes history reads; writes happen only inside a CycleTx.
type SnapshotStore interface {
	ListSnapshotsBetween(ctx context.Context, itemID int64, from, to time.Time) ([]Snapshot, error)
}

// SettingStore persists dynamic runtime settings.
type SettingStore interface {
	AllSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// RotationStore persists per-platform rotation markers.
type RotationStore interface {
	RotationMark(ctx context.Context, platformID int64) (*time.Time, error)
	SetRotationMark(ctx context.Context, platformID int64, at time.Time) error
}

// CycleStore opens the transactional unit covering one cycle's tracking and
// publish bookkeeping writes.
type CycleStore interface {
	BeginCycle(ctx context.Context) (CycleTx, error)
}

// CycleTx is the per-cycle transactional unit. All writes through it commit
// or roll back together.
type CycleTx interface {
	Items(ctx context.Context, platformID int64, externalIDs []string) (map[string]*Item, error)
	SaveItem(ctx context.Context, item *Item) error
	AppendSnapshot(ctx context.Context, snap Snapshot) error
	BumpMediaFail(ctx context.Context, platformID int64, externalID string) (int, error)
	ResetMediaFail(ctx context.Context, platformID int64, externalID string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store aggregates access to all persisted entities.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsurePlatform fetches the platform row, creating it on first use.
func (s *Store) EnsurePlatform(ctx context.Context, code, name string) (Platform, error) {
	pool, err := s.getPool()
	if err != nil {
		return Platform{}, err
	}

	var p Platform
	scanErr := pool.QueryRow(ctx, selectPlatformSQL, code).Scan(&p.ID, &p.Code, &p.Name)
	if scanErr == nil {
		return p, nil
	}
	if !errors.Is(scanErr, pgx.ErrNoRows) {
		return Platform{}, fmt.Errorf("select platform: %w", scanErr)
	}

	if err := pool.QueryRow(ctx, insertPlatformSQL, code, name).Scan(&p.ID, &p.Code, &p.Name); err != nil {
		return Platform{}, fmt.Errorf("insert platform: %w", err)
	}
	return p, nil
}

// ListItemIDs returns external ids for a platform in creation order.
func (s *Store) ListItemIDs(ctx context.Context, platformID int64) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listItemIDsSQL, platformID)
	if queryErr != nil {
		return nil, fmt.Errorf("list item ids: %w", queryErr)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountItems counts tracked items for a platform.
func (s *Store) CountItems(ctx context.Context, platformID int64) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countItemsSQL, platformID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count items: %w", scanErr)
	}
	return count, nil
}

// AddItems inserts skeleton rows for newly discovered identifiers, skipping
// ones already tracked. Returns the number actually added.
func (s *Store) AddItems(ctx context.Context, platformID int64, externalIDs []string) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, addItemsSQL, platformID, externalIDs)
	if execErr != nil {
		return 0, fmt.Errorf("add items: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// DeleteItems removes the given items; snapshots cascade.
func (s *Store) DeleteItems(ctx context.Context, platformID int64, externalIDs []string) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteItemsSQL, platformID, externalIDs)
	if execErr != nil {
		return 0, fmt.Errorf("delete items: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// DeleteOldest evicts the n oldest items by creation order.
func (s *Store) DeleteOldest(ctx context.Context, platformID int64, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteOldestSQL, platformID, n)
	if execErr != nil {
		return 0, fmt.Errorf("delete oldest: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// ListHardDead lists items whose fatal-not-found counter reached threshold
// with a reason from the fatal set.
func (s *Store) ListHardDead(ctx context.Context, platformID int64, threshold int, reasons []string) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listHardDeadSQL, platformID, threshold, reasons)
	if queryErr != nil {
		return nil, fmt.Errorf("list hard dead: %w", queryErr)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListMediaDead lists items whose media-failure counter reached threshold.
func (s *Store) ListMediaDead(ctx context.Context, platformID int64, threshold int) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listMediaDeadSQL, platformID, threshold)
	if queryErr != nil {
		return nil, fmt.Errorf("list media dead: %w", queryErr)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListRecentItems lists recently observed items for display purposes.
func (s *Store) ListRecentItems(ctx context.Context, platformID int64, limit int) ([]Item, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentItemsSQL, platformID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent items: %w", queryErr)
	}
	defer rows.Close()

	items := make([]Item, 0, limit)
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// GetItem fetches a single item, nil when untracked.
func (s *Store) GetItem(ctx context.Context, platformID int64, externalID string) (*Item, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, selectItemSQL, platformID, externalID)
	if queryErr != nil {
		return nil, fmt.Errorf("get item: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanItem(rows)
}

// ListSnapshotsBetween lists one item's history inside a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, itemID int64, from, to time.Time) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listSnapshotsSQL, itemID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]Snapshot, 0)
	for rows.Next() {
		var (
			snap     Snapshot
			price    sql.NullString
			oldPrice sql.NullString
			discount sql.NullFloat64
			stock    sql.NullInt64
			rating   sql.NullFloat64
		)
		if err := rows.Scan(&snap.ID, &snap.ItemID, &price, &oldPrice, &discount, &stock, &rating, &snap.ObservedAt); err != nil {
			return nil, err
		}
		snap.Price, err = nullDecimal(price)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot price: %w", err)
		}
		snap.OldPrice, err = nullDecimal(oldPrice)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot old price: %w", err)
		}
		snap.Discount = nullFloat(discount)
		snap.Stock = nullInt(stock)
		snap.Rating = nullFloat(rating)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// AllSettings loads the settings table as a map.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, allSettingsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load settings: %w", queryErr)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

// SetSetting writes one setting value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertSettingSQL, key, value); execErr != nil {
		return fmt.Errorf("set setting: %w", execErr)
	}
	return nil
}

// RotationMark reads the platform's last rotation time, nil when never set.
func (s *Store) RotationMark(ctx context.Context, platformID int64) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var at time.Time
	scanErr := pool.QueryRow(ctx, selectRotationMarkSQL, platformID).Scan(&at)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read rotation mark: %w", scanErr)
	}
	return &at, nil
}

// SetRotationMark records a completed rotation.
func (s *Store) SetRotationMark(ctx context.Context, platformID int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertRotationMarkSQL, platformID, at); execErr != nil {
		return fmt.Errorf("set rotation mark: %w", execErr)
	}
	return nil
}

// BeginCycle opens the cycle transaction.
func (s *Store) BeginCycle(ctx context.Context) (CycleTx, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	tx, beginErr := pool.Begin(ctx)
	if beginErr != nil {
		return nil, fmt.Errorf("begin cycle tx: %w", beginErr)
	}
	return &cycleTx{tx: tx}, nil
}

type cycleTx struct {
	tx pgx.Tx
}

func (c *cycleTx) Items(ctx context.Context, platformID int64, externalIDs []string) (map[string]*Item, error) {
	if len(externalIDs) == 0 {
		return map[string]*Item{}, nil
	}
	rows, err := c.tx.Query(ctx, selectItemsSQL, platformID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	items := make(map[string]*Item, len(externalIDs))
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items[item.ExternalID] = item
	}
	return items, rows.Err()
}

func (c *cycleTx) SaveItem(ctx context.Context, item *Item) error {
	err := c.tx.QueryRow(ctx, insertItemSQL,
		item.PlatformID,
		item.ExternalID,
		item.Title,
		item.URL,
		decimalArg(item.CurrentPrice),
		decimalArg(item.OldPrice),
		item.Discount,
		item.Stock,
		item.Rating,
		item.LastSeenAt,
		item.ObservationCount,
		item.Stable,
		decimalArg(item.BaselinePrice),
		item.BaselineDiscount,
		item.BaselineSetAt,
		item.DeadFailCount,
		item.LastDeadReason,
		item.MediaFailCount,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	return nil
}

func (c *cycleTx) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := c.tx.Exec(ctx, insertSnapshotSQL,
		snap.ItemID,
		decimalArg(snap.Price),
		decimalArg(snap.OldPrice),
		snap.Discount,
		snap.Stock,
		snap.Rating,
		snap.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

func (c *cycleTx) BumpMediaFail(ctx context.Context, platformID int64, externalID string) (int, error) {
	var count int
	err := c.tx.QueryRow(ctx, bumpMediaFailSQL, platformID, externalID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("bump media fail: %w", err)
	}
	return count, nil
}

func (c *cycleTx) ResetMediaFail(ctx context.Context, platformID int64, externalID string) error {
	if _, err := c.tx.Exec(ctx, resetMediaFailSQL, platformID, externalID); err != nil {
		return fmt.Errorf("reset media fail: %w", err)
	}
	return nil
}

func (c *cycleTx) Commit(ctx context.Context) error {
	return c.tx.Commit(ctx)
}

func (c *cycleTx) Rollback(ctx context.Context) error {
	err := c.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanItem(rows pgx.Rows) (*Item, error) {
	var (
		item             Item
		currentPrice     sql.NullString
		oldPrice         sql.NullString
		discount         sql.NullFloat64
		stock            sql.NullInt64
		rating           sql.NullFloat64
		lastSeenAt       sql.NullTime
		baselinePrice    sql.NullString
		baselineDiscount sql.NullFloat64
		baselineSetAt    sql.NullTime
	)

	if err := rows.Scan(
		&item.ID,
		&item.PlatformID,
		&item.ExternalID,
		&item.Title,
		&item.URL,
		&currentPrice,
		&oldPrice,
		&discount,
		&stock,
		&rating,
		&lastSeenAt,
		&item.ObservationCount,
		&item.Stable,
		&baselinePrice,
		&baselineDiscount,
		&baselineSetAt,
		&item.DeadFailCount,
		&item.LastDeadReason,
		&item.MediaFailCount,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	item.CurrentPrice, err = nullDecimal(currentPrice)
	if err != nil {
		return nil, fmt.Errorf("parse current price: %w", err)
	}
	item.OldPrice, err = nullDecimal(oldPrice)
	if err != nil {
		return nil, fmt.Errorf("parse old price: %w", err)
	}
	item.BaselinePrice, err = nullDecimal(baselinePrice)
	if err != nil {
		return nil, fmt.Errorf("parse baseline price: %w", err)
	}

	item.Discount = nullFloat(discount)
	item.Stock = nullInt(stock)
	item.Rating = nullFloat(rating)
	item.BaselineDiscount = nullFloat(baselineDiscount)

	if lastSeenAt.Valid {
		t := lastSeenAt.Time
		item.LastSeenAt = &t
	}
	if baselineSetAt.Valid {
		t := baselineSetAt.Time
		item.BaselineSetAt = &t
	}

	return &item, nil
}

func nullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

var (
	_ PlatformStore = (*Store)(nil)
	_ ItemStore     = (*Store)(nil)
	_ SnapshotStore = (*Store)(nil)
	_ SettingStore  = (*Store)(nil)
	_ RotationStore = (*Store)(nil)
	_ CycleStore    = (*Store)(nil)
)
