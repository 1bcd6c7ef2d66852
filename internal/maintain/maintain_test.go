package maintain

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deal-radar/internal/platform"
	"deal-radar/internal/storage"
)

type stubStore struct {
	ids       []string
	hardDead  []string
	mediaDead []string
	mark      *time.Time

	deleted      [][]string
	deletedOld   []int
	added        [][]string
	markWrites   []time.Time
	countErr     error
	collectCalls int
}

func (s *stubStore) ListItemIDs(ctx context.Context, platformID int64) ([]string, error) {
	return append([]string(nil), s.ids...), nil
}

func (s *stubStore) CountItems(ctx context.Context, platformID int64) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return int64(len(s.ids)), nil
}

func (s *stubStore) AddItems(ctx context.Context, platformID int64, externalIDs []string) (int64, error) {
	s.added = append(s.added, externalIDs)
	s.ids = append(s.ids, externalIDs...)
	return int64(len(externalIDs)), nil
}

func (s *stubStore) DeleteItems(ctx context.Context, platformID int64, externalIDs []string) (int64, error) {
	s.deleted = append(s.deleted, externalIDs)
	remaining := s.ids[:0]
	drop := make(map[string]struct{}, len(externalIDs))
	for _, id := range externalIDs {
		drop[id] = struct{}{}
	}
	for _, id := range s.ids {
		if _, gone := drop[id]; !gone {
			remaining = append(remaining, id)
		}
	}
	s.ids = remaining
	return int64(len(externalIDs)), nil
}

func (s *stubStore) DeleteOldest(ctx context.Context, platformID int64, n int) (int64, error) {
	s.deletedOld = append(s.deletedOld, n)
	if n > len(s.ids) {
		n = len(s.ids)
	}
	s.ids = s.ids[n:]
	return int64(n), nil
}

func (s *stubStore) ListHardDead(ctx context.Context, platformID int64, threshold int, reasons []string) ([]string, error) {
	return s.hardDead, nil
}

func (s *stubStore) ListMediaDead(ctx context.Context, platformID int64, threshold int) ([]string, error) {
	return s.mediaDead, nil
}

func (s *stubStore) ListRecentItems(ctx context.Context, platformID int64, limit int) ([]storage.Item, error) {
	return nil, nil
}

func (s *stubStore) GetItem(ctx context.Context, platformID int64, externalID string) (*storage.Item, error) {
	return nil, nil
}

func (s *stubStore) RotationMark(ctx context.Context, platformID int64) (*time.Time, error) {
	return s.mark, nil
}

func (s *stubStore) SetRotationMark(ctx context.Context, platformID int64, at time.Time) error {
	s.markWrites = append(s.markWrites, at)
	s.mark = &at
	return nil
}

type stubCollector struct {
	found []string
	calls int
}

func (c *stubCollector) Collect(ctx context.Context, code platform.Code, queries []string, target int) ([]string, error) {
	c.calls++
	if len(c.found) > target {
		return c.found[:target], nil
	}
	return c.found, nil
}

func seedIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
	}
	return ids
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func testOptions() Options {
	return Options{
		Platform:           platform.Wildberries,
		TargetCount:        10,
		HardDeathThreshold: 3,
		SoftDeathThreshold: 3,
		RotationPeriod:     7 * 24 * time.Hour,
		RotationFraction:   0.2,
		RefillAttempts:     3,
		Now:                fixedNow,
	}
}

func TestRunSweepsDeadItems(t *testing.T) {
	store := &stubStore{
		ids:       seedIDs(10),
		hardDead:  []string{"a-0"},
		mediaDead: []string{"b-0"},
		mark:      ptrTime(fixedNow().Add(-time.Hour)),
	}
	collector := &stubCollector{found: seedIDs(30)}

	m := NewMaintainer(store, collector, testOptions(), zerolog.Nop())
	m.Run(context.Background(), 1, []string{"toys"})

	if len(store.deleted) != 2 {
		t.Fatalf("应执行两类死亡清理, 实际 %d", len(store.deleted))
	}
	if store.deleted[0][0] != "a-0" || store.deleted[1][0] != "b-0" {
		t.Fatalf("清理对象不正确: %v", store.deleted)
	}
}

func TestRunRotationWhenDue(t *testing.T) {
	stale := fixedNow().Add(-8 * 24 * time.Hour)
	store := &stubStore{ids: seedIDs(10), mark: &stale}
	collector := &stubCollector{found: seedIDs(30)}

	m := NewMaintainer(store, collector, testOptions(), zerolog.Nop())
	m.Run(context.Background(), 1, []string{"toys"})

	if len(store.deletedOld) != 1 || store.deletedOld[0] != 2 {
		t.Fatalf("应轮换 20%% 即 2 件, 实际 %v", store.deletedOld)
	}
	if collector.calls == 0 {
		t.Fatal("轮换后应补充商品")
	}
	if len(store.ids) != 10 {
		t.Fatalf("补充后应恢复到目标数量, 实际 %d", len(store.ids))
	}
	if len(store.markWrites) != 1 || !store.markWrites[0].Equal(fixedNow()) {
		t.Fatalf("达到目标后应刷新轮换标记, 实际 %v", store.markWrites)
	}
}

func TestRunRotationSkippedWhenFresh(t *testing.T) {
	fresh := fixedNow().Add(-time.Hour)
	store := &stubStore{ids: seedIDs(10), mark: &fresh}
	collector := &stubCollector{found: seedIDs(30)}

	m := NewMaintainer(store, collector, testOptions(), zerolog.Nop())
	m.Run(context.Background(), 1, []string{"toys"})

	if len(store.deletedOld) != 0 {
		t.Fatalf("周期内不应轮换, 实际 %v", store.deletedOld)
	}
}

func TestRefillMarkWithheldBelowTarget(t *testing.T) {
	store := &stubStore{ids: seedIDs(4)}
	collector := &stubCollector{found: seedIDs(4)} // only duplicates

	m := NewMaintainer(store, collector, testOptions(), zerolog.Nop())
	m.Run(context.Background(), 1, []string{"toys"})

	if collector.calls != 3 {
		t.Fatalf("补充应按上限重试 3 次, 实际 %d", collector.calls)
	}
	if len(store.markWrites) != 0 {
		t.Fatalf("未达目标时不应写轮换标记, 实际 %v", store.markWrites)
	}
}

func TestRefillDedupesAndCapsAtTarget(t *testing.T) {
	store := &stubStore{ids: seedIDs(6), mark: ptrTime(fixedNow().Add(-time.Hour))}
	collector := &stubCollector{found: seedIDs(40)}

	m := NewMaintainer(store, collector, testOptions(), zerolog.Nop())
	m.Run(context.Background(), 1, []string{"toys"})

	if len(store.ids) != 10 {
		t.Fatalf("补充后应恰好达到目标, 实际 %d", len(store.ids))
	}
	for _, batch := range store.added {
		for _, id := range batch {
			for _, existing := range seedIDs(6) {
				if id == existing {
					t.Fatalf("不应重复插入已跟踪的商品: %s", id)
				}
			}
		}
	}
}

func TestRotationRecursAfterPeriod(t *testing.T) {
	start := fixedNow()
	now := start
	opts := testOptions()
	opts.Now = func() time.Time { return now }

	store := &stubStore{ids: seedIDs(10)}
	collector := &stubCollector{found: seedIDs(30)}
	m := NewMaintainer(store, collector, opts, zerolog.Nop())

	for _, day := range []int{0, 6, 12} {
		now = start.Add(time.Duration(day) * 24 * time.Hour)
		m.Run(context.Background(), 1, []string{"toys"})
	}

	if len(store.deletedOld) != 2 {
		t.Fatalf("首次及满周期后各应轮换一次, 实际轮换 %d 次", len(store.deletedOld))
	}
	if len(store.markWrites) != 2 {
		t.Fatalf("仅轮换后的补充应刷新标记, 实际 %v", store.markWrites)
	}
	if !store.markWrites[0].Equal(start) || !store.markWrites[1].Equal(start.Add(12*24*time.Hour)) {
		t.Fatalf("标记时间不正确: %v", store.markWrites)
	}
}

func TestRotationEvictsAtLeastOne(t *testing.T) {
	stale := fixedNow().Add(-8 * 24 * time.Hour)
	store := &stubStore{ids: seedIDs(3), mark: &stale}
	collector := &stubCollector{found: seedIDs(30)}

	opts := testOptions()
	opts.TargetCount = 3

	m := NewMaintainer(store, collector, opts, zerolog.Nop())
	m.Run(context.Background(), 1, []string{"toys"})

	if len(store.deletedOld) != 1 || store.deletedOld[0] != 1 {
		t.Fatalf("目标很小时仍应至少轮换 1 件, 实际 %v", store.deletedOld)
	}
}

func TestRefillNoQueriesIsNoop(t *testing.T) {
	store := &stubStore{ids: seedIDs(4)}
	collector := &stubCollector{found: seedIDs(40)}

	m := NewMaintainer(store, collector, testOptions(), zerolog.Nop())
	m.Run(context.Background(), 1, nil)

	if collector.calls != 0 {
		t.Fatalf("无查询词时不应补充, 实际调用 %d 次", collector.calls)
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
