package tracker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"deal-radar/internal/source"
)

func testTracker(threshold int) *Tracker {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return New(Options{
		StabilityThreshold: threshold,
		Now:                func() time.Time { return base },
	})
}

func completeObs(id string, price, oldPrice float64) source.Observation {
	return source.Observation{
		ExternalID: id,
		Title:      "item " + id,
		Price:      decimal.NewFromFloat(price),
		OldPrice:   decimal.NewFromFloat(oldPrice),
	}
}

func TestApplyNewItemStartsUnstable(t *testing.T) {
	trk := testTracker(2)

	r := trk.Apply(1, nil, completeObs("A", 100, 150))
	if !r.IsNew {
		t.Fatal("首次观察应标记为新商品")
	}
	if r.Item.Stable {
		t.Fatal("新商品不应立即稳定")
	}
	if r.Item.ObservationCount != 1 {
		t.Fatalf("完整观察应计数 1, 实际 %d", r.Item.ObservationCount)
	}
	if r.Snapshot != nil {
		t.Fatal("新商品不应生成快照")
	}
	if r.Item.BaselinePrice != nil {
		t.Fatal("稳定前不应设定基线")
	}
}

func TestApplyIncompleteObservationDoesNotCount(t *testing.T) {
	trk := testTracker(2)

	obs := source.Observation{ExternalID: "A", Price: decimal.NewFromInt(100)}
	r := trk.Apply(1, nil, obs)
	if r.Item.ObservationCount != 0 {
		t.Fatalf("缺少 old_price 的观察不应计数, 实际 %d", r.Item.ObservationCount)
	}

	r2 := trk.Apply(1, r.Item, obs)
	if r2.Item.ObservationCount != 0 {
		t.Fatalf("不完整观察不应推进计数, 实际 %d", r2.Item.ObservationCount)
	}
	if r2.Item.Stable {
		t.Fatal("不完整观察不应触发稳定")
	}
}

func TestApplyStabilizeWithoutPriceLeavesBaselineUnset(t *testing.T) {
	trk := testTracker(3)

	r := trk.Apply(1, nil, completeObs("A", 100, 150))
	r2 := trk.Apply(1, r.Item, completeObs("A", 100, 150))
	if r2.Item.Stable {
		t.Fatal("第二次观察后尚不应稳定")
	}

	// Lowered threshold picked up on the next cycle via a fresh tracker.
	stock := int64(5)
	obs := source.Observation{ExternalID: "A", Stock: &stock}
	r3 := testTracker(2).Apply(1, r2.Item, obs)
	if !r3.JustStabilized {
		t.Fatal("降低阈值后应在本轮稳定")
	}
	if r3.Item.BaselinePrice != nil {
		t.Fatalf("无价格观察触发稳定时不应设定基线价格, 实际 %s", r3.Item.BaselinePrice)
	}
}

func TestApplyStabilizesAtThresholdWithoutChanges(t *testing.T) {
	trk := testTracker(2)

	r := trk.Apply(1, nil, completeObs("A", 100, 150))
	r2 := trk.Apply(1, r.Item, completeObs("A", 90, 150))

	if !r2.JustStabilized {
		t.Fatal("第二次完整观察应触发稳定")
	}
	if len(r2.Changes) != 0 {
		t.Fatalf("稳定当轮不应产生变化事件, 实际 %d", len(r2.Changes))
	}
	if r2.Item.BaselinePrice == nil || !r2.Item.BaselinePrice.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("基线应钉在稳定当轮的价格 90, 实际 %v", r2.Item.BaselinePrice)
	}
}

func TestApplyDetectsPriceChangeAndAdvancesBaseline(t *testing.T) {
	trk := testTracker(2)

	r := trk.Apply(1, nil, completeObs("A", 100, 150))
	r = trk.Apply(1, r.Item, completeObs("A", 100, 150))
	r = trk.Apply(1, r.Item, completeObs("A", 80, 150))

	if len(r.Changes) != 1 {
		t.Fatalf("降价应产生一个变化事件, 实际 %d", len(r.Changes))
	}
	c := r.Changes[0]
	if c.Field != FieldPrice {
		t.Fatalf("变化字段应为 price, 实际 %s", c.Field)
	}
	if !c.Old.Equal(decimal.NewFromInt(100)) || !c.New.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("变化应为 100 -> 80, 实际 %s -> %s", c.Old, c.New)
	}
	if !r.Item.BaselinePrice.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("基线应推进到 80, 实际 %s", r.Item.BaselinePrice)
	}

	// Same price again must stay silent: the edge already advanced.
	r = trk.Apply(1, r.Item, completeObs("A", 80, 150))
	if len(r.Changes) != 0 {
		t.Fatalf("无价格变化时不应重复告警, 实际 %d", len(r.Changes))
	}
}

func TestApplyDiscountDeadBand(t *testing.T) {
	trk := testTracker(2)

	withDiscount := func(price float64, discount float64) source.Observation {
		obs := completeObs("A", price, 200)
		obs.Discount = &discount
		return obs
	}

	r := trk.Apply(1, nil, withDiscount(100, 50))
	r = trk.Apply(1, r.Item, withDiscount(100, 50))

	// Below the dead band: no event, baseline stays.
	r = trk.Apply(1, r.Item, withDiscount(100, 50.5))
	if len(r.Changes) != 0 {
		t.Fatalf("死区内的折扣波动不应告警, 实际 %d", len(r.Changes))
	}
	if *r.Item.BaselineDiscount != 50 {
		t.Fatalf("死区内基线不应推进, 实际 %v", *r.Item.BaselineDiscount)
	}

	r = trk.Apply(1, r.Item, withDiscount(100, 52))
	if len(r.Changes) != 1 || r.Changes[0].Field != FieldDiscount {
		t.Fatalf("超出死区的折扣变化应告警, 实际 %v", r.Changes)
	}
	if *r.Item.BaselineDiscount != 52 {
		t.Fatalf("折扣基线应推进到 52, 实际 %v", *r.Item.BaselineDiscount)
	}
}

func TestApplyStabilityNeverReverts(t *testing.T) {
	trk := testTracker(2)

	r := trk.Apply(1, nil, completeObs("A", 100, 150))
	r = trk.Apply(1, r.Item, completeObs("A", 100, 150))
	if !r.Item.Stable {
		t.Fatal("阈值达到后应稳定")
	}

	r = trk.Apply(1, r.Item, source.Observation{ExternalID: "A"})
	if !r.Item.Stable {
		t.Fatal("稳定状态不应因不完整观察回退")
	}
	if r.Snapshot != nil {
		t.Fatal("无价格观察不应生成快照")
	}
}

func TestApplyFatalAccounting(t *testing.T) {
	trk := testTracker(2)

	r := trk.Apply(1, nil, completeObs("A", 100, 150))
	item := r.Item

	fatal := source.Observation{ExternalID: "A", FatalCode: source.FatalNotFound}
	for i := 1; i <= 3; i++ {
		r = trk.Apply(1, item, fatal)
		if item.DeadFailCount != i {
			t.Fatalf("第 %d 次致命观察后计数应为 %d, 实际 %d", i, i, item.DeadFailCount)
		}
	}
	if item.LastDeadReason != source.FatalNotFound {
		t.Fatalf("应记录最后的致命码, 实际 %q", item.LastDeadReason)
	}

	// A priced observation revives the item.
	r = trk.Apply(1, item, completeObs("A", 100, 150))
	if item.DeadFailCount != 0 || item.LastDeadReason != "" {
		t.Fatalf("有效价格应清零死亡计数, 实际 %d %q", item.DeadFailCount, item.LastDeadReason)
	}
}

func TestApplySnapshotCarriesObservation(t *testing.T) {
	trk := testTracker(2)

	r := trk.Apply(1, nil, completeObs("A", 100, 150))
	item := r.Item
	item.ID = 7

	stock := int64(5)
	obs := completeObs("A", 95, 150)
	obs.Stock = &stock
	r = trk.Apply(1, item, obs)

	if r.Snapshot == nil {
		t.Fatal("有价格的观察应生成快照")
	}
	if r.Snapshot.ItemID != 7 {
		t.Fatalf("快照应关联商品 id, 实际 %d", r.Snapshot.ItemID)
	}
	if r.Snapshot.Price == nil || !r.Snapshot.Price.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("快照价格不正确: %v", r.Snapshot.Price)
	}
	if r.Snapshot.Stock == nil || *r.Snapshot.Stock != 5 {
		t.Fatalf("快照库存不正确: %v", r.Snapshot.Stock)
	}
}
