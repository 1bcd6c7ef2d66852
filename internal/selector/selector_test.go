package selector

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-radar/internal/source"
	"deal-radar/internal/storage"
	"deal-radar/internal/tracker"
)

func stableResult(externalID string, changes []tracker.Change) tracker.Result {
	price := decimal.NewFromInt(900)
	oldPrice := decimal.NewFromInt(1500)
	return tracker.Result{
		Item: &storage.Item{
			ExternalID:   externalID,
			Title:        "item " + externalID,
			URL:          "https://example.com/" + externalID,
			CurrentPrice: &price,
			OldPrice:     &oldPrice,
			Stable:       true,
		},
		Stable:  true,
		Changes: changes,
	}
}

func priceChange(old, new int64) tracker.Change {
	return tracker.Change{
		Field: tracker.FieldPrice,
		Old:   decimal.NewFromInt(old),
		New:   decimal.NewFromInt(new),
	}
}

func discountChange(old, new float64) tracker.Change {
	return tracker.Change{
		Field: tracker.FieldDiscount,
		Old:   decimal.NewFromFloat(old),
		New:   decimal.NewFromFloat(new),
	}
}

func TestSelectSkipsUnpublishableResults(t *testing.T) {
	sel := NewSelector(zerolog.Nop())

	results := []tracker.Result{
		{IsNew: true, Item: &storage.Item{ExternalID: "new"}},
		{Stable: false, Item: &storage.Item{ExternalID: "unstable"}},
		{Stable: true, JustStabilized: true, Item: &storage.Item{ExternalID: "fresh"}},
		stableResult("quiet", nil),
	}

	got := sel.Select("WB", results, nil, Thresholds{})
	if len(got) != 0 {
		t.Fatalf("不可发布的结果应全部跳过, 实际 %d", len(got))
	}
}

func TestSelectPriceDropThreshold(t *testing.T) {
	sel := NewSelector(zerolog.Nop())
	th := Thresholds{MinPriceDropPercent: 5}

	// 10% drop passes, 2% drop does not, a rise never does.
	results := []tracker.Result{
		stableResult("big", []tracker.Change{priceChange(1000, 900)}),
		stableResult("small", []tracker.Change{priceChange(1000, 980)}),
		stableResult("rise", []tracker.Change{priceChange(1000, 1200)}),
	}

	got := sel.Select("WB", results, nil, th)
	if len(got) != 1 {
		t.Fatalf("只有大幅降价应入选, 实际 %d", len(got))
	}
	if got[0].ExternalID != "big" {
		t.Fatalf("入选商品不正确: %s", got[0].ExternalID)
	}
	if !strings.Contains(got[0].Reason, "-10.0%") {
		t.Fatalf("理由应包含降幅: %q", got[0].Reason)
	}
}

func TestSelectDiscountIncreaseThreshold(t *testing.T) {
	sel := NewSelector(zerolog.Nop())
	th := Thresholds{MinDiscountIncrease: 5}

	results := []tracker.Result{
		stableResult("up", []tracker.Change{discountChange(30, 40)}),
		stableResult("slight", []tracker.Change{discountChange(30, 33)}),
		stableResult("down", []tracker.Change{discountChange(40, 20)}),
	}

	got := sel.Select("WB", results, nil, th)
	if len(got) != 1 || got[0].ExternalID != "up" {
		t.Fatalf("只有折扣大涨应入选, 实际 %v", got)
	}
	if !strings.Contains(got[0].Reason, "30% → 40%") {
		t.Fatalf("理由应包含折扣变化: %q", got[0].Reason)
	}
}

func TestSelectJoinsReasonsAndCarriesMedia(t *testing.T) {
	sel := NewSelector(zerolog.Nop())

	results := []tracker.Result{
		stableResult("combo", []tracker.Change{priceChange(1000, 800), discountChange(20, 40)}),
	}
	obs := map[string]source.Observation{
		"combo": {ExternalID: "combo", ImageURLs: []string{"https://img/1.jpg"}},
	}

	got := sel.Select("WB", results, obs, Thresholds{})
	if len(got) != 1 {
		t.Fatalf("应产出一个候选, 实际 %d", len(got))
	}
	if len(strings.Split(got[0].Reason, "\n")) != 2 {
		t.Fatalf("两个变化应合并为两行理由: %q", got[0].Reason)
	}
	if len(got[0].ImageURLs) != 1 {
		t.Fatalf("候选应携带观测到的图片: %v", got[0].ImageURLs)
	}
	if !got[0].Price.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("候选价格应取自商品当前价, 实际 %s", got[0].Price)
	}
}
