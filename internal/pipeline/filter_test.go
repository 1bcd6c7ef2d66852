package pipeline

import (
	"testing"

	"github.com/shopspring/decimal"

	"deal-radar/internal/source"
)

func obsWith(price float64, stock int64, discount float64) source.Observation {
	obs := source.Observation{
		ExternalID: "X",
		Price:      decimal.NewFromFloat(price),
		OldPrice:   decimal.NewFromFloat(price * 2),
	}
	if stock >= 0 {
		obs.Stock = &stock
	}
	if discount >= 0 {
		obs.Discount = &discount
	}
	return obs
}

func TestFilterZeroThresholdsPassEverything(t *testing.T) {
	in := []source.Observation{
		obsWith(10, -1, -1),
		obsWith(100000, 0, 0),
		{ExternalID: "nopricing"},
	}
	out := filterObservations(in, Thresholds{})
	if len(out) != len(in) {
		t.Fatalf("零阈值应放行全部观察, 实际 %d/%d", len(out), len(in))
	}
}

func TestFilterPriceBounds(t *testing.T) {
	th := Thresholds{MinPrice: 100, MaxPrice: 1000}
	in := []source.Observation{
		obsWith(50, -1, -1),
		obsWith(500, -1, -1),
		obsWith(5000, -1, -1),
		{ExternalID: "nopricing"},
	}
	out := filterObservations(in, th)
	if len(out) != 1 || !out[0].Price.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("只有区间内的价格应通过, 实际 %v", out)
	}
}

func TestFilterMissingValueFailsActiveCheck(t *testing.T) {
	th := Thresholds{MinStock: 1}
	in := []source.Observation{
		obsWith(500, -1, -1), // stock absent
		obsWith(500, 3, -1),
	}
	out := filterObservations(in, th)
	if len(out) != 1 || *out[0].Stock != 3 {
		t.Fatalf("缺少库存字段应被启用的检查拦截, 实际 %v", out)
	}
}

func TestFilterDiscountThreshold(t *testing.T) {
	th := Thresholds{MinDiscountPercent: 30}
	in := []source.Observation{
		obsWith(500, -1, 10),
		obsWith(500, -1, 45),
	}
	out := filterObservations(in, th)
	if len(out) != 1 || *out[0].Discount != 45 {
		t.Fatalf("折扣阈值过滤不正确: %v", out)
	}
}

func TestFilterFatalAlwaysPasses(t *testing.T) {
	th := Thresholds{MinPrice: 100}
	in := []source.Observation{
		{ExternalID: "gone", FatalCode: source.FatalGone},
	}
	out := filterObservations(in, th)
	if len(out) != 1 {
		t.Fatal("致命观察应绕过过滤进入死亡记账")
	}
}
