package dataset

import (
	"context"

	"battery-tracker/internal/store"
	"battery-tracker/pkg/timeseries"
)

const (
	DefaultMarketIndexProvider = "APXMIDP"
	DefaultBMUnit              = "T_DRAXX-1"
)

func init() {
	register(Spec{
		Name:        "sbp",
		Description: "System Buy Price per settlement period",
		Schema: timeseries.Schema{
			Name:                 "sbp",
			SettlementDateKeys:   timeseries.DefaultSettlementDateKeys,
			SettlementPeriodKeys: timeseries.DefaultSettlementPeriodKeys,
			ValueKeys:            []string{"systemBuyPrice"},
		},
		Table: store.Table{Name: "system_buy_price", ValueColumn: "sbp_gbp_per_mwh"},
		Daily: true,
		fetch: fetchSystemPrices,
	})

	register(Spec{
		Name:        "ssp",
		Description: "System Sell Price per settlement period",
		Schema: timeseries.Schema{
			Name:                 "ssp",
			SettlementDateKeys:   timeseries.DefaultSettlementDateKeys,
			SettlementPeriodKeys: timeseries.DefaultSettlementPeriodKeys,
			ValueKeys:            []string{"systemSellPrice", "sellPrice", "value"},
		},
		Table: store.Table{Name: "system_sell_price", ValueColumn: "ssp_gbp_per_mwh"},
		Daily: true,
		fetch: fetchSystemPrices,
	})

	register(Spec{
		Name:        "mid",
		Description: "Market Index Data for one provider",
		Schema: timeseries.Schema{
			Name:                 "mid",
			TimestampKeys:        []string{"timestamp", "time", "intervalStart", "startTime", "localTime", "utcTime"},
			SettlementDateKeys:   timeseries.DefaultSettlementDateKeys,
			SettlementPeriodKeys: timeseries.DefaultSettlementPeriodKeys,
			ValueKeys:            []string{"price", "marketIndexPrice", "midPrice", "value"},
		},
		Table:      store.Table{Name: "wholesale_intraday_price_apx", ValueColumn: "price_gbp_per_mwh"},
		WindowSize: timeseries.DefaultWindowSize,
		Selector:   DefaultMarketIndexProvider,
		fetch: func(ctx context.Context, up Upstream, w timeseries.Window, provider string) ([]timeseries.RawRecord, error) {
			return up.MarketIndex(ctx, w, provider)
		},
	})

	register(Spec{
		Name:        "fpn",
		Description: "Final physical notifications for one BM unit",
		Schema: timeseries.Schema{
			Name:           "fpn",
			DatasetKey:     "dataset",
			DatasetCode:    "PN",
			TimestampKeys:  []string{"timeFrom"},
			ValueKeys:      []string{"levelFrom"},
			ConsistencyKey: "levelTo",
			PerUnit:        true,
			UnitKeys:       []string{"bmUnit"},
		},
		Table:            store.Table{Name: "final_physical_notifications", ValueColumn: "fpn_mw", UnitColumn: "bmu_id"},
		WindowSize:       timeseries.DefaultWindowSize,
		Selector:         DefaultBMUnit,
		SelectorRequired: true,
		fetch: func(ctx context.Context, up Upstream, w timeseries.Window, unit string) ([]timeseries.RawRecord, error) {
			return up.PhysicalNotifications(ctx, w, unit)
		},
	})
}

func fetchSystemPrices(ctx context.Context, up Upstream, w timeseries.Window, _ string) ([]timeseries.RawRecord, error) {
	return up.SystemPricesForDate(ctx, w.Start)
}
