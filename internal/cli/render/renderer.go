package render

import "github.com/trebuchet-org/treb-upgrade/internal/usecase"

type Renderer[T any] interface {
	Render(result T) error
}

var (
	_ Renderer[*usecase.UpgradeResult]            = (*UpgradeRenderer)(nil)
	_ Renderer[*usecase.CheckCompatibilityResult] = (*VerdictRenderer)(nil)
	_ Renderer[*usecase.RegisterProxyResult]      = (*RegisterRenderer)(nil)
	_ Renderer[[]usecase.ProxyListing]            = (*ProxiesRenderer)(nil)
	_ Renderer[*usecase.ShowHistoryResult]        = (*HistoryRenderer)(nil)
	_ Renderer[[]*usecase.ReconcileResult]        = (*ReconcileRenderer)(nil)
	_ Renderer[*usecase.ApplyPlanResult]          = (*PlanRenderer)(nil)
)
