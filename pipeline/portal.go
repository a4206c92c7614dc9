package pipeline

import (
	"context"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
	"github.com/use-agent/changehub/scraper"
)

// Portal harvests tabs through a fresh portal page of a running browser.
type Portal struct {
	Browser *scraper.Browser
	Portal  config.PortalConfig
	Harvest config.HarvestConfig
}

// HarvestTabs opens the portal, harvests the tabs and closes the page.
func (p *Portal) HarvestTabs(ctx context.Context, tabs ...models.Tab) (models.TabResults, error) {
	s, err := p.Browser.OpenPortal(ctx, p.Portal, p.Harvest)
	if err != nil {
		return models.TabResults{}, err
	}
	defer s.Close()
	return s.ScrapeTabs(ctx, tabs...)
}
