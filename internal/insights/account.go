package insights

import (
	"context"
	"net/url"

	"github.com/socialpulse/ig-insights/internal/errs"
)

// ObjectGetter reads a single Graph API object
type ObjectGetter interface {
	Get(ctx context.Context, endpoint string, params url.Values, out interface{}) error
}

type pageAccount struct {
	ID                       string `json:"id"`
	InstagramBusinessAccount *struct {
		ID string `json:"id"`
	} `json:"instagram_business_account"`
}

// ResolveAccountID looks up the Instagram business account linked to a
// Facebook page.
func ResolveAccountID(ctx context.Context, graph ObjectGetter, pageID string) (string, error) {
	if pageID == "" {
		return "", errs.New(errs.InvalidRequest, "page id is required")
	}

	var page pageAccount
	params := url.Values{"fields": {"instagram_business_account"}}
	if err := graph.Get(ctx, "/"+pageID, params, &page); err != nil {
		return "", err
	}

	if page.InstagramBusinessAccount == nil || page.InstagramBusinessAccount.ID == "" {
		return "", errs.New(errs.InvalidRequest, "page %s has no linked Instagram business account", pageID)
	}
	return page.InstagramBusinessAccount.ID, nil
}
