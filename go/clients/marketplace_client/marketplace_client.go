package marketplace_client

import (
	"strings"

	"github.com/mcdev12/bazaar/go/clients"
)

// MarketplaceClient talks to the marketplace REST backend.
type MarketplaceClient struct {
	*clients.BaseClient
}

func NewMarketplaceClient(baseURL, token string) *MarketplaceClient {
	client := &MarketplaceClient{
		BaseClient: clients.NewBaseClient(strings.TrimRight(baseURL, "/")),
	}

	if token != "" {
		client.SetHeader(AuthorizationHeader, "Bearer "+token)
	}

	return client
}
