package data

import (
	"time"

	"Bastion/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is data providers. Repository constructors are listed in the
// biz provider set alongside their interface bindings.
var ProviderSet = wire.NewSet(
	NewRedisClient,
	NewMySQLClient,
	NewWebhook,
)

// NewWebhook builds the protection-event webhook client from config.
func NewWebhook(p *conf.Protection, logger log.Logger) *WebhookClient {
	url := ""
	timeout := 5 * time.Second
	if p.Webhook != nil {
		url = p.Webhook.URL
		if p.Webhook.Timeout != nil {
			timeout = p.Webhook.Timeout.AsDuration()
		}
	}
	return NewWebhookClient(url, timeout, logger)
}
