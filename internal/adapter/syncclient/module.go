package syncclient

import (
	"go.uber.org/fx"

	"github.com/marketplace/delivery-service/internal/service/jobs"
)

var Module = fx.Module("syncclient",
	fx.Provide(
		New,
		// [TASK_BINDING] The sync call is the body of the scheduled job.
		func(c *Client) jobs.Task { return c.Sync },
	),
)
