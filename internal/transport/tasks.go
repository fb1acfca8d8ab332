package transport

import "context"

// Remote task names understood by the gateway.
const (
	TaskGatherResources  = "gather_resources"
	TaskNetherExpedition = "nether_expedition"
	TaskFindStronghold   = "find_stronghold"
	TaskEnterEnd         = "enter_end"
)

// RemoteTasks forwards mission phase actions to the gateway as task frames.
type RemoteTasks struct {
	client *Client
}

// Tasks returns the client's remote task adapter.
func (c *Client) Tasks() RemoteTasks { return RemoteTasks{client: c} }

func (r RemoteTasks) BeginResourceGathering(ctx context.Context, items []string) error {
	return r.client.RequestTask(ctx, TaskGatherResources, map[string]any{"items": items})
}

func (r RemoteTasks) StartNetherExpedition(ctx context.Context) error {
	return r.client.RequestTask(ctx, TaskNetherExpedition, nil)
}

func (r RemoteTasks) SearchForStronghold(ctx context.Context) error {
	return r.client.RequestTask(ctx, TaskFindStronghold, nil)
}

func (r RemoteTasks) EnterTheEnd(ctx context.Context) error {
	return r.client.RequestTask(ctx, TaskEnterEnd, nil)
}
