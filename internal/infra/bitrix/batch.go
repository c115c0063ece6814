package bitrix

import (
	"context"
	"fmt"

	"github.com/vietddude/relay/internal/core/schema"
)

// Batch executes one batch request of named "method?param=value" command
// strings. With halt set, the upstream stops on the first failing command.
func (c *Client) Batch(ctx context.Context, commands map[string]string, halt bool) (map[string]any, error) {
	if len(commands) > schema.MaxBatchCommands {
		return nil, fmt.Errorf("batch is limited to %d commands", schema.MaxBatchCommands)
	}

	cmd := make(map[string]any, len(commands))
	for name, command := range commands {
		cmd[name] = command
	}

	haltFlag := 0
	if halt {
		haltFlag = 1
	}
	return c.Call(ctx, "batch", map[string]any{"halt": haltFlag, "cmd": cmd})
}

// IterList walks a paginated list method, following the start/next cursor
// and passing each item to fn. Iteration stops on the first error fn
// returns.
func (c *Client) IterList(ctx context.Context, method string, params map[string]any, fn func(item map[string]any) error) error {
	var start float64

	for {
		page := make(map[string]any, len(params)+1)
		for k, v := range params {
			page[k] = v
		}
		page["start"] = start

		resp, err := c.Call(ctx, method, page)
		if err != nil {
			return err
		}

		switch result := resp["result"].(type) {
		case []any:
			for _, raw := range result {
				item, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				if err := fn(item); err != nil {
					return err
				}
			}
		case map[string]any:
			// some methods return a keyed map of items
			for _, raw := range result {
				item, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				if err := fn(item); err != nil {
					return err
				}
			}
		}

		next, ok := resp["next"].(float64)
		if !ok {
			return nil
		}
		start = next
	}
}
