/*
Package client is a Go client for the Warden HTTP API.

It is used by the warden CLI for operator commands, by `warden daemon` for
heartbeats and by managers joining a Raft cluster.

	c, err := client.NewClient("http://127.0.0.1:8080", client.WithToken(jwt))
	reg, err := c.CreateNode(ctx, types.NodeSpec{...})
	fmt.Println(reg.APIKey) // shown once

	ack, err := c.Heartbeat(ctx, nodeID, apiKey, report)
	for _, task := range ack.Tasks { ... }

Non-2xx responses are returned as *Error, which unwraps to the matching
errdefs sentinel:

	if errdefs.IsNotFound(err) { ... }
*/
package client
