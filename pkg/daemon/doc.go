/*
Package daemon is the reference node agent run by `warden daemon`.

Every interval the Agent samples the host through a Collector, posts the
report to /daemon/v1/heartbeat and hands the tasks in the ack to a
TaskHandler. The default handler logs each task.

	counter, _ := daemon.NewContainerCounter(cfg.Daemon) // containerd, docker or none
	collector := daemon.NewSystemCollector(version, counter)
	agent, _ := daemon.NewAgent(apiClient, collector, daemon.AgentConfig{
		NodeID: cfg.Daemon.NodeID,
		APIKey: cfg.Daemon.APIKey,
	})
	agent.Run(ctx)

While the API is unreachable the agent retries with exponential backoff,
capped at five intervals, and drops back to the normal period after the
first accepted heartbeat.
*/
package daemon
