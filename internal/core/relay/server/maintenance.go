package server

// capacityWarnPercent 活跃会话超过上限的该百分比时告警
const capacityWarnPercent = 90

// maybeMaintain 距上次维护超过 MaintenanceInterval 时执行一次
func (n *Node) maybeMaintain() {
	now := n.clock.Now()
	if now.Sub(n.lastMaintenance) < n.cfg.MaintenanceInterval.Std() {
		return
	}
	n.lastMaintenance = now
	n.maintain()
}

// maintain 回收过期与空闲会话、清理速率表、刷新带宽峰值
func (n *Node) maintain() {
	removed := n.sessions.RemoveStale(n.cfg.Limits.SessionInactivityTimeout.Std())
	if len(removed) > 0 {
		n.counters.expiredSessions.Add(uint64(len(removed)))
		for i := range removed {
			log.Debug("会话已回收",
				"session", removed[i].ID.String(),
				"initiator", removed[i].Initiator.ShortString(),
				"packets", removed[i].PacketsToTarget+removed[i].PacketsToInitiator)
		}
	}

	evicted := n.limiter.Cleanup()
	current, peak := n.bandwidth.Sample()
	active := n.sessions.Len()

	if max := n.cfg.Limits.MaxSessions; max > 0 && active*100 > max*capacityWarnPercent {
		log.Warn("活跃会话数接近上限",
			"active", active,
			"max", max)
	}

	packetIPs, connIPs := n.limiter.TrackedIPs()
	log.Debug("维护完成",
		"removed", len(removed),
		"evicted_ips", evicted,
		"active_sessions", active,
		"active_clients", n.sessions.ClientCount(),
		"tracked_packet_ips", packetIPs,
		"tracked_connection_ips", connIPs,
		"bandwidth_bps", current,
		"peak_bps", peak,
		"uptime", n.uptime())
}
