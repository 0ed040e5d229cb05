package server

import (
	"context"
	"time"
)

// Run 启动 Tick 循环（单线程推进世界），直到 ctx 结束
func (s *Server) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.Server.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Infof("tick loop started, interval=%v", interval)
	for {
		select {
		case <-ctx.Done():
			// 把关闭期间排入的断线清理执行完
			s.Tick()
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick 核心循环：执行排队的动作 → 发布快照
func (s *Server) Tick() {
	start := time.Now()
	s.queue.DrainAndExecuteAll()
	seq := s.tickSeq.Add(1)
	if s.rosterDirty {
		s.rosterDirty = false
		snapshot := s.world.Snapshot()
		s.roster.Store(&snapshot)
		s.spectators.broadcast(seq, snapshot)
	}
	s.metrics.AddTick(time.Since(start).Nanoseconds())
}
