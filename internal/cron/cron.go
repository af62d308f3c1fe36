package cron

import (
	"context"
	"time"

	"github.com/AGNIKSAHA/chatApp/internal/auth"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Start 启动后台定时任务。刷新令牌的过期回收是被动式的：
// 校验查询本身排除过期记录，这里只负责让表不无限增长。
func Start(gdb *gorm.DB) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	_, _ = s.Every(1).Day().Do(func() { reapRefreshTokens(gdb) })
	s.StartAsync()
	return s
}

func reapRefreshTokens(gdb *gorm.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := auth.DeleteExpired(ctx, gdb)
	if err != nil {
		log.Error().Err(err).Msg("reap refresh tokens")
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Msg("reaped expired refresh tokens")
	}
}
