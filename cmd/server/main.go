package main

import (
	"github.com/AGNIKSAHA/chatApp/internal/config"
	"github.com/AGNIKSAHA/chatApp/internal/cron"
	"github.com/AGNIKSAHA/chatApp/internal/db"
	clog "github.com/AGNIKSAHA/chatApp/internal/log"
	"github.com/AGNIKSAHA/chatApp/internal/server"
	"github.com/AGNIKSAHA/chatApp/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	cron.Start(gdb)

	hub := ws.NewHub()
	r := server.SetupRouter(cfg, gdb, hub)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
