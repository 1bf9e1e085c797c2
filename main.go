package main

import (
	"StoryboardPro-server/config"
	"StoryboardPro-server/models"
	"StoryboardPro-server/routers"
	"StoryboardPro-server/service"

	"go.uber.org/zap"
)

func main() {
	config.InitConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	models.InitDB()
	logger.Info("数据库已初始化")

	service.InitQueue()
	logger.Info("任务队列已初始化")

	service.InitMinIO()

	processor := service.NewProcessor(models.GormDB)
	processor.StartProcessor(5)

	r := routers.InitRouter()
	logger.Info("服务启动", zap.String("port", config.AppConfig.Server.Port))
	if err := r.Run(config.AppConfig.Server.Port); err != nil {
		logger.Fatal("服务退出", zap.Error(err))
	}
}
