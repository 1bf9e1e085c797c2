package routers

import (
	"StoryboardPro-server/routers/api"
	"StoryboardPro-server/service"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()

	// 镜头进度经 WebSocket 广播，service 侧通过注入点回调
	service.ProgressNotifier = api.BroadcastProjectProgress

	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.PUT("/projects/:project_id", api.UpdateProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.GET("/projects/:project_id/export", api.ExportProject)

		v1.POST("/projects/:project_id/entities", api.CreateEntity)
		v1.GET("/projects/:project_id/entities", api.ListEntities)
		v1.GET("/projects/:project_id/entities/:variant/:entity_id", api.GetEntityDetail)
		v1.PUT("/projects/:project_id/entities/:variant/:entity_id", api.UpdateEntity)
		v1.DELETE("/projects/:project_id/entities/:variant/:entity_id", api.DeleteEntity)

		v1.GET("/templates", api.ListTemplates)

		v1.POST("/projects/:project_id/shots", api.CreateShots)
		v1.GET("/projects/:project_id/shots", api.GetShots)
		v1.GET("/projects/:project_id/shots/:shot_id", api.GetShotDetail)
		v1.GET("/projects/:project_id/shots/:shot_id/preview", api.PreviewShot)
		v1.PUT("/projects/:project_id/shots/:shot_id", api.UpdateShot)
		v1.DELETE("/projects/:project_id/shots/:shot_id", api.DeleteShot)

		v1.POST("/projects/:project_id/generate", api.StartGeneration)
		v1.POST("/projects/:project_id/regenerate", api.RegenerateShots)
		v1.GET("/tasks/:task_id", api.GetTaskStatus)
		v1.POST("/tasks/:task_id/cancel", api.CancelTask)
	}
	r.GET("/tasks/:task_id/wss", api.TaskProgressWebSocket)
	r.GET("/projects/:project_id/wss", api.ProjectProgressWebSocket)
	return r
}
