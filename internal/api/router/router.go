package router

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"

	"learn-agent-go/internal/api/handler"
	"learn-agent-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册 API 路由。
// apiKeys非空时对 /api/v1 下的接口启用 X-API-Key 鉴权。
func RegisterRoutes(h *server.Hertz, analysisHandler *handler.AnalysisHandler, apiKeys []string) {
	api := h.Group("/api/v1")

	if len(apiKeys) > 0 {
		allowed := make(map[string]bool, len(apiKeys))
		for _, key := range apiKeys {
			allowed[key] = true
		}
		api.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:X-API-Key", ""),
			keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
				return allowed[key], nil
			}),
		))
	}

	// 同步分析
	api.POST("/analyze", func(c context.Context, ctx *app.RequestContext) {
		var req types.AnalysisRequest
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体解析失败"})
			return
		}

		resp, err := analysisHandler.HandleAnalyze(c, &req)
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
			return
		}

		ctx.JSON(consts.StatusOK, resp)
	})

	// 异步分析，立即返回job_id
	api.POST("/analyze/async", func(c context.Context, ctx *app.RequestContext) {
		var req types.AnalysisRequest
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体解析失败"})
			return
		}

		resp, err := analysisHandler.HandleAnalyzeAsync(c, &req)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}

		ctx.JSON(consts.StatusAccepted, resp)
	})

	// 简历文件分析：上传PDF/文本，提取后同步分析
	api.POST("/analyze/resume", func(c context.Context, ctx *app.RequestContext) {
		fileHeader, err := ctx.FormFile("file")
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
			return
		}
		defer file.Close()

		fileBytes, err := io.ReadAll(file)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "读取文件失败"})
			return
		}

		params := handler.ResumeAnalyzeRequest{
			JobDescription: ctx.PostForm("job_description"),
			TargetJobTitle: ctx.PostForm("target_job_title"),
			Filters:        types.DefaultResourceFilters(),
		}

		resp, err := analysisHandler.HandleResumeFileAnalyze(c, fileBytes, fileHeader.Filename, params)
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
			return
		}

		ctx.JSON(consts.StatusOK, resp)
	})

	// 任务状态查询
	api.GET("/jobs/:job_id", func(c context.Context, ctx *app.RequestContext) {
		jobID := ctx.Param("job_id")

		resp, err := analysisHandler.HandleGetJob(c, jobID)
		if err != nil {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}

		ctx.JSON(consts.StatusOK, resp)
	})

	// 简历存档下载，presign=true时只返回临时链接
	api.GET("/jobs/:job_id/resume", func(c context.Context, ctx *app.RequestContext) {
		jobID := ctx.Param("job_id")

		if ctx.Query("presign") == "true" {
			url, err := analysisHandler.HandleResumeArchiveURL(c, jobID)
			if err != nil {
				ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
				return
			}
			ctx.JSON(consts.StatusOK, utils.H{"url": url})
			return
		}

		data, objectKey, err := analysisHandler.HandleResumeArchiveDownload(c, jobID)
		if err != nil {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		ctx.Response.Header.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", path.Base(objectKey)))
		ctx.Data(consts.StatusOK, "application/octet-stream", data)
	})

	// 删除简历存档
	api.DELETE("/jobs/:job_id/resume", func(c context.Context, ctx *app.RequestContext) {
		if err := analysisHandler.HandleResumeArchiveDelete(c, ctx.Param("job_id")); err != nil {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	// 资源反馈
	api.POST("/feedback", func(c context.Context, ctx *app.RequestContext) {
		var fb types.FeedbackRecord
		if err := ctx.BindJSON(&fb); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体解析失败"})
			return
		}

		if err := analysisHandler.HandleFeedback(c, &fb); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
			return
		}

		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	// 某技能的历史反馈
	api.GET("/feedback/:skill_name", func(c context.Context, ctx *app.RequestContext) {
		limit, _ := strconv.Atoi(ctx.Query("limit"))

		records, err := analysisHandler.HandleListFeedback(c, ctx.Param("skill_name"), limit)
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
			return
		}

		ctx.JSON(consts.StatusOK, utils.H{"feedbacks": records})
	})

	// 编排器运行计数
	api.GET("/metrics", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, analysisHandler.HandleMetrics())
	})

	// 健康检查不做鉴权
	h.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, analysisHandler.HandleHealth(c))
	})
}
