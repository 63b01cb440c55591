package autoclosehttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"autoclose/internal/autoclose"
	"autoclose/internal/logger"

	"github.com/gin-gonic/gin"
)

const defaultRunTimeout = 5 * time.Minute

// PassTrigger 由共享互斥锁的 SerialRunner 实现。
type PassTrigger interface {
	TryRunPass(ctx context.Context) (autoclose.Summary, error)
}

// StatusReader loads the persisted monitor status row.
type StatusReader interface {
	LoadMonitorStatus(ctx context.Context) (autoclose.MonitorStatus, bool, error)
}

// Router 暴露 /api/auto-close 下的状态查询与手动触发接口。
type Router struct {
	Trigger    PassTrigger
	Status     StatusReader
	RunTimeout time.Duration
}

func NewRouter(trigger PassTrigger, status StatusReader, runTimeout time.Duration) *Router {
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &Router{Trigger: trigger, Status: status, RunTimeout: runTimeout}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	if r.Status != nil {
		group.GET("/status", r.handleStatus)
	}
	if r.Trigger != nil {
		group.POST("/run", r.handleRun)
	}
}

type statusResponse struct {
	Running    bool               `json:"running"`
	PassID     string             `json:"pass_id,omitempty"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
	Summary    *autoclose.Summary `json:"summary,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	st, ok, err := r.Status.LoadMonitorStatus(c.Request.Context())
	if err != nil {
		logger.Warnf("[http] load auto-close status failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, statusResponse{})
		return
	}
	resp := statusResponse{
		Running:    st.Running,
		PassID:     st.PassID,
		FinishedAt: st.FinishedAt,
		LastError:  st.LastError,
		Summary:    st.Summary,
	}
	if !st.StartedAt.IsZero() {
		started := st.StartedAt
		resp.StartedAt = &started
	}
	if resp.Summary != nil {
		if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit >= 0 && limit < len(resp.Summary.Results) {
			trimmed := *resp.Summary
			trimmed.Results = trimmed.Results[:limit]
			resp.Summary = &trimmed
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleRun(c *gin.Context) {
	// 客户端断开不应中断正在写库的一轮对账。
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), r.RunTimeout)
	defer cancel()

	sum, err := r.Trigger.TryRunPass(ctx)
	switch {
	case errors.Is(err, autoclose.ErrPassInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		logger.Errorf("[http] manual auto-close pass failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": sum})
	default:
		c.JSON(http.StatusOK, sum)
	}
}
