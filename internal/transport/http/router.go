package guardhttp

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"guardian/internal/logger"
	"guardian/internal/manager"
	"guardian/internal/store/decisionlog"
	"guardian/internal/visual"
)

// Router mounts the operator API endpoints.
type Router struct {
	mgr       *manager.Manager
	decisions *decisionlog.Store
}

func NewRouter(mgr *manager.Manager, decisions *decisionlog.Store) *Router {
	return &Router{mgr: mgr, decisions: decisions}
}

// Register mounts the routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/positions", r.handlePositions)
	group.POST("/positions/open", r.handleOpen)
	group.POST("/positions/close", r.handleClose)
	group.POST("/manage", r.handleManage)
	group.GET("/cooldown", r.handleCooldown)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/history", r.handleHistory)
	group.GET("/history/chart", r.handleHistoryChart)
}

func (r *Router) handlePositions(c *gin.Context) {
	positions, err := r.mgr.Positions(c.Request.Context())
	if err != nil {
		logger.Errorf("[api] positions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (r *Router) handleOpen(c *gin.Context) {
	var params manager.OpenParams
	if err := c.ShouldBindJSON(&params); err != nil {
		logger.Errorf("[api] open bind failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := r.mgr.OpenPosition(c.Request.Context(), params)
	if err != nil {
		logger.Errorf("[api] open failed ip=%s symbol=%s err=%v", c.ClientIP(), strings.ToUpper(strings.TrimSpace(params.Symbol)), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] open ip=%s symbol=%s side=%s status=%s", c.ClientIP(), result.Symbol, result.Side, result.Status)
	c.JSON(http.StatusOK, result)
}

type closeRequest struct {
	Symbol string `json:"symbol"`
}

func (r *Router) handleClose(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Symbol) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	result, err := r.mgr.ClosePosition(c.Request.Context(), req.Symbol)
	if err != nil {
		logger.Errorf("[api] close failed ip=%s symbol=%s err=%v", c.ClientIP(), strings.ToUpper(strings.TrimSpace(req.Symbol)), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] close ip=%s symbol=%s status=%s", c.ClientIP(), result.Symbol, result.Status)
	c.JSON(http.StatusOK, result)
}

func (r *Router) handleManage(c *gin.Context) {
	report, err := r.mgr.ManageTick(c.Request.Context())
	if err != nil {
		if errors.Is(err, manager.ErrTickInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] manage tick failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) handleCooldown(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	side := c.DefaultQuery("side", "long")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	allowed, remaining, err := r.mgr.CooldownStatus(c.Request.Context(), symbol, side)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":       symbol,
		"side":         side,
		"allowed":      allowed,
		"minutes_left": int(math.Ceil(remaining.Minutes())),
	})
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision journal not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	records, err := r.decisions.ListRecent(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] decisions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": records, "count": len(records)})
}

func (r *Router) handleHistory(c *gin.Context) {
	samples := r.mgr.Equity().Samples()
	c.JSON(http.StatusOK, gin.H{"samples": samples, "count": len(samples)})
}

func (r *Router) handleHistoryChart(c *gin.Context) {
	samples := r.mgr.Equity().Samples()
	if len(samples) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no equity samples yet"})
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := visual.RenderEquityCurve(c.Writer, samples); err != nil {
		logger.Errorf("[api] equity chart render failed ip=%s err=%v", c.ClientIP(), err)
	}
}
