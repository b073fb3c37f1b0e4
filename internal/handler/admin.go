package handler

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"vinzhub-gamestate/internal/activity"
	"vinzhub-gamestate/internal/model"
	"vinzhub-gamestate/internal/repository"
	"vinzhub-gamestate/internal/session"
	"vinzhub-gamestate/internal/state"
	"vinzhub-gamestate/pkg/apierror"
	"vinzhub-gamestate/pkg/response"
)

// AdminConfig holds the dependencies of the admin handler.
type AdminConfig struct {
	Cache     *state.Cache
	Store     repository.Store
	Lifecycle *session.Lifecycle
	// Activity is optional; without it the activity route answers 404.
	Activity activity.Reader
	// Batcher is optional and only reported in stats.
	Batcher   *activity.Batcher
	StoreType string
}

// AdminHandler serves operator endpoints over the resident cache.
type AdminHandler struct {
	cfg       AdminConfig
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	return &AdminHandler{cfg: cfg, startTime: time.Now()}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)

	stats["cache"] = map[string]interface{}{
		"resident_users": h.cfg.Cache.ResidentCount(),
		"dirty_users":    h.cfg.Cache.DirtyCount(),
	}

	storeStats, err := h.cfg.Store.GetStats(ctx)
	if err == nil {
		storeStats["status"] = "connected"
	} else {
		storeStats = map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}
	storeStats["type"] = h.cfg.StoreType
	stats["store"] = storeStats

	if h.cfg.Batcher != nil {
		stats["activity"] = map[string]interface{}{
			"buffered": h.cfg.Batcher.Buffered(),
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// UserResponse is a resident user's state and cache status.
type UserResponse struct {
	State        *model.UserState `json:"state"`
	Dirty        bool             `json:"dirty"`
	LastActivity time.Time        `json:"last_activity"`
}

// GetUser handles GET /api/v1/admin/users/{user_id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	st, err := h.cfg.Cache.Get(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	last, _ := h.cfg.Cache.LastActivity(userID)
	response.OK(w, UserResponse{
		State:        st,
		Dirty:        h.cfg.Cache.IsDirty(userID),
		LastActivity: last,
	})
}

// Login handles POST /api/v1/admin/users/{user_id}/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	src, err := h.cfg.Lifecycle.Login(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"user_id": userID,
		"source":  src,
	})
}

// Flush handles POST /api/v1/admin/users/{user_id}/flush
func (h *AdminHandler) Flush(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.cfg.Lifecycle.Flush(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, res)
}

// Logout handles POST /api/v1/admin/users/{user_id}/logout. A user kept
// resident with pending work answers 202.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.cfg.Lifecycle.Logout(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !res.Evicted {
		response.Accepted(w, res)
		return
	}
	response.OK(w, res)
}

// RetrySweep handles POST /api/v1/admin/sweeps/retry
func (h *AdminHandler) RetrySweep(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.cfg.Lifecycle.RetrySweep(r.Context()))
}

// GetActivity handles GET /api/v1/admin/users/{user_id}/activity?limit=N
func (h *AdminHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Activity == nil {
		writeError(w, apierror.NotFound("activity log not configured"))
		return
	}
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, apierror.BadRequest("limit must be between 1 and 500").WithDetail("limit", raw))
			return
		}
		limit = n
	}

	logs, err := h.cfg.Activity.Recent(r.Context(), userID, limit)
	if err != nil {
		writeError(w, apierror.ServiceUnavailable("activity log unavailable"))
		return
	}
	if logs == nil {
		logs = []model.ActivityLog{}
	}
	response.OK(w, logs)
}
