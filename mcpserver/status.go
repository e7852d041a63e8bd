package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/ceyewan/fpdmcp/breaker"
	"github.com/ceyewan/fpdmcp/redact"
)

// CacheStatus 响应缓存状态
type CacheStatus struct {
	Enabled    bool    `json:"enabled"`
	Size       int     `json:"size"`
	Capacity   int     `json:"capacity"`
	TTLSeconds float64 `json:"ttl_seconds"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRatio   float64 `json:"hit_ratio"`
}

// ProxyStatus 本地下载代理状态
type ProxyStatus struct {
	Running bool   `json:"running"`
	Port    int    `json:"port,omitempty"`
	Error   string `json:"last_error,omitempty"`
}

// StatusResponse FPD_get_resilience_status 的返回
type StatusResponse struct {
	Success         bool               `json:"success"`
	CircuitBreakers []breaker.Snapshot `json:"circuit_breakers"`
	Cache           CacheStatus        `json:"cache"`
	Proxy           ProxyStatus        `json:"proxy"`
	OCRAvailable    bool               `json:"ocr_available"`
	OCREnabled      bool               `json:"ocr_enabled"`
}

func (s *Server) resilienceStatus(context.Context, json.RawMessage) (any, error) {
	return s.Status(), nil
}

// Status 汇总各弹性组件的当前状态
func (s *Server) Status() *StatusResponse {
	resp := &StatusResponse{
		Success:         true,
		CircuitBreakers: make([]breaker.Snapshot, 0, len(s.deps.Breakers)),
		OCRAvailable:    s.deps.Extractor.OCRAvailable(),
		OCREnabled:      s.cfg.OCREnabled,
	}
	for _, cb := range s.deps.Breakers {
		if cb != nil {
			resp.CircuitBreakers = append(resp.CircuitBreakers, cb.Snapshot())
		}
	}
	if s.deps.Cache != nil {
		st := s.deps.Cache.Stats()
		resp.Cache = CacheStatus{
			Enabled:    true,
			Size:       st.Size,
			Capacity:   st.Capacity,
			TTLSeconds: st.TTL.Seconds(),
			Hits:       st.Hits,
			Misses:     st.Misses,
			HitRatio:   st.HitRatio(),
		}
	}
	resp.Proxy = ProxyStatus{Running: s.deps.Proxy.Running()}
	if resp.Proxy.Running {
		resp.Proxy.Port = s.deps.Proxy.Port()
	}
	if err := s.deps.Proxy.Err(); err != nil {
		resp.Proxy.Error = redact.String(err.Error())
	}
	return resp
}
