package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/ratelimit"
	"github.com/ceyewan/fpdmcp/uspto"
	"github.com/ceyewan/fpdmcp/xerrors"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": ServiceName,
		"port":    s.cfg.Port,
		"note":    fmt.Sprintf("Runs on port %d (configurable via FPD_PROXY_PORT or PROXY_PORT)", s.cfg.Port),
	})
}

func (s *Server) rateLimitStatus(c *gin.Context) {
	client := c.Param("client_id")
	c.JSON(http.StatusOK, gin.H{
		"client_ip":          client,
		"remaining_requests": s.limiter.Remaining(client),
		"max_requests":       s.limiter.Limit(),
		"time_window":        int(s.limiter.Window() / time.Second),
		"reset_time":         s.limiter.ResetTime(client).Unix(),
	})
}

func (s *Server) download(c *gin.Context) {
	ctx := c.Request.Context()
	petitionID := strings.TrimSpace(c.Param("petition_id"))
	documentID := strings.TrimSpace(c.Param("document_identifier"))
	client := c.ClientIP()
	id := requestID(c)

	if !s.limiter.Allow(client) {
		retry := ratelimit.RetryAfterSeconds(s.limiter.RetryAfter(client))
		s.countDownload(ctx, OutcomeRateLimited)
		c.Header("Retry-After", strconv.Itoa(retry))
		e := xerrors.E(xerrors.KindRateLimit, "Rate limit exceeded. USPTO allows %d downloads per %d seconds.",
			s.limiter.Limit(), int(s.limiter.Window()/time.Second)).
			WithRetryAfter(time.Duration(retry) * time.Second).
			WithRequestID(id)
		c.JSON(e.StatusCode(), rateLimitPayload{Payload: e.Payload()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	desc, e := s.source.Document(ctx, petitionID, documentID)
	if e != nil {
		s.fail(c, e)
		return
	}

	stream, e := s.source.Open(ctx, desc)
	if e != nil {
		s.fail(c, e)
		return
	}
	defer stream.Close()

	filename := desc.Filename.String()
	h := c.Writer.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	h.Set("X-Petition-ID", desc.PetitionID)
	h.Set("X-Document-Identifier", desc.DocumentIdentifier)
	h.Set("X-Page-Count", strconv.Itoa(desc.PageCount))
	h.Set("X-Enhanced-Filename", filename)
	h.Set("X-App-Number", desc.ApplicationNumber())
	h.Set("X-Patent-Number", desc.PatentNumber())
	if stream.ContentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(stream.ContentLength, 10))
	}
	c.Status(http.StatusOK)

	written, err := s.copyChunks(c, stream.Body)
	if err != nil {
		// 响应头已发出，只能中断连接
		s.logger.WarnContext(ctx, "download interrupted",
			clog.String("petition_id", petitionID),
			clog.String("document_identifier", documentID),
			clog.Int64("bytes", written),
			clog.Error(err))
		s.countDownload(ctx, OutcomeFailure)
		return
	}

	s.countDownload(ctx, OutcomeSuccess)
	s.logger.InfoContext(ctx, "document streamed",
		clog.String("petition_id", petitionID),
		clog.String("document_identifier", documentID),
		clog.String("filename", filename),
		clog.Int64("bytes", written))
}

// copyChunks 按 ChunkSize 分块写出并逐块刷新
func (s *Server) copyChunks(c *gin.Context, body io.Reader) (int64, error) {
	buf := make([]byte, s.cfg.ChunkSize)
	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			c.Writer.Flush()
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// fail 把下载过程中的错误映射为对外响应
func (s *Server) fail(c *gin.Context, e *xerrors.Error) {
	ctx := c.Request.Context()
	e = proxyError(e)
	if e.RequestID == "" {
		e = e.WithRequestID(requestID(c))
	}
	if e.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(e.RetryAfter)))
	}

	outcome := OutcomeFailure
	if e.Kind == xerrors.KindNotFound {
		outcome = OutcomeNotFound
	}
	s.countDownload(ctx, outcome)
	s.logger.WarnContext(ctx, "download failed",
		clog.String("kind", string(e.Kind)),
		clog.Int("status", e.StatusCode()),
		clog.Error(e))
	c.JSON(e.StatusCode(), e.Payload())
}

// rateLimitPayload 统一错误结构附带剩余配额
type rateLimitPayload struct {
	xerrors.Payload
	RemainingRequests int `json:"remaining_requests"`
}

// proxyError 上游认证失败与其它上游错误对浏览器统一报 502，其余保持原分类
func proxyError(e *xerrors.Error) *xerrors.Error {
	switch e.Kind {
	case xerrors.KindUpstreamAuth:
		return xerrors.E(xerrors.KindUpstreamAuth, "Authentication failed with USPTO API").
			WithRequestID(e.RequestID).WithCause(e)
	case xerrors.KindUpstream:
		return xerrors.E(xerrors.KindUpstream, "USPTO API error: %d", e.StatusCode()).
			WithStatus(http.StatusBadGateway).WithRequestID(e.RequestID).WithCause(e)
	case xerrors.KindNotFound, xerrors.KindValidation, xerrors.KindRateLimit,
		xerrors.KindCircuitOpen, xerrors.KindTimeout:
		return e
	default:
		return xerrors.E(xerrors.KindInternal, "Download failed").WithRequestID(e.RequestID).WithCause(e)
	}
}

func (s *Server) countDownload(ctx context.Context, outcome string) {
	s.downloads.Inc(ctx, metrics.L(LabelOutcome, outcome))
}

// DownloadPath 代理上的下载路径
func DownloadPath(petitionID, documentIdentifier string) string {
	return "/download/" + petitionID + "/" + documentIdentifier
}

var _ DocumentSource = (*uspto.Client)(nil)
