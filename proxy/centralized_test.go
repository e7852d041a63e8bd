package proxy

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fpdmcp/auth"
	"github.com/ceyewan/fpdmcp/testkit"
	"github.com/ceyewan/fpdmcp/uspto"
)

// fakeCentral 集中代理替身
type fakeCentral struct {
	*httptest.Server
	status atomic.Int32
	probes atomic.Int32

	mu   sync.Mutex
	regs []Registration
}

func newFakeCentral(t *testing.T) *fakeCentral {
	t.Helper()
	f := &fakeCentral{}
	f.status.Store(http.StatusOK)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		f.probes.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /register-fpd-document", func(w http.ResponseWriter, r *http.Request) {
		var reg Registration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.regs = append(f.regs, reg)
		f.mu.Unlock()
		w.WriteHeader(int(f.status.Load()))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeCentral) port(t *testing.T) int {
	t.Helper()
	u, err := url.Parse(f.URL)
	require.NoError(t, err)
	p, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return p
}

func (f *fakeCentral) registrations() []Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Registration(nil), f.regs...)
}

// closedPort 返回一个当前没有监听的端口
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type fakeStarter struct {
	port  int
	calls atomic.Int32
}

func (f *fakeStarter) EnsureStarted(context.Context) (int, error) {
	f.calls.Add(1)
	return f.port, nil
}

func newIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	issuer, err := auth.New(&auth.Config{})
	require.NoError(t, err)
	return issuer
}

func newCentralized(t *testing.T, cfg *CentralizedConfig, issuer *auth.Issuer) *Centralized {
	t.Helper()
	cfg.Host = "127.0.0.1"
	c, err := NewCentralized(cfg, issuer, WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

var testDescriptor = &uspto.DocumentDescriptor{
	PetitionID:         "pid-1",
	DocumentIdentifier: "DOC1",
	DownloadURL:        "https://api.uspto.gov/download/DOC1",
	Filename: uspto.FilenameParts{
		PetitionMailDate:  "2024-03-15",
		ApplicationNumber: "16123456",
		Description:       "Petition Decision",
	},
}

func TestNewCentralized(t *testing.T) {
	_, err := NewCentralized(nil, nil)
	assert.ErrorIs(t, err, ErrIssuerNil)
}

func TestCentralizedDisabled(t *testing.T) {
	central := newFakeCentral(t)
	port := central.port(t)
	c := newCentralized(t, &CentralizedConfig{Disabled: true, Port: &port}, newIssuer(t))
	local := &fakeStarter{port: 8081}

	assert.True(t, c.Disabled())
	assert.Equal(t, 0, c.Discover(context.Background()))

	link, err := c.Link(context.Background(), testDescriptor, local)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8081/download/pid-1/DOC1", link.URL)
	assert.Equal(t, LinkLocal, link.Type)
	assert.Equal(t, StatusLocalFallback, link.Status)
	assert.Equal(t, int32(0), central.probes.Load(), "禁用时不探测")
	assert.Empty(t, central.registrations())
}

func TestCentralizedRegister(t *testing.T) {
	central := newFakeCentral(t)
	port := central.port(t)
	issuer := newIssuer(t)
	c := newCentralized(t, &CentralizedConfig{Port: &port}, issuer)
	local := &fakeStarter{port: 8081}
	ctx := context.Background()

	t.Run("登记成功返回集中代理链接", func(t *testing.T) {
		link, err := c.Link(ctx, testDescriptor, local)
		require.NoError(t, err)
		assert.Equal(t, LinkCentralized, link.Type)
		assert.Equal(t, StatusCentralizedRegistered, link.Status)
		assert.Equal(t, port, link.Port)
		assert.Equal(t, central.URL+"/download/pid-1/DOC1", link.URL)
		assert.Equal(t, int32(0), local.calls.Load())

		regs := central.registrations()
		require.Len(t, regs, 1)
		reg := regs[0]
		assert.Equal(t, "fpd", reg.Source)
		assert.Equal(t, "pid-1", reg.PetitionID)
		assert.Equal(t, "DOC1", reg.DocumentIdentifier)
		assert.Equal(t, testDescriptor.DownloadURL, reg.DownloadURL)
		assert.Equal(t, "16123456", reg.ApplicationNumber)
		assert.Equal(t, "PET-2024-03-15_APP-16123456_PETITION_DECISION.pdf", reg.EnhancedFilename)

		claims, err := issuer.Parse(ctx, reg.AccessToken)
		require.NoError(t, err)
		assert.True(t, claims.Allows("pid-1", "DOC1"))
		assert.NotContains(t, reg.AccessToken, testkit.APIKey)
	})

	t.Run("登记被拒绝时回落到本地代理", func(t *testing.T) {
		central.status.Store(http.StatusInternalServerError)
		link, err := c.Link(ctx, testDescriptor, local)
		require.NoError(t, err)
		assert.Equal(t, LinkLocal, link.Type)
		assert.Equal(t, StatusLocalFallback, link.Status)
		assert.Equal(t, 8081, link.Port)
		assert.Equal(t, int32(1), local.calls.Load())
	})
}

func TestCentralizedDiscover(t *testing.T) {
	ctx := context.Background()

	t.Run("探测主端口", func(t *testing.T) {
		central := newFakeCentral(t)
		c := newCentralized(t, &CentralizedConfig{PrimaryPort: central.port(t), AlternatePorts: []int{}}, newIssuer(t))
		assert.Equal(t, central.port(t), c.Discover(ctx))
	})

	t.Run("显式端口无响应时不再探测其它端口", func(t *testing.T) {
		central := newFakeCentral(t)
		dead := closedPort(t)
		c := newCentralized(t, &CentralizedConfig{
			Port:           &dead,
			PrimaryPort:    central.port(t),
			AlternatePorts: []int{central.port(t)},
		}, newIssuer(t))
		var sleeps int
		c.sleep = func(context.Context, time.Duration) error { sleeps++; return nil }

		assert.Equal(t, 0, c.Discover(ctx))
		assert.Zero(t, sleeps)
		assert.Zero(t, central.probes.Load())
	})

	t.Run("备用端口只在最后一轮探测", func(t *testing.T) {
		central := newFakeCentral(t)
		c := newCentralized(t, &CentralizedConfig{
			PrimaryPort:    closedPort(t),
			AlternatePorts: []int{closedPort(t), central.port(t)},
			ProbeAttempts:  3,
		}, newIssuer(t))
		var sleeps int
		c.sleep = func(context.Context, time.Duration) error { sleeps++; return nil }

		assert.Equal(t, central.port(t), c.Discover(ctx))
		assert.Equal(t, 2, sleeps)
		assert.Equal(t, int32(1), central.probes.Load())
	})

	t.Run("都不可用返回 0 并缓存结果", func(t *testing.T) {
		c := newCentralized(t, &CentralizedConfig{PrimaryPort: closedPort(t), AlternatePorts: []int{}}, newIssuer(t))
		var sleeps int
		c.sleep = func(context.Context, time.Duration) error { sleeps++; return nil }

		assert.Equal(t, 0, c.Discover(ctx))
		assert.Equal(t, 0, c.Discover(ctx))
		assert.Equal(t, 1, sleeps, "第二次命中缓存")

		local := &fakeStarter{port: 18081}
		link, err := c.Link(ctx, testDescriptor, local)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:18081/download/pid-1/DOC1", link.URL)
	})

	t.Run("非 200 不算存活", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)
		u, _ := url.Parse(srv.URL)
		p, _ := strconv.Atoi(u.Port())
		c := newCentralized(t, &CentralizedConfig{PrimaryPort: p, AlternatePorts: []int{}}, newIssuer(t))
		assert.Equal(t, 0, c.Discover(ctx))
	})
}
