package statusapi

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/igcli/internal/display"
)

var log = logrus.WithField("module", "statusapi")

// Session 只读的会话信息
type Session interface {
	Status() (online bool, accountID string)
	Generation() uint64
	Running() bool
	Tracked() []string
	Failures() (count int64, last string)
}

// StatusResponse /api/status 的返回
type StatusResponse struct {
	Online     bool     `json:"online"`
	AccountID  string   `json:"accountId,omitempty"`
	Generation uint64   `json:"generation"`
	Running    bool     `json:"running"`
	Tracked    []string `json:"tracked"`
	Failures   int64    `json:"failures"`
	LastError  string   `json:"lastError,omitempty"`
}

// BufferResponse /api/buffers/:name 的返回
type BufferResponse struct {
	Name       string `json:"name"`
	Generation uint64 `json:"generation"`
	Text       string `json:"text"`
}

// Server 只读状态接口，不提供任何修改操作
type Server struct {
	sess  Session
	board *display.Board

	mu  sync.Mutex
	srv *http.Server
}

// New 创建服务
func New(sess Session, board *display.Board) *Server {
	return &Server{sess: sess, board: board}
}

// Router 路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/buffers/:name", s.handleBuffer)
	api.GET("/messages", s.handleMessages)
	return r
}

func (s *Server) handleStatus(c *gin.Context) {
	online, id := s.sess.Status()
	tracked := s.sess.Tracked()
	if tracked == nil {
		tracked = []string{}
	}
	failures, lastErr := s.sess.Failures()
	c.JSON(http.StatusOK, StatusResponse{
		Online:     online,
		AccountID:  id,
		Generation: s.sess.Generation(),
		Running:    s.sess.Running(),
		Tracked:    tracked,
		Failures:   failures,
		LastError:  lastErr,
	})
}

func (s *Server) handleBuffer(c *gin.Context) {
	name := c.Param("name")
	b, ok := s.board.Buffer(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown buffer: " + name})
		return
	}
	frame := b.Load()
	c.JSON(http.StatusOK, BufferResponse{Name: name, Generation: frame.Generation, Text: frame.Text})
}

func (s *Server) handleMessages(c *gin.Context) {
	lines := s.board.Messages.Lines()
	if lines == nil {
		lines = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": lines})
}

// Start 在 addr 上监听；监听失败时直接返回错误
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("状态接口退出")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("状态接口已启动")
	return nil
}

// Shutdown 关闭服务；未启动时直接返回
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
