// Package server 把实验目录交给标准静态文件服务（gin StaticFS + net/http FileServer）。
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Root string
	Bind string // 空串表示所有网卡
	Port int    // 0 表示由系统分配（测试用）

	// AccessLog 为 nil 时不记录访问日志。
	AccessLog io.Writer
}

// ListenError 表示端口无法绑定（例如已被占用）。
type ListenError struct {
	Addr string
	Err  error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("无法监听 %s（端口可能已被占用）：%v", e.Addr, e.Err)
}

func (e *ListenError) Unwrap() error { return e.Err }

type Server struct {
	ln  net.Listener
	srv *http.Server
}

// NewHandler 返回以 root 为根的静态文件 handler：
// 目录可列出（与 python -m http.server 一致），允许跨域读取 config.json。
func NewHandler(root string, accessLog io.Writer) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	if accessLog != nil {
		r.Use(gin.LoggerWithWriter(accessLog))
	}
	r.Use(cors.Default())
	r.StaticFS("/", gin.Dir(root, true))
	return r
}

// Listen 先完成端口绑定：端口冲突在这里直接失败，而不是在后台 goroutine 里。
func Listen(opts Options) (*Server, error) {
	addr := net.JoinHostPort(opts.Bind, strconv.Itoa(opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ListenError{Addr: addr, Err: err}
	}
	return &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           NewHandler(opts.Root, opts.AccessLog),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Port 返回实际监听的端口（Options.Port 为 0 时由系统分配）。
func (s *Server) Port() int {
	if a, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Run 阻塞直到 ctx 结束（通常是 Ctrl+C），然后优雅关闭。
//
// 中断是正常退出路径：返回 nil。只有 Serve 自身失败才返回错误。
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
