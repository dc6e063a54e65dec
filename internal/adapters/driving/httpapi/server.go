// Package httpapi exposes a transfer receiver over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driving"
	"github.com/custodia-labs/ferry/internal/logger"
)

// DefaultBasePath is where the protocol resources are mounted.
const DefaultBasePath = "/ferry/transfer"

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Server serves the transfer protocol.
type Server struct {
	echo     *echo.Echo
	receiver driving.TransferReceiver
	basePath string
	username string
	password string
}

// Option configures a Server.
type Option func(*Server)

// WithBasePath mounts the resources under path.
func WithBasePath(path string) Option {
	return func(s *Server) {
		s.basePath = "/" + strings.Trim(path, "/")
		if s.basePath == "/" {
			s.basePath = ""
		}
	}
}

// WithBasicAuth requires HTTP basic credentials on every request.
func WithBasicAuth(username, password string) Option {
	return func(s *Server) {
		s.username = username
		s.password = password
	}
}

// New creates a server in front of receiver.
func New(receiver driving.TransferReceiver, opts ...Option) *Server {
	s := &Server{
		receiver: receiver,
		basePath: DefaultBasePath,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handleError
	e.Use(middleware.Recover())
	e.Use(requestLogger)

	g := e.Group(s.basePath)
	if s.username != "" {
		g.Use(middleware.BasicAuth(s.checkCredentials))
	}
	g.POST("/test", s.test)
	g.POST("/begin", s.begin)
	g.POST("/post-snapshot", s.postSnapshot)
	g.POST("/post-content", s.postContent)
	g.POST("/prepare", s.prepare)
	g.POST("/commit", s.commit)
	g.POST("/abort", s.abort)
	g.POST("/status", s.status)
	g.POST("/report", s.report)

	s.echo = e
	return s
}

func (s *Server) checkCredentials(username, password string, _ echo.Context) (bool, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	return userOK && passOK, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve listens on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.echo.Start(addr)
	}()
	logger.Info("Receiver listening on %s%s", addr, s.basePath)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		logger.Debug("%s %s transferId=%s (%s)", c.Request().Method, c.Path(),
			c.QueryParam(ParamTransferID), time.Since(start).Round(time.Millisecond))
		return err
	}
}

// handleError renders every failure as the structured error payload.
func handleError(err error, c echo.Context) {
	if c.Response().Committed {
		logger.Warn("%s failed after response started: %v", c.Path(), err)
		return
	}

	code := statusCode(err)
	var payload *domain.TransferError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		payload = &domain.TransferError{Message: http.StatusText(he.Code)}
		if msg, ok := he.Message.(string); ok {
			payload.Message = msg
		}
	} else {
		payload = domain.AsTransferError(err)
	}
	if code >= http.StatusInternalServerError {
		logger.Error("%s: %v", c.Path(), err)
	}

	if err := c.JSON(code, payload); err != nil {
		logger.Warn("write error response: %v", err)
	}
}

func statusCode(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, domain.ErrTransferInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownTransfer):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTransferToSelf),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrContentMissing):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
