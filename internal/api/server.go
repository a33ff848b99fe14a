package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/alphacombiner/internal/combiner"
	"github.com/samcharles93/alphacombiner/internal/inspect"
	"github.com/samcharles93/alphacombiner/internal/logger"
	"github.com/samcharles93/alphacombiner/internal/version"
	"github.com/samcharles93/alphacombiner/pkg/bam"
)

const (
	// DefaultMaxBodySize caps uploaded containers.
	DefaultMaxBodySize = 256 << 20

	HeaderConversions = "X-Alphacombiner-Conversions"
	HeaderModified    = "X-Alphacombiner-Modified"
	HeaderVersion     = "X-Alphacombiner-Version"
	HeaderRequestID   = "X-Request-Id"

	mimeBAM = "application/octet-stream"
)

type Config struct {
	// MaxBodySize is the largest accepted upload; zero means DefaultMaxBodySize.
	MaxBodySize int64
	// MaxHandleDepth bounds nested handle definitions of uploaded containers.
	MaxHandleDepth int
}

// Server exposes inspect and convert over HTTP. Every request decodes with
// its own encoding state, so requests never share pointer width.
type Server struct {
	log     logger.Logger
	cfg     Config
	started time.Time
	clock   func() time.Time
}

func NewServer(log logger.Logger, cfg Config) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	s := &Server{log: log, cfg: cfg, clock: time.Now}
	s.started = s.clock()
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/inspect", s.handleInspect)
	e.POST("/v1/convert", s.handleConvert)
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.String(),
		Uptime:  s.clock().Sub(s.started).Truncate(time.Second).String(),
	})
}

func (s *Server) handleInspect(c *echo.Context) error {
	reqID := requestID(c)
	data, err := s.readBody(c)
	if err != nil {
		return writeBodyError(c, err)
	}

	f, err := bam.Parse(data, bam.Options{
		State:          bam.NewEncodingState(),
		MaxHandleDepth: s.cfg.MaxHandleDepth,
	})
	if err != nil {
		s.log.Warn("inspect rejected container", "request", reqID, "err", err)
		return writeFormatError(c, err)
	}
	f.Path = c.QueryParam("name")

	sum, err := inspect.Summarize(f)
	if err != nil {
		return writeFormatError(c, err)
	}
	return writeJSON(c, http.StatusOK, sum)
}

func (s *Server) handleConvert(c *echo.Context) error {
	reqID := requestID(c)
	opts, err := convertOptions(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	opts.MaxHandleDepth = s.cfg.MaxHandleDepth

	data, err := s.readBody(c)
	if err != nil {
		return writeBodyError(c, err)
	}

	name := c.QueryParam("name")
	if name == "" {
		name = "upload.bam"
	}
	cb := combiner.New(opts, combiner.WithLogger(s.log.With("request", reqID)))
	res, err := cb.Process(name, data)
	if err != nil {
		s.log.Warn("convert rejected container", "request", reqID, "err", err)
		return writeFormatError(c, err)
	}

	conversions := res.Conversions
	if conversions == nil {
		conversions = [][]string{}
	}
	header, err := inspect.Marshal(conversions, false)
	if err != nil {
		return err
	}
	h := c.Response().Header()
	h.Set(HeaderConversions, string(header))
	h.Set(HeaderModified, strconv.FormatBool(res.Modified))
	h.Set(HeaderVersion, res.Version.String())
	return c.Blob(http.StatusOK, mimeBAM, res.Data)
}

func convertOptions(c *echo.Context) (combiner.Options, error) {
	var opts combiner.Options
	var err error
	if opts.ConvertPlain, err = boolParam(c, "jpg"); err != nil {
		return opts, err
	}
	if opts.ConvertPaired, err = boolParam(c, "rgb"); err != nil {
		return opts, err
	}
	if v := c.QueryParam("version"); v != "" {
		if opts.TargetVersion, err = bam.ParseVersion(v); err != nil {
			return opts, fmt.Errorf("version: %w", err)
		}
	}
	return opts, nil
}

func boolParam(c *echo.Context, name string) (bool, error) {
	v := c.QueryParam(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: expected a boolean, got %q", name, v)
	}
	return b, nil
}

func (s *Server) readBody(c *echo.Context) ([]byte, error) {
	body := c.Request().Body
	if body == nil {
		return nil, newInvalidRequest("empty request body")
	}
	data, err := io.ReadAll(io.LimitReader(body, s.cfg.MaxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.cfg.MaxBodySize {
		return nil, errBodyTooLarge
	}
	if len(data) == 0 {
		return nil, newInvalidRequest("empty request body")
	}
	return data, nil
}

func requestID(c *echo.Context) string {
	id := c.Request().Header.Get(HeaderRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	c.Response().Header().Set(HeaderRequestID, id)
	return id
}
