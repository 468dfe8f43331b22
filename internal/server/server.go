// Package server exposes the pipeline over HTTP. Frames travel as raw RGBA
// bodies, optionally zstd-compressed.
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/andresmejia3/blockfx/internal/blocks"
	"github.com/andresmejia3/blockfx/internal/detector"
	"github.com/andresmejia3/blockfx/internal/log"
	"github.com/andresmejia3/blockfx/internal/pipeline"
	"github.com/andresmejia3/blockfx/internal/pixel"
	"github.com/andresmejia3/blockfx/internal/surface"
	"github.com/andresmejia3/blockfx/internal/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	// DefaultBodyLimit fits a 4K RGBA frame.
	DefaultBodyLimit = 64 << 20

	headerRequestID = "X-Request-ID"
	localRequestID  = "request_id"
)

// Server is the HTTP host for the pipeline
type Server struct {
	app  *fiber.App
	pipe *pipeline.Pipeline
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// New builds the fiber app and its routes.
func New(p *pipeline.Pipeline) (*Server, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(DefaultBodyLimit))
	if err != nil {
		enc.Close()
		return nil, err
	}

	s := &Server{pipe: p, enc: enc, dec: dec}
	s.app = fiber.New(fiber.Config{
		AppName:               "blockfx",
		BodyLimit:             DefaultBodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New(), requestID, accessLog)
	s.app.Get("/healthz", s.handleHealth)
	s.app.Post("/v1/transform", s.handleTransform)
	s.app.Post("/v1/overlay", s.handleOverlay)
	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(addr) }()

	log.Info("http host listening", "addr", addr, "overlay", s.pipe.HasOverlay())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	}
}

// Close releases the zstd coders.
func (s *Server) Close() {
	s.enc.Close()
	s.dec.Close()
}

func requestID(c *fiber.Ctx) error {
	id := c.Get(headerRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	c.Locals(localRequestID, id)
	c.Set(headerRequestID, id)
	return c.Next()
}

func accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	log.Debug("request",
		"id", c.Locals(localRequestID),
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start),
	)
	return err
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "overlay": s.pipe.HasOverlay()})
}

// frameParams reads the frame geometry from the query string.
func frameParams(c *fiber.Ctx) (width, height, square int, kind blocks.Kind) {
	return c.QueryInt("width", -1), c.QueryInt("height", -1), c.QueryInt("square", 1), blocks.ParseKind(c.Query("kind"))
}

func (s *Server) handleTransform(c *fiber.Ctx) error {
	width, height, square, kind := frameParams(c)
	return s.run(c, width, height, func(src, dst surface.Surface) error {
		return s.pipe.Transform(src, dst, width, height, square, kind)
	})
}

func (s *Server) handleOverlay(c *fiber.Ctx) error {
	width, height, square, kind := frameParams(c)
	return s.run(c, width, height, func(src, dst surface.Surface) error {
		return s.pipe.TransformWithOverlay(src, dst, width, height, square, kind)
	})
}

// run loads the request body into a source canvas, calls op, and replies
// with the destination canvas.
func (s *Server) run(c *fiber.Ctx, width, height int, op func(src, dst surface.Surface) error) error {
	if width < 0 || height < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "width and height query parameters are required")
	}

	body, err := s.requestBody(c)
	if err != nil {
		return err
	}
	// Dimensions come from the query string; check them against the body
	// before allocating canvases.
	if err := pixel.Validate(body, width, height); err != nil {
		return err
	}

	src := surface.NewCanvas(width, height)
	if err := src.WritePixels(body, width, height, 0, 0); err != nil {
		return err
	}
	dst := surface.NewCanvas(width, height)
	if err := op(src, dst); err != nil {
		return err
	}
	out, err := dst.ReadPixels(0, 0, width, height)
	if err != nil {
		return err
	}
	return s.reply(c, out)
}

func (s *Server) requestBody(c *fiber.Ctx) ([]byte, error) {
	// Raw body: fiber's Body() would try to decode Content-Encoding itself.
	body := c.Request().Body()
	if !strings.EqualFold(c.Get(fiber.HeaderContentEncoding), "zstd") {
		return body, nil
	}
	out, err := s.dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid zstd body: "+err.Error())
	}
	return out, nil
}

func (s *Server) reply(c *fiber.Ctx, out []byte) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	if strings.Contains(strings.ToLower(c.Get(fiber.HeaderAcceptEncoding)), "zstd") {
		c.Set(fiber.HeaderContentEncoding, "zstd")
		return c.Send(s.enc.EncodeAll(out, nil))
	}
	return c.Send(out)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, pixel.ErrInvalidBufferSize),
		errors.Is(err, blocks.ErrInvalidConfig),
		errors.Is(err, surface.ErrOutOfBounds):
		return fiber.StatusBadRequest
	case errors.Is(err, detector.ErrNoDetection):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNoDetector):
		return fiber.StatusNotImplemented
	case errors.Is(err, detector.ErrDetection):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	id, _ := c.Locals(localRequestID).(string)
	if code >= fiber.StatusInternalServerError {
		log.Error("request failed", "id", id, "path", c.Path(), "err", err)
	} else {
		log.Debug("request rejected", "id", id, "path", c.Path(), "err", err)
	}
	return c.Status(code).JSON(types.ErrorResult{Error: err.Error(), RequestID: id})
}
