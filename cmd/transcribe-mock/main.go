// Command transcribe-mock serves a fake transcription API for local runs of
// the recorder. Every valid WAV upload gets the same two timestamped lines.
package main

import (
	"bytes"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skypro1111/echo-recorder/internal/audio"
	"github.com/skypro1111/echo-recorder/internal/transcription"
)

func main() {
	addr := flag.String("addr", ":8090", "Listen address")
	apiKey := flag.String("api-key", "", "Require this bearer token when set")
	delay := flag.Duration("delay", time.Second, "Artificial processing delay")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Info("Mock transcription server starting",
		slog.String("address", *addr),
		slog.String("endpoint", "POST /v1/transcribe"),
		slog.Duration("delay", *delay))

	if err := http.ListenAndServe(*addr, newRouter(*apiKey, *delay, logger)); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRouter(apiKey string, delay time.Duration, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "transcribe-mock"})
	})
	r.POST("/v1/transcribe", transcribeHandler(apiKey, delay, logger))
	return r
}

func transcribeHandler(apiKey string, delay time.Duration, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey != "" && c.GetHeader("Authorization") != "Bearer "+apiKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}

		sessionID := c.PostForm("sessionId")
		chunkIndex, err := strconv.Atoi(c.PostForm("chunkIndex"))
		if sessionID == "" || err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and numeric chunkIndex are required"})
			return
		}

		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file part"})
			return
		}
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open upload"})
			return
		}
		defer f.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, f); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
			return
		}
		if err := audio.ValidateWAV(buf.Bytes()); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		language := c.PostForm("language")
		if language == "" {
			language = "en"
		}

		logger.Info("Transcription request received",
			slog.String("session_id", sessionID),
			slog.Int("chunk_index", chunkIndex),
			slog.String("filename", header.Filename),
			slog.Int("size_bytes", buf.Len()),
			slog.String("request_id", c.PostForm("requestId")))

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-c.Request.Context().Done():
				return
			}
		}

		c.JSON(http.StatusOK, transcription.Response{
			SessionID:  sessionID,
			ChunkIndex: chunkIndex,
			Language:   language,
			Lines: []transcription.Line{
				{OffsetMs: 0, Text: "Hello, world!"},
				{OffsetMs: 1200, Text: "This is a mock transcription."},
			},
		})
	}
}
