// Package server implements the root's HTTP surface: the
// OpenAI-compatible chat completions endpoint (§6).
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/KMouratidis/distributed-llama/internal/chatfmt"
	"github.com/KMouratidis/distributed-llama/internal/generate"
	"github.com/KMouratidis/distributed-llama/internal/tokenizer"
)

// Server wraps the gin engine and everything a chat completion request
// needs to run generation.
type Server struct {
	engine   *gin.Engine
	gen      *generate.Engine
	tok      *tokenizer.Tokenizer
	modelTag string
}

// New builds the HTTP server for the given generation engine.
// modelTag is the string returned in every response's "model" field.
func New(gen *generate.Engine, tok *tokenizer.Tokenizer, modelTag string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	s := &Server{engine: r, gen: gen, tok: tok, modelTag: modelTag}
	r.POST("/v1/chat/completions", s.handleChatCompletions)
	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		slog.Info("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}

func renderPrompt(messages []chatfmt.Message) string {
	return chatfmt.Render(messages)
}
