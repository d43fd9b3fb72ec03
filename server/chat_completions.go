package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/KMouratidis/distributed-llama/api"
	"github.com/KMouratidis/distributed-llama/internal/chatfmt"
	"github.com/KMouratidis/distributed-llama/internal/generate"
)

const (
	defaultTemperature = 0.8
	defaultTopP        = 0.9
	defaultMaxTokens   = 8192
)

// handleChatCompletions implements POST /v1/chat/completions (§6),
// streaming via SSE when req.Stream is set and returning a single
// JSON body otherwise.
func (s *Server) handleChatCompletions(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request: %s", err.Error())
		return
	}
	if len(req.Messages) == 0 {
		c.String(http.StatusBadRequest, "invalid request: messages must not be empty")
		return
	}

	messages := make([]chatfmt.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = chatfmt.Message{Role: m.Role, Content: m.Content}
	}
	prompt := renderPrompt(messages)

	promptIDs, err := s.tok.Encode(prompt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: api.ErrorDetail{Message: err.Error(), Type: "server_error"}})
		return
	}

	genReq := generate.Request{
		PromptIDs:   promptIDs,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
		Stop:        req.Stop,
	}
	if req.MaxTokens != nil {
		genReq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		genReq.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		genReq.TopP = *req.TopP
	}
	if req.Seed != nil {
		genReq.Seed = uint64(*req.Seed)
	} else {
		genReq.Seed = uint64(time.Now().UnixNano())
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	if req.Stream {
		s.streamChatCompletion(c, id, created, s.modelTag, genReq)
		return
	}
	s.batchChatCompletion(c, id, created, s.modelTag, genReq, len(promptIDs))
}

func (s *Server) batchChatCompletion(c *gin.Context, id string, created int64, model string, genReq generate.Request, promptTokens int) {
	var sb strings.Builder
	completionTokens := 0
	finishReason := "stop"

	err := s.gen.Run(c.Request.Context(), genReq, func(r generate.Result) error {
		if r.Finished {
			finishReason = r.Reason
			return nil
		}
		sb.WriteString(r.Piece)
		completionTokens++
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: api.ErrorDetail{Message: err.Error(), Type: "server_error"}})
		return
	}

	content := sb.String()
	c.JSON(http.StatusOK, api.ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      &api.Message{Role: "assistant", Content: content},
			FinishReason: &finishReason,
		}},
		Usage: api.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

func (s *Server) streamChatCompletion(c *gin.Context, id string, created int64, model string, genReq generate.Request) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)

	writeChunk := func(delta *api.Message, finishReason *string) {
		chunk := api.ChatChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []api.Choice{{Index: 0, Delta: delta, FinishReason: finishReason}},
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", mustMarshal(chunk))
		if canFlush {
			flusher.Flush()
		}
	}

	err := s.gen.Run(c.Request.Context(), genReq, func(r generate.Result) error {
		if r.Finished {
			reason := r.Reason
			writeChunk(&api.Message{}, &reason)
			return nil
		}
		writeChunk(&api.Message{Content: r.Piece}, nil)
		return nil
	})
	if err != nil {
		reason := "error"
		writeChunk(&api.Message{}, &reason)
	}

	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}
