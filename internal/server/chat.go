package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/KaramelBytes/dataloom/internal/analysis"
	"github.com/KaramelBytes/dataloom/internal/storage"
)

const (
	emptyMessageReply = "メッセージが空です。"
	chatErrorPrefix   = "エラーが発生しました: "

	datasetContextHeader = "以下のデータセットの概要を踏まえて回答してください。"
)

type chatError struct {
	Reply   string `json:"reply"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// apiKey looks up the user's model key; anonymous callers get "".
func (s *Server) apiKey(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil
	}
	return s.chats.GeminiAPIKey(ctx, userID)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reply": emptyMessageReply})
		return
	}
	ctx := r.Context()
	reply, err := s.chat(ctx, req)
	if err != nil {
		status, summary := s.report(r, err)
		writeJSON(w, status, chatError{Reply: chatErrorPrefix + err.Error(), Error: summary, Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) chat(ctx context.Context, req chatRequest) (string, error) {
	key, err := s.apiKey(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	prompt, err := s.prompt(ctx, req)
	if err != nil {
		return "", err
	}
	reply, err := s.assistant.Chat(ctx, key, prompt)
	if err != nil {
		return "", err
	}
	user := storage.Chat{RoomID: req.RoomID, Message: req.UserMessage, PostID: req.PostID, UserChat: true}
	if err := s.chats.SaveChat(ctx, user); err != nil {
		return "", err
	}
	bot := storage.Chat{RoomID: req.RoomID, Message: reply, PostID: req.PostID + 1}
	if err := s.chats.SaveChat(ctx, bot); err != nil {
		return "", err
	}
	return reply, nil
}

// prompt prefixes the message with the dataset summary when csv_id is set.
func (s *Server) prompt(ctx context.Context, req chatRequest) (string, error) {
	id := strings.TrimSpace(req.CSVID)
	if id == "" {
		return req.Message, nil
	}
	f, err := s.datasets.Load(ctx, id)
	if err != nil {
		return "", err
	}
	summary := analysis.Build(id, f, analysis.DefaultOptions()).Markdown()
	return datasetContextHeader + "\n" + summary + "\n" + req.Message, nil
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	png, err := decodeImage(req.ImageData)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	key, err := s.apiKey(ctx, req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	text, err := s.assistant.DescribeImage(ctx, key, png)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.chats.SaveChat(ctx, storage.Chat{RoomID: req.RoomID, Message: text, PostID: 0}); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// decodeImage accepts raw standard base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	if s == "" {
		return nil, invalid("image_data is required")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, invalid("image_data is not base64: %v", err)
	}
	return b, nil
}
