package scan

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/recycle-rewards/internal/vision"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleSubmitScan runs one full scan session for an uploaded still image.
// An Idempotency-Key header carries a caller-generated submission ID so the
// client can safely repeat the whole request.
func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		corsError(w, "User ID is required", http.StatusBadRequest)
		return
	}

	// 50MB cap to handle high-resolution phone photos
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			msg = "File is too large. Maximum size is 50MB."
		}
		corsError(w, msg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		corsError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading uploaded file", "error", err)
		corsError(w, "Error reading file", http.StatusBadRequest)
		return
	}

	var session *Session
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		session = s.orchestrator.NewSessionWithID(userID, key)
	} else {
		session = s.orchestrator.NewSession(userID)
	}

	slog.Info("Processing scan",
		"user_id", userID,
		"submission_id", session.SubmissionID(),
		"filename", header.Filename,
		"file_size", len(data),
	)

	result, err := session.Run(r.Context(), StillCamera(data))
	if err != nil {
		slog.Error("Scan session failed",
			"user_id", userID,
			"submission_id", session.SubmissionID(),
			"state", session.State(),
			"error", err,
		)
		corsError(w, err.Error(), statusForScanError(err))
		return
	}

	s.setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusForScanError maps the session error taxonomy to HTTP status codes
func statusForScanError(err error) int {
	switch {
	case errors.Is(err, vision.ErrInvalidImage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vision.ErrServiceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrCreditFailed):
		return http.StatusConflict
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrCancelled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleGetLedger returns a user's balance and scan count
func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		corsError(w, "User ID is required", http.StatusBadRequest)
		return
	}

	account, err := s.ledger.Account(r.Context(), userID)
	if err != nil {
		slog.Error("Error reading ledger", "user_id", userID, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(account); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleLeaderboard returns the highest balances
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			corsError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	accounts, err := s.ledger.Leaderboard(r.Context(), limit)
	if err != nil {
		slog.Error("Error reading leaderboard", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(accounts); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}
