package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"dispute-agent/internal/dialogue"
	"dispute-agent/internal/usecase"
)

const (
	emptyMessageText = "Please type a message so I can help you with your dispute."
	longMessageText  = "Your message is too long. Please shorten it and try again."
	busyText         = "I'm still working on your previous message. Please try again in a moment."
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"INTERNAL_ERROR"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, err error, correlationID string) {
	resp := errorResponse{Error: string(usecase.CodeOf(err)), CorrelationID: correlationID}
	var ue *usecase.Error
	if errors.As(err, &ue) {
		resp.Reason = ue.Reason
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch usecase.CodeOf(err) {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuery:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorBusy:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// chatErrorMessage is the user-facing text of a failed chat turn. Upstream
// and internal failures all get the generic retry message.
func chatErrorMessage(err error) string {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return dialogue.RetryMessage
	}
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		if ue.Reason == "message_too_long" {
			return longMessageText
		}
		return emptyMessageText
	case usecase.ErrorBusy:
		return busyText
	}
	return dialogue.RetryMessage
}
