package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
	"github.com/shaiso/Interflow/internal/interpreter"
	"github.com/shaiso/Interflow/internal/invoker"
	"github.com/shaiso/Interflow/internal/orchestrator"
	"github.com/shaiso/Interflow/internal/repo"
)

type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
)

// Ответы API: {"data": ...}, {"data": [...], "total": N} или
// {"error": {"code": ..., "message": ...}}.
type (
	DataResponse struct {
		Data any `json:"data"`
	}

	ListResponse struct {
		Data  any `json:"data"`
		Total int `json:"total,omitempty"`
	}

	ErrorResponse struct {
		Error ErrorDetail `json:"error"`
	}

	ErrorDetail struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	}
)

func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Заголовок уже отправлен, ошибку записи клиенту не сообщить.
	_ = json.NewEncoder(w).Encode(body)
}

func Success(w http.ResponseWriter, data any) { JSON(w, http.StatusOK, DataResponse{Data: data}) }

func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, DataResponse{Data: data}) }

func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func InvalidState(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, message)
}

// InternalError логирует err и отвечает 500 без подробностей.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// errorMapping — sentinel-ошибки и их HTTP ответы. Первое совпадение побеждает.
var errorMapping = []struct {
	targets []error
	status  int
	code    ErrorCode
}{
	{
		targets: []error{orchestrator.ErrRunNotFound, repo.ErrNotFound},
		status:  http.StatusNotFound,
		code:    ErrCodeNotFound,
	},
	{
		targets: []error{orchestrator.ErrRunNotActive, interpreter.ErrInvalidTransition},
		status:  http.StatusUnprocessableEntity,
		code:    ErrCodeInvalidState,
	},
	{
		targets: []error{orchestrator.ErrOrchestratorStopped},
		status:  http.StatusServiceUnavailable,
		code:    ErrCodeUnavailable,
	},
	{
		targets: []error{
			engine.ErrEmptyDocument,
			engine.ErrInvalidEdge,
			engine.ErrEmptyGraph,
			invoker.ErrUnknownService,
			domain.ErrUnknownNode,
			domain.ErrUnknownPort,
			domain.ErrDuplicateNode,
			domain.ErrPortKindMismatch,
		},
		status: http.StatusBadRequest,
		code:   ErrCodeBadRequest,
	},
}

// HandleError пишет ответ для err. false — err == nil, ответ не записан.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	for _, m := range errorMapping {
		for _, target := range m.targets {
			if errors.Is(err, target) {
				message := err.Error()
				if m.code == ErrCodeNotFound {
					message = "run not found"
				}
				Error(w, m.status, m.code, message)
				return true
			}
		}
	}

	var vErr *engine.ValidationError
	var cErr *interpreter.ConfigError
	if errors.As(err, &vErr) || errors.As(err, &cErr) {
		BadRequest(w, err.Error())
		return true
	}

	InternalError(w, logger, err)
	return true
}
