package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"content-security-bff/pkg/moderation"
)

const (
	trpcPrefix   = "/trpc/"
	maxInputSize = 1 << 20
)

// JSON-RPC style codes used by tRPC error envelopes.
const (
	codeBadRequest         = -32600
	codeNotFound           = -32004
	codeMethodNotSupported = -32005
	codeInternal           = -32603
)

type procedureKind int

const (
	kindQuery procedureKind = iota
	kindMutation
)

func (k procedureKind) method() string {
	if k == kindMutation {
		return http.MethodPost
	}
	return http.MethodGet
}

type procedure struct {
	handle func(ctx context.Context, input json.RawMessage) (any, error)
	kind   procedureKind
}

// ValidationError indicates procedure input that failed to decode or validate.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// errMethodNotSupported and errProcedureNotFound are routing failures.
var (
	errMethodNotSupported = errors.New("method not supported")
	errProcedureNotFound  = errors.New("procedure not found")
)

type successEnvelope struct {
	Result struct {
		Data any `json:"data"`
	} `json:"result"`
}

type errorEnvelope struct {
	Error errorShape `json:"error"`
}

type errorShape struct {
	Message string    `json:"message"`
	Data    errorData `json:"data"`
	Code    int       `json:"code"`
}

type errorData struct {
	Code       string `json:"code"`
	Path       string `json:"path"`
	HTTPStatus int    `json:"httpStatus"`
}

// typed adapts a handler over a concrete input struct: the raw input is
// decoded into T and validated before fn runs.
func typed[T any](s *Server, fn func(ctx context.Context, in *T) (any, error)) func(context.Context, json.RawMessage) (any, error) {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		in := new(T)
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			if err := json.Unmarshal(trimmed, in); err != nil {
				return nil, &ValidationError{Err: fmt.Errorf("decode input: %w", err)}
			}
		}
		if err := s.validate.Struct(in); err != nil {
			return nil, &ValidationError{Err: describeValidation(err)}
		}
		return fn(ctx, in)
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describeValidation flattens validator errors into "field: rule" pairs.
func describeValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Field()+": "+rule)
	}
	return errors.New(strings.Join(parts, "; "))
}

func (s *Server) handleTRPC(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, trpcPrefix)

	proc, ok := s.procedures[path]
	if !ok {
		s.writeError(w, r, path, fmt.Errorf("%w: %q", errProcedureNotFound, path))
		return
	}
	if r.Method != proc.kind.method() {
		s.writeError(w, r, path, fmt.Errorf("%w: %s %s", errMethodNotSupported, r.Method, path))
		return
	}
	if r.URL.Query().Has("batch") {
		s.writeError(w, r, path, &ValidationError{Err: errors.New("batched calls are not supported")})
		return
	}

	var raw json.RawMessage
	if proc.kind == kindQuery {
		raw = json.RawMessage(r.URL.Query().Get("input"))
	} else {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxInputSize+1))
		if err != nil {
			s.writeError(w, r, path, &ValidationError{Err: fmt.Errorf("read body: %w", err)})
			return
		}
		if len(body) > maxInputSize {
			s.writeError(w, r, path, &ValidationError{Err: errors.New("request body too large")})
			return
		}
		raw = body
	}

	data, err := proc.handle(r.Context(), raw)
	if err != nil {
		s.writeError(w, r, path, err)
		return
	}

	var env successEnvelope
	env.Result.Data = data
	s.writeJSON(w, http.StatusOK, env)
}

// classify maps an error to its tRPC code name, HTTP status and RPC code.
func (s *Server) classify(err error) (name string, status, code int) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		return "BAD_REQUEST", http.StatusBadRequest, codeBadRequest
	case errors.Is(err, errProcedureNotFound):
		return "NOT_FOUND", http.StatusNotFound, codeNotFound
	case errors.Is(err, errMethodNotSupported):
		return "METHOD_NOT_SUPPORTED", http.StatusMethodNotAllowed, codeMethodNotSupported
	case errors.Is(err, moderation.ErrContentUnavailable),
		errors.Is(err, moderation.ErrInvalidScore),
		s.isUpstreamError(err):
		return "BAD_GATEWAY", http.StatusBadGateway, codeInternal
	default:
		return "INTERNAL_SERVER_ERROR", http.StatusInternalServerError, codeInternal
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, path string, err error) {
	name, status, code := s.classify(err)

	logFn := s.logger.Warn
	if status >= http.StatusInternalServerError {
		logFn = s.logger.Error
	}
	logFn("Procedure failed",
		"path", path,
		"method", r.Method,
		"code", name,
		"status_code", status,
		"request_id", requestID(r.Context()),
		"error", err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}

	s.writeJSON(w, status, errorEnvelope{Error: errorShape{
		Message: message,
		Code:    code,
		Data: errorData{
			Code:       name,
			HTTPStatus: status,
			Path:       path,
		},
	}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
