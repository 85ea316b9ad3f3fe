package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/warp/library-engine/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope statuses.
const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
	maxBodyBytes    = 1 << 20
)

// Envelope wraps every response body.
type Envelope struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Results    *int   `json:"results,omitempty"`
	Total      *int   `json:"total,omitempty"`
	Page       *int   `json:"page,omitempty"`
	TotalPages *int   `json:"totalPages,omitempty"`
	Data       any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Status: statusSuccess, Data: data})
}

func writeList[T any](w http.ResponseWriter, items []T, total int, p pageParams) {
	if items == nil {
		items = []T{}
	}
	results := len(items)
	pages := 0
	if p.limit > 0 {
		pages = (total + p.limit - 1) / p.limit
	}
	writeJSON(w, http.StatusOK, Envelope{
		Status:     statusSuccess,
		Results:    &results,
		Total:      &total,
		Page:       &p.page,
		TotalPages: &pages,
		Data:       items,
	})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Status: statusFail, Message: message})
}

// writeError maps err onto the envelope. Internal errors are logged with
// their detail and reported to the client generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, status, Envelope{Status: statusError, Message: "Internal server error"})
		return
	}
	writeFail(w, status, err.Error())
}

// statusFor maps a library error to an HTTP status.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, library.ErrImmutable):
		return http.StatusForbidden
	case errors.Is(err, library.ErrValidation),
		errors.Is(err, library.ErrConflict),
		errors.Is(err, library.ErrIntegrity):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// REQUEST DECODING
// =============================================================================

var errBadRequest = errors.New("bad request")

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return errBadRequest }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// decode reads a JSON body into dst and runs struct validation.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("invalid request body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return describeValidation(err)
	}
	return nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return badRequest("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "email":
			msgs = append(msgs, fe.Field()+" must be a valid email")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return badRequest("%s", strings.Join(msgs, "; "))
}

// jsonFieldName makes validator report fields by their JSON name.
func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}

type pageParams struct {
	page  int
	limit int
}

func (p pageParams) toPage() library.Page {
	return library.Page{Limit: p.limit, Offset: (p.page - 1) * p.limit}
}

// parsePage reads page and limit. Bad values fall back to defaults and
// limit is capped.
func parsePage(r *http.Request) pageParams {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return pageParams{page: page, limit: limit}
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}
