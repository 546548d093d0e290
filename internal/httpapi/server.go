package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/anshul1007/vermillion/internal/api"
	"github.com/anshul1007/vermillion/internal/blob"
	"github.com/anshul1007/vermillion/internal/ingest"
	"github.com/anshul1007/vermillion/internal/photo"
)

// DefaultMaxBodyBytes bounds a decompressed request body.
const DefaultMaxBodyBytes = 10 << 20

// Server exposes an ingest.Service over HTTP.
type Server struct {
	svc          *ingest.Service
	tokens       *Tokens
	logger       *slog.Logger
	maxBodyBytes int64
	// routes left unregistered, to serve clients against an older server
	disabled map[string]bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		s.maxBodyBytes = n
	}
}

// WithoutRoute leaves the route at path unregistered, so requests to it
// get a plain 404.
func WithoutRoute(path string) Option {
	return func(s *Server) {
		s.disabled[path] = true
	}
}

// New creates a Server.
func New(svc *ingest.Service, tokens *Tokens, opts ...Option) *Server {
	s := &Server{
		svc:          svc,
		tokens:       tokens,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
		disabled:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), inflate(), limitBody(s.maxBodyBytes))

	r.GET(api.PathHealth, s.health)
	r.POST(api.PathRefresh, s.refresh)

	authed := r.Group("", requireAuth(s.tokens))
	s.handle(authed, http.MethodPost, api.PathPersons, s.createPerson)
	s.handle(authed, http.MethodPost, api.PathRecords, s.createRecord)
	s.handle(authed, http.MethodGet, api.PathRecords, s.listRecords)
	s.handle(authed, http.MethodPost, api.PathPhotos, s.uploadPhoto)
	s.handle(authed, http.MethodPost, api.PathBatch, s.batch)
	s.handle(authed, http.MethodGet, ingest.PhotoURLPrefix+"*path", s.servePhoto)

	return r
}

func (s *Server) handle(g *gin.RouterGroup, method, path string, h gin.HandlerFunc) {
	if s.disabled[path] {
		return
	}
	g.Handle(method, path, h)
}

func (s *Server) health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) refresh(c *gin.Context) {
	var req api.RefreshRequest
	if !bindJSON(c, &req) {
		return
	}
	pair, found := s.tokens.Refresh(req.RefreshToken)
	if !found {
		fail(c, http.StatusUnauthorized, api.CodeUnauthorized, "invalid refresh token")
		return
	}
	ok(c, http.StatusOK, pair)
}

func (s *Server) createPerson(c *gin.Context) {
	var in ingest.PersonInput
	if !bindJSON(c, &in) {
		return
	}
	p, created, err := s.svc.RegisterPerson(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, createdStatus(created), p)
}

func (s *Server) createRecord(c *gin.Context) {
	var in ingest.RecordInput
	if !bindJSON(c, &in) {
		return
	}
	rec, created, err := s.svc.CreateRecord(c.Request.Context(), in, c.GetString(userKey))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, createdStatus(created), rec)
}

func (s *Server) listRecords(c *gin.Context) {
	var since time.Time
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, http.StatusBadRequest, api.CodeValidation, "since must be RFC3339")
			return
		}
		since = t
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, api.CodeValidation, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.svc.ListRecords(c.Request.Context(), since, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, records)
}

func (s *Server) uploadPhoto(c *gin.Context) {
	var up api.PhotoUpload
	if !bindJSON(c, &up) {
		return
	}
	_, data, err := photo.DecodeDataURL(up.Image)
	if err != nil {
		fail(c, http.StatusBadRequest, api.CodeValidation, err.Error())
		return
	}
	path, err := s.svc.StorePhoto(c.Request.Context(), data, mimetype.Detect(data).Extension())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, api.PhotoResult{Path: path})
}

func (s *Server) batch(c *gin.Context) {
	var req api.BatchRequest
	if !bindJSON(c, &req) {
		return
	}

	ops := make([]ingest.Operation, len(req.Operations))
	for i, op := range req.Operations {
		ops[i] = ingest.Operation{
			OperationType: op.OperationType,
			EntityType:    op.EntityType,
			ClientID:      op.ClientID,
			Data:          op.Data,
		}
	}

	outcomes := s.svc.ApplyBatch(c.Request.Context(), ops, c.GetString(userKey))
	resp := api.BatchResponse{Results: make([]api.BatchResult, len(outcomes))}
	for i, o := range outcomes {
		res := api.BatchResult{ClientID: o.ClientID, Success: o.Err == nil}
		if o.Err != nil {
			_, detail := s.classify(o.Err)
			res.Error = &detail
		} else {
			data, err := json.Marshal(o.Result)
			if err != nil {
				s.fail(c, err)
				return
			}
			res.Data = data
		}
		resp.Results[i] = res
	}
	ok(c, http.StatusOK, resp)
}

func (s *Server) servePhoto(c *gin.Context) {
	file, err := s.svc.PhotoFile(c.Request.URL.Path)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			fail(c, http.StatusNotFound, "", "photo not found")
			return
		}
		s.fail(c, err)
		return
	}
	c.File(file)
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// classify maps a service error to an HTTP status and error detail.
func (s *Server) classify(err error) (int, api.ErrorDetail) {
	if re, found := ingest.AsRejection(err); found {
		detail := api.ErrorDetail{Code: string(re.Code), Message: re.Message}
		switch re.Code {
		case ingest.CodeOpenSessionExists:
			return http.StatusConflict, detail
		case ingest.CodePersonNotFound:
			return http.StatusNotFound, detail
		default:
			return http.StatusBadRequest, detail
		}
	}
	s.logger.Error("request failed", "error", err)
	return http.StatusInternalServerError, api.ErrorDetail{Code: api.CodeInternal, Message: "internal error"}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, detail := s.classify(err)
	c.AbortWithStatusJSON(status, api.Envelope{Errors: []api.ErrorDetail{detail}})
}

func ok(c *gin.Context, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		fail(c, http.StatusInternalServerError, api.CodeInternal, "encode response")
		return
	}
	c.JSON(status, api.Envelope{Success: true, Data: raw})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, api.Envelope{Errors: []api.ErrorDetail{{Code: code, Message: message}}})
}

// bindJSON decodes the request body into v, writing the error response
// itself on failure.
func bindJSON(c *gin.Context, v any) bool {
	err := c.ShouldBindJSON(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		fail(c, http.StatusRequestEntityTooLarge, api.CodePayloadTooLarge, "request body too large")
		return false
	}
	fail(c, http.StatusBadRequest, api.CodeValidation, "invalid JSON: "+err.Error())
	return false
}
