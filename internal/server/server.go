package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"scopeshift/internal/domain"
	"scopeshift/internal/engine"
	"scopeshift/internal/repo"
	"scopeshift/internal/schema"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Ledger   *repo.Ledger
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_scope"`
	Message string         `json:"message" example:"no scope document: generate scope first"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"stage\":\"analysis\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the scopeshift API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Log
	}
	if cfg.Auth.Required && strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("server: jwt secret is required when auth is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Scopeshift API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, ledger: cfg.Ledger, log: cfg.Log}
	registerDocs(router, basePath)
	registerHealth(group)
	registerState(group, h)
	registerSchemas(group)
	registerStages(group, h)
	if cfg.Ledger != nil {
		registerRuns(group, h)
		registerEvents(group, h)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	engine *engine.Engine
	ledger *repo.Ledger
	log    *zap.Logger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrEmptyScenario):
		return newAPIError(http.StatusBadRequest, "empty_scenario", msg, nil)
	case errors.Is(err, engine.ErrNoScope):
		return newAPIError(http.StatusConflict, "no_scope", msg, nil)
	case errors.Is(err, engine.ErrScopeRunning):
		return newAPIError(http.StatusConflict, "scope_running", msg, nil)
	case errors.Is(err, engine.ErrBusy):
		return newAPIError(http.StatusConflict, "stage_busy", msg, nil)
	case errors.Is(err, engine.ErrNoFeatures):
		return newAPIError(http.StatusConflict, "no_features", msg, nil)
	case errors.Is(err, engine.ErrStale), errors.Is(err, engine.ErrSuperseded):
		return newAPIError(http.StatusConflict, "result_discarded", msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	}
	var de *domain.Error
	if errors.As(err, &de) {
		switch de.Kind {
		case domain.KindOracle:
			return newAPIError(http.StatusBadGateway, "oracle_failure", msg, map[string]any{"stage": string(de.Stage)})
		case domain.KindConfiguration:
			return newAPIError(http.StatusInternalServerError, "configuration", msg, nil)
		}
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadGateway:
		return "oracle_failure"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = oas.MarshalJSON()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Scopeshift API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; when the server requires it.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerState(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/state",
		Summary:     "Current scope document and stage results",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StateResponse `json:"body"`
	}, error) {
		return &struct {
			Body StateResponse `json:"body"`
		}{Body: stateResponse(h.engine.Snapshot())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-projection",
		Method:      http.MethodGet,
		Path:        "/projection",
		Summary:     "Derived input sent to analysis and test planning",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.ScopeProjection `json:"body"`
	}, error) {
		p, err := h.engine.Projection()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScopeProjection `json:"body"`
		}{Body: p}, nil
	})
}

func registerSchemas(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stage-schema",
		Method:      http.MethodGet,
		Path:        "/schemas/{stage}",
		Summary:     "Response schema declared to the oracle for a stage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Stage string `path:"stage" doc:"scope, proposal, analysis or test_plan"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		st, ok := domain.ParseStage(input.Stage)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "unknown stage", map[string]any{"stage": input.Stage})
		}
		desc, ok := schema.For(st)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no schema for stage", map[string]any{"stage": string(st)})
		}
		data, err := desc.MarshalIndent()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "application/json", Body: data}, nil
	})
}

// stageContext detaches a stage run from its request, so a client that
// disconnects does not cancel the oracle call. The authenticated subject is
// recorded on the run.
func stageContext(ctx context.Context) context.Context {
	ctx = context.WithoutCancel(ctx)
	if p, ok := PrincipalFromContext(ctx); ok {
		ctx = engine.WithRequester(ctx, p.Subject)
	}
	return ctx
}

func registerStages(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-scope",
		Method:      http.MethodPost,
		Path:        "/scope",
		Summary:     "Generate a scope document from a scenario",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body ScopeRequest `json:"body"`
	}) (*struct {
		Body ScopeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		doc, run, err := h.engine.RunScope(stageContext(ctx), input.Body.Scenario)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScopeResponse `json:"body"`
		}{Body: ScopeResponse{Document: doc, ScopeVersion: run.ScopeVersion, Warnings: run.Warnings}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "propose-features",
		Method:      http.MethodPost,
		Path:        "/proposals",
		Summary:     "Propose candidate features from the current scope",
		Errors:      []int{http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProposalsResponse `json:"body"`
	}, error) {
		candidates, run, err := h.engine.RunProposal(stageContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalsResponse `json:"body"`
		}{Body: ProposalsResponse{Candidates: candidates, ScopeVersion: run.ScopeVersion, Warnings: run.Warnings}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-scope",
		Method:      http.MethodPost,
		Path:        "/analysis",
		Summary:     "Analyze the current scope for quality issues",
		Errors:      []int{http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AnalysisResponse `json:"body"`
	}, error) {
		analysis, run, err := h.engine.RunAnalysis(stageContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AnalysisResponse `json:"body"`
		}{Body: AnalysisResponse{Analysis: analysis, ScopeVersion: run.ScopeVersion, Warnings: run.Warnings}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-test-plan",
		Method:      http.MethodPost,
		Path:        "/test-plan",
		Summary:     "Generate an API test plan for the current scope",
		Errors:      []int{http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TestPlanResponse `json:"body"`
	}, error) {
		plan, run, err := h.engine.RunTestPlan(stageContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TestPlanResponse `json:"body"`
		}{Body: TestPlanResponse{TestPlan: plan, ScopeVersion: run.ScopeVersion, Warnings: run.Warnings}}, nil
	})
}

func registerRuns(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List recent stage runs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stage string `query:"stage"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedRuns `json:"body"`
	}, error) {
		var st domain.Stage
		if input.Stage != "" {
			parsed, ok := domain.ParseStage(input.Stage)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid stage", map[string]any{"stage": input.Stage})
			}
			st = parsed
		}
		runs, err := h.ledger.Repo.ListRuns(ctx, st, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedRuns{Items: make([]RunResponse, 0, len(runs))}
		for _, r := range runs {
			resp.Items = append(resp.Items, runResponse(r))
		}
		return &struct {
			Body paginatedRuns `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "Get a stage run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		run, err := h.ledger.Repo.GetRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent run events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Stage  string `query:"stage"`
		RunID  string `query:"run_id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		var st domain.Stage
		if input.Stage != "" {
			parsed, ok := domain.ParseStage(input.Stage)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid stage", map[string]any{"stage": input.Stage})
			}
			st = parsed
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.ledger.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.Type, st, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			// Cursor is exclusive, so point at the last item returned.
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
