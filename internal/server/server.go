package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/Anomyking/RP/internal/app"
	"github.com/Anomyking/RP/internal/domain"
	"github.com/Anomyking/RP/internal/engine"
	"github.com/Anomyking/RP/internal/engine/auth"
	"github.com/Anomyking/RP/internal/notify"
	"github.com/Anomyking/RP/internal/repo"
	"github.com/Anomyking/RP/internal/ws"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	Router      notify.Router
	Hub         *ws.Hub
	BasePath    string
	Auth        AuthConfig
	CORSOrigins []string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"role user cannot perform this transition"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"in_review\",\"to\":\"escalated\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the RP API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	router.Use(corsMiddleware(cfg.CORSOrigins))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("RP API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerMe(group, cfg.Engine)
	registerReports(group, cfg.Engine, cfg.Router)
	registerNotifications(group, cfg.Engine)
	registerAdmin(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)
	registerWS(router, cfg.Auth, cfg.Engine.Repo, cfg.Hub)

	return router, nil
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{
			"role": string(fe.Role),
			"from": string(fe.From),
			"to":   string(fe.To),
		})
	}
	var ie auth.InvalidTransitionError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from": string(ie.From),
			"to":   string(ie.To),
		})
	}
	if errors.Is(err, engine.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, app.ErrEmailTaken) {
		return newAPIError(http.StatusConflict, "email_taken", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// corsMiddleware answers preflight requests and stamps allow headers
// for origins on the configured allowlist.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, ok := allowed[origin]
				if ok || wildcard {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Api-Key")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
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
			spec, _ = json.Marshal(oas)
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]struct{}{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):        {},
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/register"), "/"): {},
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/login"), "/"):    {},
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if _, ok := open[route]; ok {
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
    <title>RP API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Register a reporter account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		p, err := app.CreatePrincipal(ctx, e.Repo, input.Body.Name, input.Body.Email, input.Body.Password, domain.RoleUser)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := authCfg.IssueToken(p, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, Principal: principalResponse(p)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPrincipalByEmail(ctx, input.Body.Email)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid email or password", nil)
			}
			return nil, handleError(err)
		}
		if !app.VerifyPassword(p, input.Body.Password) {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid email or password", nil)
		}
		token, err := authCfg.IssueToken(p, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, Principal: principalResponse(p)}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PrincipalResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body PrincipalResponse `json:"body"`
		}{Body: principalResponse(p)}, nil
	})
}

func registerReports(api huma.API, e engine.Engine, rt notify.Router) {
	type reportPath struct {
		ReportID string `path:"report_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "File a report",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateReportRequest `json:"body"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.CreateReport(ctx, engine.ReportCreateOptions{
			OwnerID:     p.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Category:    stringOrEmpty(input.Body.Category),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" required:"false" enum:",submitted,in_review,escalated,resolved,rejected"`
		OwnerID    string `query:"owner_id" required:"false"`
		AssignedTo string `query:"assigned_to" required:"false"`
		Limit      int    `query:"limit" required:"false"`
		Cursor     string `query:"cursor" required:"false"`
	}) (*struct {
		Body paginatedReports `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters := repo.ReportFilters{
			Status:     input.Status,
			AssignedTo: input.AssignedTo,
			OwnerID:    input.OwnerID,
		}
		// Reporters only ever see their own reports.
		if !p.Role.Staff() {
			filters.OwnerID = p.ID
		}
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		filters.CursorCreatedAt = ts
		filters.CursorID = id
		limit := normalizeLimit(input.Limit)
		filters.Limit = limit + 1
		items, err := e.Repo.ListReports(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(items) > limit {
			items = items[:limit]
			last := items[len(items)-1]
			next = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body paginatedReports `json:"body"`
		}{Body: paginatedReports{Items: mapReports(items), NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}",
		Summary:     "Fetch a report",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		if !p.Role.Staff() && rep.OwnerID != p.ID {
			// Hide existence of other reporters' reports.
			return nil, newAPIError(http.StatusNotFound, "not_found", "report not found", nil)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/transition",
		Summary:     "Advance a report along its lifecycle",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ReportID string            `path:"report_id"`
		Body     TransitionRequest `json:"body"`
	}) (*struct {
		Body struct {
			Report     ReportResponse     `json:"report"`
			Transition TransitionResponse `json:"transition"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, evt, err := e.RequestTransition(ctx, input.ReportID, p, domain.Status(input.Body.TargetStatus))
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := rt.Dispatch(ctx, evt); err != nil {
			// Fan-out problems never fail a committed transition.
			log.Printf("notification dispatch for report %s: %v", evt.ReportID, err)
		}
		out := &struct {
			Body struct {
				Report     ReportResponse     `json:"report"`
				Transition TransitionResponse `json:"transition"`
			} `json:"body"`
		}{}
		out.Body.Report = reportResponse(rep)
		out.Body.Transition = TransitionResponse{
			ReportID:   evt.ReportID,
			Seq:        evt.Seq,
			FromStatus: string(evt.FromStatus),
			ToStatus:   string(evt.ToStatus),
			ActorID:    evt.ActorID,
			TS:         evt.TS,
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-history",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}/history",
		Summary:     "Report transition history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body struct {
			Items []TransitionResponse `json:"items"`
		} `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		if !p.Role.Staff() && rep.OwnerID != p.ID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "report not found", nil)
		}
		history, err := e.Repo.ListHistory(ctx, rep.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []TransitionResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = mapTransitions(history)
		return out, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List own inbox",
	}, func(ctx context.Context, input *struct {
		Unread bool   `query:"unread" required:"false"`
		Limit  int    `query:"limit" required:"false"`
		Cursor string `query:"cursor" required:"false"`
	}) (*struct {
		Body paginatedNotifications `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{
			RecipientID:     p.ID,
			Unread:          input.Unread,
			Limit:           limit + 1,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(items) > limit {
			items = items[:limit]
			last := items[len(items)-1]
			next = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body paginatedNotifications `json:"body"`
		}{Body: paginatedNotifications{Items: mapNotifications(items), NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ack-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/ack",
		Summary:     "Mark a notification read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct {
		Body NotificationResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ts := e.Now().UTC().Format(time.RFC3339)
		n, err := e.Repo.MarkRead(ctx, input.NotificationID, p.ID, ts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NotificationResponse `json:"body"`
		}{Body: notificationResponse(n)}, nil
	})
}

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-principals",
		Method:      http.MethodGet,
		Path:        "/admin/principals",
		Summary:     "List principals",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" required:"false" enum:",user,admin,superadmin"`
	}) (*struct {
		Body struct {
			Items []PrincipalResponse `json:"items"`
		} `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, domain.RoleSuperadmin); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPrincipals(ctx, domain.Role(input.Role))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []PrincipalResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = mapPrincipals(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-principal",
		Method:        http.MethodPost,
		Path:          "/admin/principals",
		Summary:       "Create a staff principal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreatePrincipalRequest `json:"body"`
	}) (*struct {
		Body PrincipalResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, domain.RoleSuperadmin); authErr != nil {
			return nil, authErr
		}
		role := domain.Role(input.Body.Role)
		if !domain.ValidRole(role) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown role", map[string]any{"role": input.Body.Role})
		}
		p, err := app.CreatePrincipal(ctx, e.Repo, input.Body.Name, input.Body.Email, input.Body.Password, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PrincipalResponse `json:"body"`
		}{Body: principalResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/admin/events",
		Summary:     "Tail the audit event log",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after" required:"false"`
		Limit int   `query:"limit" required:"false"`
	}) (*struct {
		Body struct {
			Items []EventResponse `json:"items"`
		} `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, domain.RoleAdmin, domain.RoleSuperadmin); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.EventsAfter(ctx, normalizeLimit(input.Limit), input.After)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []EventResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = mapEvents(items)
		return out, nil
	})
}
