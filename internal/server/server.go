package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dispatchline/internal/config"
	"dispatchline/internal/domain"
	"dispatchline/internal/repo"
	"dispatchline/internal/routing"
)

// Config for the HTTP API handler.
type Config struct {
	Repo      repo.Repo
	Engine    *routing.Engine
	AppConfig *config.Config
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"assignment_conflict"`
	Message string         `json:"message" example:"request already assigned or locked"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Dispatchline API.
func New(cfg Config) (http.Handler, error) {
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
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Dispatchline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRequests(group, cfg.Repo, cfg.Engine)
	registerRules(group, cfg.Repo, cfg.Engine)
	registerVendors(group, cfg.Repo, cfg.Engine)
	registerDesigners(group, cfg.Repo, cfg.Engine)
	registerAudit(group, cfg.Repo)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Repo, cfg.AppConfig)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
	if errors.Is(err, repo.ErrAlreadyAssigned) {
		return newAPIError(http.StatusConflict, "assignment_conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "locked"):
		return newAPIError(http.StatusConflict, "assignment_locked", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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
	case http.StatusForbidden:
		return "forbidden"
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
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
    <title>Dispatchline API Docs</title>
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

func nowRFC3339(e *routing.Engine) string {
	if e != nil && e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func registerRequests(api huma.API, r repo.Repo, eng *routing.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Create service request",
		Description:   "Creates a service request and, unless auto_assign is false, immediately runs the routing pipeline on it.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateServiceRequestRequest `json:"body"`
	}) (*struct {
		Body RouteRunResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ServiceID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "service_id is required", nil)
		}
		if input.Body.ClientID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "client_id is required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		now := nowRFC3339(eng)
		req := domain.ServiceRequest{
			ID:               stringOrDefault(input.Body.ID, uuid.New().String()),
			ServiceID:        input.Body.ServiceID,
			ClientID:         input.Body.ClientID,
			Title:            input.Body.Title,
			Status:           domain.RequestStatusNew,
			AutoAssignStatus: domain.AutoAssignNotAttempted,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := r.InsertRequest(ctx, req); err != nil {
			return nil, handleError(err)
		}
		resp := RouteRunResponse{Request: req, Result: routing.Result{Status: domain.AutoAssignNotAttempted}}
		if input.Body.AutoAssign == nil || *input.Body.AutoAssign {
			updated, res, err := eng.RouteAndApply(ctx, req)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Request = updated
			resp.Result = res
		}
		return &struct {
			Body RouteRunResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List service requests",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ServiceID  string `query:"service_id"`
		ClientID   string `query:"client_id"`
		VendorID   string `query:"vendor_id"`
		DesignerID string `query:"designer_id"`
		Status     string `query:"status"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedRequests `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		items, err := r.ListRequests(ctx, repo.RequestFilters{
			ServiceID:  input.ServiceID,
			ClientID:   input.ClientID,
			VendorID:   input.VendorID,
			DesignerID: input.DesignerID,
			Status:     input.Status,
			Limit:      limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ServiceRequest{}
		}
		return &struct {
			Body paginatedRequests `json:"body"`
		}{Body: paginatedRequests{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get service request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ServiceRequest `json:"body"`
	}, error) {
		req, err := r.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServiceRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "route-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/route",
		Summary:     "Run the routing pipeline",
		Description: "Re-runs automatic assignment for one request. A locked or already assigned request is left untouched.",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RouteRunResponse `json:"body"`
	}, error) {
		req, err := r.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		updated, res, err := eng.RouteAndApply(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RouteRunResponse `json:"body"`
		}{Body: RouteRunResponse{Request: updated, Result: res}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/assign",
		Summary:     "Manually assign a request",
		Description: "Sets assignees directly, bypassing the routing pipeline. The fallback path when automation found no vendor.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ManualAssignRequest `json:"body"`
	}) (*struct {
		Body domain.ServiceRequest `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.VendorID == nil && input.Body.DesignerID == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "vendor_id or designer_id is required", nil)
		}
		req, err := r.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if req.AssignmentLocked {
			return nil, newAPIError(http.StatusConflict, "assignment_locked", "request assignment is locked", nil)
		}
		if input.Body.VendorID != nil {
			if _, err := r.GetVendor(ctx, *input.Body.VendorID); err != nil {
				return nil, handleError(fmt.Errorf("vendor %s: %w", *input.Body.VendorID, err))
			}
		}
		if input.Body.DesignerID != nil {
			designer, err := r.GetDesigner(ctx, *input.Body.DesignerID)
			if err != nil {
				return nil, handleError(fmt.Errorf("designer %s: %w", *input.Body.DesignerID, err))
			}
			wantVendor := req.VendorID
			if input.Body.VendorID != nil {
				wantVendor = input.Body.VendorID
			}
			if wantVendor == nil || designer.VendorID != *wantVendor {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "designer does not belong to the assigned vendor", map[string]any{"designer_id": designer.ID})
			}
		}
		updated, err := r.ManualAssign(ctx, input.ID, input.Body.VendorID, input.Body.DesignerID, nowRFC3339(eng))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServiceRequest `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lock-request",
		Method:      http.MethodPut,
		Path:        "/requests/{id}/lock",
		Summary:     "Set the assignment lock",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body SetLockRequest `json:"body"`
	}) (*struct {
		Body domain.ServiceRequest `json:"body"`
	}, error) {
		if err := r.SetRequestLock(ctx, input.ID, input.Body.Locked, nowRFC3339(eng)); err != nil {
			return nil, handleError(err)
		}
		req, err := r.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServiceRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request-audit",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/audit",
		Summary:     "Routing audit trail",
		Description: "Returns every routing decision recorded for the request, oldest first.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.AuditLogEntry `json:"body"`
	}, error) {
		if _, err := r.GetRequest(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		entries, err := r.ListAuditEntries(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []domain.AuditLogEntry{}
		}
		return &struct {
			Body []domain.AuditLogEntry `json:"body"`
		}{Body: entries}, nil
	})
}

func registerRules(api huma.API, r repo.Repo, eng *routing.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/rules",
		Summary:       "Create routing rule",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRuleRequest `json:"body"`
	}) (*struct {
		Body domain.RoutingRule `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if input.Body.Target == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "target is required", nil)
		}
		scope := stringOrDefault(input.Body.Scope, domain.RuleScopeGlobal)
		if scope == domain.RuleScopeVendor && input.Body.OwnerVendorID == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "owner_vendor_id is required for vendor scope", nil)
		}
		now := nowRFC3339(eng)
		rule := domain.RoutingRule{
			ID:            stringOrDefault(input.Body.ID, uuid.New().String()),
			Name:          input.Body.Name,
			Scope:         scope,
			OwnerVendorID: input.Body.OwnerVendorID,
			Active:        true,
			ServiceIDs:    input.Body.ServiceIDs,
			Criteria:      criteriaFromRequest(input.Body.Criteria),
			Target:        input.Body.Target,
			Strategy:      stringOrDefault(input.Body.Strategy, ""),
			AllowVendors:  input.Body.AllowVendors,
			DenyVendors:   input.Body.DenyVendors,
			Priority:      input.Body.Priority,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := r.InsertRule(ctx, rule); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RoutingRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List routing rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.RoutingRule `json:"body"`
	}, error) {
		rules, err := r.ListRules(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if rules == nil {
			rules = []domain.RoutingRule{}
		}
		return &struct {
			Body []domain.RoutingRule `json:"body"`
		}{Body: rules}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/rules/{id}",
		Summary:     "Get routing rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.RoutingRule `json:"body"`
	}, error) {
		rule, err := r.GetRule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RoutingRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPatch,
		Path:        "/rules/{id}",
		Summary:     "Update routing rule",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateRuleRequest `json:"body"`
	}) (*struct {
		Body domain.RoutingRule `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		rule, err := r.GetRule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Name != nil {
			rule.Name = *input.Body.Name
		}
		if input.Body.ServiceIDs != nil {
			rule.ServiceIDs = input.Body.ServiceIDs
		}
		if input.Body.Criteria != nil {
			rule.Criteria = criteriaFromRequest(input.Body.Criteria)
		}
		if input.Body.Target != nil {
			rule.Target = *input.Body.Target
		}
		if input.Body.Strategy != nil {
			rule.Strategy = *input.Body.Strategy
		}
		if input.Body.AllowVendors != nil {
			rule.AllowVendors = input.Body.AllowVendors
		}
		if input.Body.DenyVendors != nil {
			rule.DenyVendors = input.Body.DenyVendors
		}
		if input.Body.Priority != nil {
			rule.Priority = *input.Body.Priority
		}
		rule.UpdatedAt = nowRFC3339(eng)
		if err := r.UpdateRule(ctx, rule); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RoutingRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-rule-active",
		Method:      http.MethodPut,
		Path:        "/rules/{id}/active",
		Summary:     "Activate or deactivate a rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SetActiveRequest `json:"body"`
	}) (*struct {
		Body domain.RoutingRule `json:"body"`
	}, error) {
		if err := r.SetRuleActive(ctx, input.ID, input.Body.Active, nowRFC3339(eng)); err != nil {
			return nil, handleError(err)
		}
		rule, err := r.GetRule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RoutingRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-rule",
		Method:      http.MethodDelete,
		Path:        "/rules/{id}",
		Summary:     "Delete routing rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := r.DeleteRule(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerVendors(api huma.API, r repo.Repo, eng *routing.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-vendor",
		Method:        http.MethodPost,
		Path:          "/vendors",
		Summary:       "Create vendor",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateVendorRequest `json:"body"`
	}) (*struct {
		Body domain.Vendor `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		v := domain.Vendor{
			ID:        stringOrDefault(input.Body.ID, uuid.New().String()),
			Name:      input.Body.Name,
			Active:    true,
			CreatedAt: nowRFC3339(eng),
		}
		if err := r.InsertVendor(ctx, v); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Vendor `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-vendors",
		Method:      http.MethodGet,
		Path:        "/vendors",
		Summary:     "List vendors",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Vendor `json:"body"`
	}, error) {
		vendors, err := r.ListVendors(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if vendors == nil {
			vendors = []domain.Vendor{}
		}
		return &struct {
			Body []domain.Vendor `json:"body"`
		}{Body: vendors}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-vendor",
		Method:      http.MethodGet,
		Path:        "/vendors/{id}",
		Summary:     "Get vendor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Vendor `json:"body"`
	}, error) {
		v, err := r.GetVendor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Vendor `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-vendor-active",
		Method:      http.MethodPut,
		Path:        "/vendors/{id}/active",
		Summary:     "Activate or deactivate a vendor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SetActiveRequest `json:"body"`
	}) (*struct {
		Body domain.Vendor `json:"body"`
	}, error) {
		if err := r.SetVendorActive(ctx, input.ID, input.Body.Active); err != nil {
			return nil, handleError(err)
		}
		v, err := r.GetVendor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Vendor `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-vendor-capacity",
		Method:      http.MethodPut,
		Path:        "/vendors/{id}/capacities/{service_id}",
		Summary:     "Set vendor daily capacity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID        string                      `path:"id"`
		ServiceID string                      `path:"service_id"`
		Body      UpsertVendorCapacityRequest `json:"body"`
	}) (*struct {
		Body domain.VendorCapacity `json:"body"`
	}, error) {
		if _, err := r.GetVendor(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		now := nowRFC3339(eng)
		c := domain.VendorCapacity{
			VendorID:      input.ID,
			ServiceID:     input.ServiceID,
			DailyCapacity: input.Body.DailyCapacity,
			AutoAssign:    input.Body.AutoAssign,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := r.UpsertVendorCapacity(ctx, c); err != nil {
			return nil, handleError(err)
		}
		stored, err := r.GetVendorCapacity(ctx, input.ID, input.ServiceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.VendorCapacity `json:"body"`
		}{Body: stored}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-vendor-capacities",
		Method:      http.MethodGet,
		Path:        "/vendors/{id}/capacities",
		Summary:     "List vendor capacities",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.VendorCapacity `json:"body"`
	}, error) {
		if _, err := r.GetVendor(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		caps, err := r.ListVendorCapacities(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if caps == nil {
			caps = []domain.VendorCapacity{}
		}
		return &struct {
			Body []domain.VendorCapacity `json:"body"`
		}{Body: caps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-service-price",
		Method:      http.MethodPut,
		Path:        "/vendors/{id}/prices/{service_id}",
		Summary:     "Set vendor service price",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID        string                    `path:"id"`
		ServiceID string                    `path:"service_id"`
		Body      UpsertServicePriceRequest `json:"body"`
	}) (*struct {
		Body domain.ServicePrice `json:"body"`
	}, error) {
		if _, err := r.GetVendor(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		now := nowRFC3339(eng)
		p := domain.ServicePrice{
			VendorID:   input.ID,
			ServiceID:  input.ServiceID,
			PriceCents: input.Body.PriceCents,
			Active:     input.Body.Active,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := r.UpsertServicePrice(ctx, p); err != nil {
			return nil, handleError(err)
		}
		stored, err := r.GetServicePrice(ctx, input.ID, input.ServiceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServicePrice `json:"body"`
		}{Body: stored}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-service-prices",
		Method:      http.MethodGet,
		Path:        "/vendors/{id}/prices",
		Summary:     "List vendor service prices",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.ServicePrice `json:"body"`
	}, error) {
		if _, err := r.GetVendor(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		prices, err := r.ListServicePrices(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if prices == nil {
			prices = []domain.ServicePrice{}
		}
		return &struct {
			Body []domain.ServicePrice `json:"body"`
		}{Body: prices}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-designer",
		Method:        http.MethodPost,
		Path:          "/vendors/{id}/designers",
		Summary:       "Create designer",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CreateDesignerRequest `json:"body"`
	}) (*struct {
		Body domain.Designer `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if _, err := r.GetVendor(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		d := domain.Designer{
			ID:        stringOrDefault(input.Body.ID, uuid.New().String()),
			VendorID:  input.ID,
			Name:      input.Body.Name,
			Active:    true,
			CreatedAt: nowRFC3339(eng),
		}
		if err := r.InsertDesigner(ctx, d); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Designer `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-designers",
		Method:      http.MethodGet,
		Path:        "/vendors/{id}/designers",
		Summary:     "List vendor designers",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Designer `json:"body"`
	}, error) {
		if _, err := r.GetVendor(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		designers, err := r.ListDesigners(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if designers == nil {
			designers = []domain.Designer{}
		}
		return &struct {
			Body []domain.Designer `json:"body"`
		}{Body: designers}, nil
	})
}

func registerDesigners(api huma.API, r repo.Repo, eng *routing.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-designer-active",
		Method:      http.MethodPut,
		Path:        "/designers/{id}/active",
		Summary:     "Activate or deactivate a designer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SetActiveRequest `json:"body"`
	}) (*struct {
		Body domain.Designer `json:"body"`
	}, error) {
		if err := r.SetDesignerActive(ctx, input.ID, input.Body.Active); err != nil {
			return nil, handleError(err)
		}
		d, err := r.GetDesigner(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Designer `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-designer-capacity",
		Method:      http.MethodPut,
		Path:        "/designers/{id}/capacities/{service_id}",
		Summary:     "Set designer daily capacity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID        string                        `path:"id"`
		ServiceID string                        `path:"service_id"`
		Body      UpsertDesignerCapacityRequest `json:"body"`
	}) (*struct {
		Body domain.DesignerCapacity `json:"body"`
	}, error) {
		if _, err := r.GetDesigner(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		now := nowRFC3339(eng)
		c := domain.DesignerCapacity{
			DesignerID:    input.ID,
			ServiceID:     input.ServiceID,
			DailyCapacity: input.Body.DailyCapacity,
			AutoAssign:    input.Body.AutoAssign,
			IsPrimary:     input.Body.IsPrimary,
			Priority:      input.Body.Priority,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := r.UpsertDesignerCapacity(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DesignerCapacity `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-designer-capacities",
		Method:      http.MethodGet,
		Path:        "/designers/{id}/capacities",
		Summary:     "List designer capacities",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.DesignerCapacity `json:"body"`
	}, error) {
		if _, err := r.GetDesigner(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		caps, err := r.ListDesignerCapacities(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if caps == nil {
			caps = []domain.DesignerCapacity{}
		}
		return &struct {
			Body []domain.DesignerCapacity `json:"body"`
		}{Body: caps}, nil
	})
}

func registerAudit(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-entries",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Routing audit feed",
		Description: "Returns audit entries with id greater than the cursor, oldest first.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		After   int64  `query:"after"`
		Limit   int    `query:"limit" default:"100"`
		Outcome string `query:"outcome"`
	}) (*struct {
		Body paginatedAuditEntries `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		var outcomes []string
		if input.Outcome != "" {
			for _, o := range strings.Split(input.Outcome, ",") {
				if o = strings.TrimSpace(o); o != "" {
					outcomes = append(outcomes, o)
				}
			}
		}
		entries, err := r.AuditEntriesAfter(ctx, limit, input.After, outcomes)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAuditEntries{Items: entries}
		if resp.Items == nil {
			resp.Items = []domain.AuditLogEntry{}
		}
		if len(entries) == limit {
			resp.NextCursor = entries[len(entries)-1].ID
		}
		return &struct {
			Body paginatedAuditEntries `json:"body"`
		}{Body: resp}, nil
	})
}
