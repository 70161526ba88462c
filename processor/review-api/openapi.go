package reviewapi

import (
	"reflect"

	"github.com/c360studio/semstreams/service"

	"github.com/c360studio/chronos/fix"
)

func init() {
	service.RegisterOpenAPISpec("review-api", reviewAPIOpenAPISpec())
}

// OpenAPISpec implements the OpenAPIProvider interface.
func (c *Component) OpenAPISpec() *service.OpenAPISpec {
	return reviewAPIOpenAPISpec()
}

// reviewAPIOpenAPISpec returns the OpenAPI specification for the review endpoints.
// Paths are documented under the stable /api/v1 alias.
func reviewAPIOpenAPISpec() *service.OpenAPISpec {
	fixIDParam := service.ParameterSpec{
		Name:        "id",
		In:          "path",
		Required:    true,
		Description: "Fix identifier",
		Schema:      service.Schema{Type: "string"},
	}

	return &service.OpenAPISpec{
		Tags: []service.TagSpec{
			{Name: "Fixes", Description: "Fix review queue - inspect generated fixes and their verification results"},
			{Name: "Decisions", Description: "Review decisions - approve, hold, dismiss, or roll back a fix"},
		},
		Paths: map[string]service.PathSpec{
			"/api/v1/fixes": {
				GET: &service.OperationSpec{
					Summary:     "List fixes",
					Description: "Returns all known fixes, newest first, optionally filtered by lifecycle status",
					Tags:        []string{"Fixes"},
					Parameters: []service.ParameterSpec{
						{
							Name:        "status",
							In:          "query",
							Description: "Filter by lifecycle status (proposed, review_required, approved, rejected, deploy_requested, deploy_started, deploy_succeeded, deploy_failed, verified, rollback_requested, rollback_succeeded)",
							Schema:      service.Schema{Type: "string"},
						},
					},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Fix list with count",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/FixListResponse",
						},
					},
				},
			},
			"/api/v1/fixes/{id}": {
				GET: &service.OperationSpec{
					Summary:     "Get fix",
					Description: "Returns a single fix with its solution, status history, and deployment results",
					Tags:        []string{"Fixes"},
					Parameters:  []service.ParameterSpec{fixIDParam},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Fix record",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/Fix",
						},
						"404": {Description: "Fix not found"},
					},
				},
			},
			"/api/v1/fixes/{id}/verification": {
				GET: &service.OperationSpec{
					Summary:     "Get verification record",
					Description: "Returns the telemetry verification record for a deployed fix",
					Tags:        []string{"Fixes"},
					Parameters:  []service.ParameterSpec{fixIDParam},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Verification record with per-metric outcomes",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/VerificationRecord",
						},
						"404": {Description: "Verification not found"},
					},
				},
			},
			"/api/v1/fixes/{id}/approve": {
				POST: &service.OperationSpec{
					Summary:     "Approve fix",
					Description: "Approves a fix awaiting review, releasing it for deployment",
					Tags:        []string{"Decisions"},
					Parameters:  []service.ParameterSpec{fixIDParam},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Decision accepted",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/DecisionResponse",
						},
						"404": {Description: "Fix not found"},
						"409": {Description: "Fix is not awaiting review"},
					},
				},
			},
			"/api/v1/fixes/{id}/hold": {
				POST: &service.OperationSpec{
					Summary:     "Hold fix",
					Description: "Keeps a fix in the review queue with reviewer notes attached",
					Tags:        []string{"Decisions"},
					Parameters:  []service.ParameterSpec{fixIDParam},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Decision accepted",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/DecisionResponse",
						},
						"404": {Description: "Fix not found"},
						"409": {Description: "Fix is not awaiting review"},
					},
				},
			},
			"/api/v1/fixes/{id}/dismiss": {
				POST: &service.OperationSpec{
					Summary:     "Dismiss fix",
					Description: "Rejects a fix awaiting review; a reason is required",
					Tags:        []string{"Decisions"},
					Parameters:  []service.ParameterSpec{fixIDParam},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Decision accepted",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/DecisionResponse",
						},
						"400": {Description: "Missing dismissal reason"},
						"404": {Description: "Fix not found"},
						"409": {Description: "Fix is not awaiting review"},
					},
				},
			},
			"/api/v1/fixes/{id}/rollback": {
				POST: &service.OperationSpec{
					Summary:     "Roll back fix",
					Description: "Requests rollback of a deployed or verified fix",
					Tags:        []string{"Decisions"},
					Parameters:  []service.ParameterSpec{fixIDParam},
					Responses: map[string]service.ResponseSpec{
						"200": {
							Description: "Decision accepted",
							ContentType: "application/json",
							SchemaRef:   "#/components/schemas/DecisionResponse",
						},
						"404": {Description: "Fix not found"},
						"409": {Description: "Fix cannot be rolled back from its current status"},
					},
				},
			},
		},
		ResponseTypes: []reflect.Type{
			reflect.TypeOf(fix.Fix{}),
			reflect.TypeOf(fix.VerificationRecord{}),
			reflect.TypeOf(fixListResponse{}),
			reflect.TypeOf(decisionRequest{}),
			reflect.TypeOf(decisionResponse{}),
		},
	}
}
