package questionnaire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"github.com/ehr/forms/internal/platform/auth"
	"github.com/ehr/forms/internal/platform/fhir"
	"github.com/ehr/forms/pkg/pagination"
)

// referencePattern accepts "Type/id" or a bare FHIR id.
var referencePattern = regexp.MustCompile(`^([A-Z][A-Za-z]+/)?[A-Za-z0-9\-.]{1,64}$`)

// Handler provides HTTP handlers for questionnaires and response sessions.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler creates a new questionnaire handler.
func NewHandler(svc *Service) *Handler {
	v := validator.New()
	_ = v.RegisterValidation("reference", func(fl validator.FieldLevel) bool {
		return referencePattern.MatchString(fl.Field().String())
	})
	return &Handler{svc: svc, validate: v}
}

// RegisterRoutes registers the REST routes on api and the FHIR routes on
// fhirGroup.
func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAuthor, auth.RoleClinician, auth.RolePatient))
	read.GET("/questionnaires", h.ListQuestionnaires)
	read.GET("/questionnaires/:id", h.GetQuestionnaire)
	read.GET("/questionnaire-responses/:id", h.GetResponse)
	read.GET("/questionnaire-responses/:id/enabled", h.EnabledItems)
	read.POST("/questionnaire-responses/:id/$validate", h.ValidateResponse)

	author := api.Group("", auth.RequireRole(auth.RoleAuthor))
	author.POST("/questionnaires", h.CreateQuestionnaire)

	respond := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RolePatient))
	respond.POST("/questionnaires/:id/responses", h.StartResponse)
	respond.PUT("/questionnaire-responses/:id/answers/:linkId", h.UpdateAnswer)
	respond.POST("/questionnaire-responses/:id/suggestions", h.ApplySuggestions)
	respond.POST("/questionnaire-responses/:id/draft", h.SaveDraft)
	respond.POST("/questionnaire-responses/:id/submit", h.Submit)

	clinical := api.Group("", auth.RequireRole(auth.RoleAuthor, auth.RoleClinician))
	clinical.GET("/questionnaires/:id/responses", h.ListResponses)

	fhirRead := fhirGroup.Group("", auth.RequireRole(auth.RoleAuthor, auth.RoleClinician, auth.RolePatient))
	fhirRead.GET("/Questionnaire", h.SearchFHIR)
	fhirRead.GET("/Questionnaire/:id", h.GetFHIR)
	fhirRead.POST("/Questionnaire/:id/$populate", h.PopulateFHIR)
	fhirRead.GET("/QuestionnaireResponse/:id", h.GetResponseFHIR)
	fhirRead.POST("/QuestionnaireResponse/:id/$validate", h.ValidateResponseFHIR)

	fhirWrite := fhirGroup.Group("", auth.RequireRole(auth.RoleAuthor))
	fhirWrite.POST("/Questionnaire", h.CreateFHIR)
}

// -- Request bodies --

type startRequest struct {
	Subject         string                 `json:"subject" validate:"omitempty,reference"`
	Encounter       string                 `json:"encounter" validate:"omitempty,reference"`
	LaunchContext   map[string]interface{} `json:"launchContext"`
	PriorResponseID string                 `json:"priorResponseId" validate:"omitempty,max=64"`
}

type answerRequest struct {
	// Value is converted by the item's type; null clears the answer.
	Value interface{} `json:"value"`
}

type suggestionsRequest struct {
	Provider      string  `json:"provider" validate:"required,max=64"`
	MinConfidence float64 `json:"minConfidence" validate:"gte=0,lte=1"`
	Overwrite     bool    `json:"overwrite"`
}

// populateRequest accepts either a FHIR Parameters resource or the plain
// {subject, encounter, launchContext} form.
type populateRequest struct {
	ResourceType  string                 `json:"resourceType"`
	Parameter     []parameter            `json:"parameter"`
	Subject       string                 `json:"subject" validate:"omitempty,reference"`
	Encounter     string                 `json:"encounter" validate:"omitempty,reference"`
	LaunchContext map[string]interface{} `json:"launchContext"`
}

type parameter struct {
	Name           string                 `json:"name"`
	ValueString    *string                `json:"valueString,omitempty"`
	ValueReference *Reference             `json:"valueReference,omitempty"`
	Resource       map[string]interface{} `json:"resource,omitempty"`
	Part           []parameter            `json:"part,omitempty"`
}

// normalize folds Parameters into the plain form. The SDC "context" parameter
// carries a "name" part and a "content" part holding the resource.
func (r *populateRequest) normalize() error {
	if r.ResourceType == "" {
		return nil
	}
	if r.ResourceType != "Parameters" {
		return fmt.Errorf("expected resourceType Parameters, got %s", r.ResourceType)
	}
	if r.LaunchContext == nil {
		r.LaunchContext = make(map[string]interface{})
	}
	for _, p := range r.Parameter {
		switch p.Name {
		case "subject":
			if p.ValueReference != nil {
				r.Subject = p.ValueReference.Reference
			}
		case "encounter":
			if p.ValueReference != nil {
				r.Encounter = p.ValueReference.Reference
			}
		case "context":
			var name string
			var content interface{}
			for _, part := range p.Part {
				switch part.Name {
				case "name":
					if part.ValueString != nil {
						name = *part.ValueString
					}
				case "content":
					if part.Resource != nil {
						content = part.Resource
					}
				}
			}
			if name == "" || content == nil {
				return fmt.Errorf("context parameter requires name and content parts")
			}
			r.LaunchContext[name] = content
		}
	}
	return nil
}

// invalid returns the validation failures of v joined into one message, or
// the empty string.
func (h *Handler) invalid(v interface{}) string {
	err := h.validate.Struct(v)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func (h *Handler) check(v interface{}) error {
	if msg := h.invalid(v); msg != "" {
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	}
	return nil
}

// decodeFHIR reads application/fhir+json bodies, which echo's binder does
// not accept. An empty body leaves v untouched.
func decodeFHIR(c echo.Context, v interface{}) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// httpError maps service errors to HTTP errors; fhir.ErrorHandler renders
// them as OperationOutcome.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownLinkID):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidDefinition), errors.Is(err, ErrNotAnswerable), errors.Is(err, ErrUnknownProvider):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}

// -- REST Handlers --

func (h *Handler) CreateQuestionnaire(c echo.Context) error {
	var q Questionnaire
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateQuestionnaire(c.Request().Context(), &q); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) GetQuestionnaire(c echo.Context) error {
	q, err := h.svc.GetQuestionnaire(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) ListQuestionnaires(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListQuestionnaires(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListResponses(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListResponses(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) StartResponse(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.check(&req); err != nil {
		return err
	}
	qr, err := h.svc.StartResponse(c.Request().Context(), c.Param("id"), StartOptions{
		Subject:         req.Subject,
		Encounter:       req.Encounter,
		LaunchContext:   req.LaunchContext,
		PriorResponseID: req.PriorResponseID,
	})
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set("Location", "/api/v1/questionnaire-responses/"+qr.ID)
	return c.JSON(http.StatusCreated, qr)
}

func (h *Handler) GetResponse(c echo.Context) error {
	qr, err := h.svc.GetResponse(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, qr)
}

func (h *Handler) UpdateAnswer(c echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	qr, err := h.svc.UpdateAnswer(c.Request().Context(), c.Param("id"), c.Param("linkId"), req.Value)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, qr)
}

func (h *Handler) EnabledItems(c echo.Context) error {
	enabled, err := h.svc.EnabledItems(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"enabled": enabled})
}

func (h *Handler) ValidateResponse(c echo.Context) error {
	result, err := h.svc.Validate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ApplySuggestions(c echo.Context) error {
	var req suggestionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.check(&req); err != nil {
		return err
	}
	qr, applied, err := h.svc.ApplySuggestions(c.Request().Context(), c.Param("id"), req.Provider, ApplyOptions{
		MinConfidence: req.MinConfidence,
		Overwrite:     req.Overwrite,
	})
	if err != nil {
		return httpError(err)
	}
	if applied == nil {
		applied = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"response": qr,
		"applied":  applied,
	})
}

func (h *Handler) SaveDraft(c echo.Context) error {
	qr, err := h.svc.SaveDraft(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, qr)
}

func (h *Handler) Submit(c echo.Context) error {
	qr, result, err := h.svc.Submit(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrIncomplete) {
		return c.JSON(http.StatusUnprocessableEntity,
			fhir.MessagesOutcome(fhir.IssueSeverityError, fhir.IssueTypeRequired, result.Errors))
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, qr)
}

// -- FHIR Handlers --

func (h *Handler) SearchFHIR(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListQuestionnaires(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	entries := make([]fhir.BundleEntry, len(items))
	for i, item := range items {
		entries[i] = fhir.BundleEntry{FullURL: "/fhir/Questionnaire/" + item.ID, Resource: item}
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(entries, total, fhir.Page{
		BaseURL: "/fhir/Questionnaire",
		Count:   pg.Limit,
		Offset:  pg.Offset,
	}))
}

func (h *Handler) GetFHIR(c echo.Context) error {
	q, err := h.svc.GetQuestionnaire(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Questionnaire", c.Param("id")))
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) CreateFHIR(c echo.Context) error {
	var q Questionnaire
	if err := decodeFHIR(c, &q); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	if q.ResourceType != "" && q.ResourceType != "Questionnaire" {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("expected resourceType Questionnaire"))
	}
	if err := h.svc.CreateQuestionnaire(c.Request().Context(), &q); err != nil {
		if errors.Is(err, ErrInvalidDefinition) {
			return c.JSON(http.StatusBadRequest,
				fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeDuplicate, err.Error()))
		}
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	c.Response().Header().Set("Location", "/fhir/Questionnaire/"+q.ID)
	return c.JSON(http.StatusCreated, q)
}

// PopulateFHIR implements Questionnaire/$populate. Nothing is stored.
func (h *Handler) PopulateFHIR(c echo.Context) error {
	var req populateRequest
	if err := decodeFHIR(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	if err := req.normalize(); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	if msg := h.invalid(&req); msg != "" {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, msg))
	}

	qr, res, err := h.svc.Populate(c.Request().Context(), c.Param("id"), req.Subject, req.Encounter, req.LaunchContext)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Questionnaire", c.Param("id")))
		}
		return c.JSON(http.StatusBadGateway, fhir.ErrorOutcome(err.Error()))
	}
	c.Response().Header().Set("X-Populated-Items", fmt.Sprintf("%d/%d", res.Populated, res.Total))
	return c.JSON(http.StatusOK, qr)
}

func (h *Handler) GetResponseFHIR(c echo.Context) error {
	qr, err := h.svc.GetResponse(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("QuestionnaireResponse", c.Param("id")))
	}
	return c.JSON(http.StatusOK, qr)
}

// ValidateResponseFHIR reports validation messages as an OperationOutcome.
func (h *Handler) ValidateResponseFHIR(c echo.Context) error {
	result, err := h.svc.Validate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("QuestionnaireResponse", c.Param("id")))
	}
	return c.JSON(http.StatusOK, fhir.MessagesOutcome(fhir.IssueSeverityError, fhir.IssueTypeRequired, result.Errors))
}
