package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/analyzer"
	"github.com/fyrsmithlabs/vendorflow/internal/logging"
	"github.com/fyrsmithlabs/vendorflow/internal/pipeline"
	"github.com/fyrsmithlabs/vendorflow/internal/sanitize"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

const maxListLimit = 500

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.config.Version, Services: map[string]string{"database": "ok"}}
	if s.svc.Telemetry != nil {
		resp.Services["telemetry"], _ = s.svc.Telemetry.Health()
	}
	if err := s.svc.Store.Ping(c.Request().Context()); err != nil {
		s.logger.Warn("health check: database unavailable", zap.Error(err))
		resp.Status = "degraded"
		resp.Services["database"] = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// pathID validates the :id path parameter and tags the request context
// with it.
func pathID(c echo.Context, field string, tag func(context.Context, string) context.Context) (string, error) {
	id := c.Param("id")
	if err := sanitize.ValidateID(field, id); err != nil {
		return "", err
	}
	c.SetRequest(c.Request().WithContext(tag(c.Request().Context(), id)))
	return id, nil
}

func (s *Server) handleProcessThread(c echo.Context) error {
	id, err := pathID(c, "thread id", logging.WithThreadID)
	if err != nil {
		return err
	}
	opts := pipeline.Options{Force: queryBool(c, "force")}

	if queryBool(c, "async") {
		if s.svc.Queue == nil {
			return echo.NewHTTPError(http.StatusNotImplemented, "async processing is not enabled")
		}
		if err := s.svc.Queue.Enqueue(id, opts); err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, ProcessResponse{Queued: true})
	}

	report, err := s.svc.Pipeline.ProcessThread(c.Request().Context(), id, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ProcessResponse{Mutations: report.Mutations(), Report: report})
}

func (s *Server) handleGetAnalysis(c echo.Context) error {
	id, err := pathID(c, "thread id", logging.WithThreadID)
	if err != nil {
		return err
	}
	t, err := s.svc.Store.GetThread(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) handleCandidates(c echo.Context) error {
	id, err := pathID(c, "thread id", logging.WithThreadID)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	t, err := s.svc.Store.GetThread(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := analyzer.LoadMessages(ctx, s.svc.Store, id)
	if err != nil {
		return err
	}

	var sig thread.ProjectSignals
	if snap, err := t.Snapshot(); err != nil {
		s.logger.Warn("ignoring unreadable analysis snapshot", zap.String("thread_id", id), zap.Error(err))
	} else if snap != nil {
		sig = snap.ProjectSignals
	}

	res, err := s.svc.Linker.Candidates(ctx, msgs, sig)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// handleManualLink links the thread and immediately reprocesses it so
// relationships that needed the project are decided.
func (s *Server) handleManualLink(c echo.Context) error {
	id, err := pathID(c, "thread id", logging.WithThreadID)
	if err != nil {
		return err
	}
	var req LinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := sanitize.ValidateID("projectId", req.ProjectID); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := s.svc.Linker.ManualLink(ctx, id, req.ProjectID); err != nil {
		return err
	}
	report, err := s.svc.Pipeline.ProcessThread(ctx, id, pipeline.Options{})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ProcessResponse{Mutations: report.Mutations(), Report: report})
}

func (s *Server) handleListProposals(c echo.Context) error {
	f := store.ProposalFilter{
		State:          store.ProposalState(strings.ToUpper(c.QueryParam("state"))),
		RelationshipID: c.QueryParam("relationship_id"),
		ThreadID:       c.QueryParam("thread_id"),
	}
	var err error
	if f.Limit, err = queryInt(c, "limit", 100); err != nil {
		return err
	}
	if f.Offset, err = queryInt(c, "offset", 0); err != nil {
		return err
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}

	props, err := s.svc.Engine.ListProposals(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if props == nil {
		props = []store.Proposal{}
	}
	return c.JSON(http.StatusOK, ProposalsResponse{Proposals: props})
}

func (s *Server) handleAcceptProposal(c echo.Context) error {
	id, user, err := s.proposalAction(c)
	if err != nil {
		return err
	}
	res, err := s.svc.Engine.Accept(c.Request().Context(), id, user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleRejectProposal(c echo.Context) error {
	id, user, err := s.proposalAction(c)
	if err != nil {
		return err
	}
	p, err := s.svc.Engine.Reject(c.Request().Context(), id, user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// proposalAction reads the proposal id and the acting user, taken from the
// body or the X-User header.
func (s *Server) proposalAction(c echo.Context) (string, string, error) {
	id, err := pathID(c, "proposal id", logging.WithProposalID)
	if err != nil {
		return "", "", err
	}

	var req UserRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return "", "", echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	user := strings.TrimSpace(req.User)
	if user == "" {
		user = strings.TrimSpace(c.Request().Header.Get(HeaderUser))
	}
	if user == "" {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "user is required")
	}
	return id, user, nil
}

func (s *Server) handleExpireProposals(c echo.Context) error {
	n, err := s.svc.Engine.ExpireStale(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ExpireResponse{Expired: n})
}

func (s *Server) handleHistory(c echo.Context) error {
	id, err := pathID(c, "relationship id", logging.WithRelationshipID)
	if err != nil {
		return err
	}

	changes, err := s.svc.Engine.History(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if changes == nil {
		changes = []store.StatusChange{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{RelationshipID: id, Changes: changes})
}

func (s *Server) handleListDefinitions(c echo.Context) error {
	table, err := s.svc.Definitions.Table(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DefinitionsResponse{Definitions: table.Definitions()})
}

func (s *Server) handlePutDefinition(c echo.Context) error {
	if s.config.ReadOnlyDefinitions {
		return echo.NewHTTPError(http.StatusConflict, "definitions are read-only")
	}
	var def signals.Definition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	def.Slug = c.Param("slug")
	if err := sanitize.ValidateSlug(def.Slug); err != nil {
		return err
	}
	if err := signals.ValidateDefinitions([]signals.Definition{def}); err != nil {
		return err
	}

	saved, err := s.svc.Store.UpsertDefinition(c.Request().Context(), def)
	if err != nil {
		return err
	}
	s.svc.Definitions.Invalidate()
	s.logger.Info("status definition updated", zap.String("slug", def.Slug))
	return c.JSON(http.StatusOK, saved.ToDefinition())
}

func (s *Server) handleInvalidateDefinitions(c echo.Context) error {
	s.svc.Definitions.Invalidate()
	return c.NoContent(http.StatusNoContent)
}

func queryBool(c echo.Context, name string) bool {
	v, err := strconv.ParseBool(c.QueryParam(name))
	return err == nil && v
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return n, nil
}
