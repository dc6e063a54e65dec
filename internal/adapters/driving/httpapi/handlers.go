package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driving"
)

// Request parameter and part names.
const (
	ParamTransferID          = "transferId"
	ParamFromRepositoryID    = "fromRepositoryId"
	ParamAllowTransferToSelf = "allowTransferToSelf"
	ParamVersionMajor        = "versionMajor"
	ParamVersionMinor        = "versionMinor"
	ParamVersionRevision     = "versionRevision"
	ParamVersionEdition      = "versionEdition"
	ParamRootFileTransfer    = "rootFileTransfer"
	PartManifest             = "manifest"
)

type beginResponse struct {
	TransferID      string `json:"transferId"`
	VersionMajor    string `json:"versionMajor"`
	VersionMinor    string `json:"versionMinor"`
	VersionRevision string `json:"versionRevision"`
	VersionEdition  string `json:"versionEdition"`
}

type statusResponse struct {
	CurrentPosition int                   `json:"currentPosition"`
	EndPosition     int                   `json:"endPosition"`
	Status          string                `json:"status"`
	Error           *domain.TransferError `json:"error,omitempty"`
}

func transferID(c echo.Context) (string, error) {
	id := c.QueryParam(ParamTransferID)
	if id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "missing "+ParamTransferID)
	}
	return id, nil
}

func (s *Server) test(c echo.Context) error {
	if err := s.receiver.Test(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) begin(c echo.Context) error {
	req := driving.BeginRequest{
		FromRepositoryID: c.FormValue(ParamFromRepositoryID),
		FromVersion: domain.TransferVersion{
			Major:    c.FormValue(ParamVersionMajor),
			Minor:    c.FormValue(ParamVersionMinor),
			Revision: c.FormValue(ParamVersionRevision),
			Edition:  c.FormValue(ParamVersionEdition),
		},
		RootFileTransfer: c.FormValue(ParamRootFileTransfer),
	}
	if req.FromRepositoryID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing "+ParamFromRepositoryID)
	}
	if v := c.FormValue(ParamAllowTransferToSelf); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s: %q", ParamAllowTransferToSelf, v))
		}
		req.AllowTransferToSelf = allow
	}

	resp, err := s.receiver.Begin(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, beginResponse{
		TransferID:      resp.TransferID,
		VersionMajor:    resp.Version.Major,
		VersionMinor:    resp.Version.Minor,
		VersionRevision: resp.Version.Revision,
		VersionEdition:  resp.Version.Edition,
	})
}

// postSnapshot streams the manifest part to the receiver and the delta
// list back to the sender.
func (s *Server) postSnapshot(c echo.Context) error {
	id, err := transferID(c)
	if err != nil {
		return err
	}
	mr, err := c.Request().MultipartReader()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return echo.NewHTTPError(http.StatusBadRequest, "missing "+PartManifest+" part")
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if part.FormName() != PartManifest {
			continue
		}
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return s.receiver.SaveSnapshot(c.Request().Context(), id, part, c.Response())
	}
}

// postContent stores each part under its form name.
func (s *Server) postContent(c echo.Context) error {
	id, err := transferID(c)
	if err != nil {
		return err
	}
	mr, err := c.Request().MultipartReader()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return c.NoContent(http.StatusOK)
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := s.receiver.SaveContent(c.Request().Context(), id, part.FormName(), part); err != nil {
			return err
		}
	}
}

func (s *Server) prepare(c echo.Context) error {
	return s.phase(c, s.receiver.Prepare)
}

func (s *Server) commit(c echo.Context) error {
	return s.phase(c, s.receiver.Commit)
}

func (s *Server) abort(c echo.Context) error {
	return s.phase(c, s.receiver.Abort)
}

func (s *Server) phase(c echo.Context, fn func(context.Context, string) error) error {
	id, err := transferID(c)
	if err != nil {
		return err
	}
	if err := fn(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) status(c echo.Context) error {
	id, err := transferID(c)
	if err != nil {
		return err
	}
	p, err := s.receiver.Status(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{
		CurrentPosition: p.CurrentPosition,
		EndPosition:     p.EndPosition,
		Status:          string(p.Status),
		Error:           p.Error,
	})
}

func (s *Server) report(c echo.Context) error {
	id, err := transferID(c)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	return s.receiver.Report(c.Request().Context(), id, c.Response())
}
