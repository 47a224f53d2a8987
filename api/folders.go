package api

import (
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"dealgraph.org/common"
	"dealgraph.org/db"
)

type createFolderRequest struct {
	Name       string `json:"name"`
	ParentPath string `json:"parent_path"`
}

// normalizeFolderPath cleans a client-supplied path to a rooted, slash-joined
// form with no traversal segments.
func normalizeFolderPath(p string) string {
	cleaned := path.Clean("/" + strings.TrimSpace(p))
	if cleaned == "." {
		cleaned = "/"
	}
	return cleaned
}

func (h *Handlers) CreateFolder(c echo.Context) error {
	scope := scopeFrom(c)
	var req createFolderRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Name == "" || strings.ContainsAny(req.Name, "/\\") {
		return respondError(c, common.E(common.KindValidation, "name is required and may not contain slashes"))
	}

	parent := normalizeFolderPath(req.ParentPath)
	folder := &db.Folder{
		DealID:     c.Param("dealID"),
		Name:       req.Name,
		Path:       normalizeFolderPath(path.Join(parent, req.Name)),
		ParentPath: parent,
	}
	if err := h.Store.Documents.CreateFolder(c.Request().Context(), scope, folder); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, folder)
}

func (h *Handlers) ListFolders(c echo.Context) error {
	folders, err := h.Store.Documents.ListFolders(c.Request().Context(), scopeFrom(c), c.Param("dealID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"folders": folders})
}

// DeleteFolder removes a folder and its direct children; documents inside
// fall back to the root folder.
func (h *Handlers) DeleteFolder(c echo.Context) error {
	folderPath := normalizeFolderPath(c.QueryParam("path"))
	if folderPath == "/" {
		return respondError(c, common.E(common.KindValidation, "the root folder cannot be deleted"))
	}
	err := h.Store.Documents.DeleteFolder(c.Request().Context(), scopeFrom(c), c.Param("dealID"), folderPath)
	if err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
