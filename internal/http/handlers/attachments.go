package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/media"
	"server/pkg/zip"
)

// maxUploadBytes bounds a single attachment upload.
const maxUploadBytes = 16 << 20

type reorderAttachmentRequest struct {
	Position int `json:"position"`
}

var attachmentKinds = map[string]domain.AttachmentKind{
	"photo":     domain.AttachmentKindPhoto,
	"floorplan": domain.AttachmentKindFloorplan,
	"document":  domain.AttachmentKindDocument,
}

// AddAttachment accepts one multipart upload for the media step and appends
// it at the end of the ordering.
func (a *App) AddAttachment(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "file part required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read upload")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "empty upload")
		return
	}

	kind := domain.AttachmentKindPhoto
	if raw := strings.TrimSpace(r.FormValue("kind")); raw != "" {
		mapped, found := attachmentKinds[strings.ToLower(raw)]
		if !found {
			a.error(w, http.StatusBadRequest, "bad_request", "kind must be photo, floorplan or document")
			return
		}
		kind = mapped
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	att, err := ctrl.AddAttachment(r.Context(), media.AddRequest{
		Filename: header.Filename,
		MIME:     mime,
		Kind:     kind,
		Data:     data,
	})
	if err != nil {
		a.wizardError(w, err, ctrl.View())
		return
	}
	a.json(w, http.StatusCreated, attachmentsDTO([]domain.MediaAttachment{att})[0])
}

// RemoveAttachment deletes one upload; the remaining items are renumbered.
func (a *App) RemoveAttachment(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	attachmentID := chi.URLParam(r, "attachmentID")
	if attachmentID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "attachment id required")
		return
	}
	if err := ctrl.RemoveAttachment(r.Context(), attachmentID); err != nil {
		a.wizardError(w, err, ctrl.View())
		return
	}
	a.json(w, http.StatusOK, viewDTO(ctrl.View()))
}

// ReorderAttachment moves one upload to the requested position.
func (a *App) ReorderAttachment(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	attachmentID := chi.URLParam(r, "attachmentID")
	if attachmentID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "attachment id required")
		return
	}
	var req reorderAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if _, err := ctrl.ReorderAttachment(r.Context(), attachmentID, req.Position); err != nil {
		a.wizardError(w, err, ctrl.View())
		return
	}
	a.json(w, http.StatusOK, viewDTO(ctrl.View()))
}

// AttachmentArchive streams every upload of the draft as one zip, ordered the
// way the user arranged them.
func (a *App) AttachmentArchive(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.draftController(w, r)
	if !ok {
		return
	}
	view := ctrl.View()
	if len(view.Attachments) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "draft has no attachments")
		return
	}
	var assets []zip.Asset
	for _, att := range view.Attachments {
		data, err := a.Store.Read(r.Context(), att.StorageKey)
		if err != nil {
			a.Logger.Warn().Err(err).Str("key", att.StorageKey).Msg("archive: blob read failed")
			continue
		}
		name := fmt.Sprintf("%02d-%s%s", att.Order+1, att.ID, path.Ext(att.StorageKey))
		assets = append(assets, zip.Asset{Filename: name, MIME: att.MIME, Data: data})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusInternalServerError, "internal", "no attachment data available")
		return
	}
	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=draft-%s.zip", view.DraftID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
