package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/pkg/dto"
)

// FaceService is the identity engine as seen by the HTTP layer.
type FaceService interface {
	Enroll(ctx context.Context, image []byte) (string, error)
	CheckIn(ctx context.Context, image []byte) (identity.CheckInResult, error)
	Update(ctx context.Context, faceID string, image []byte) (string, error)
	Delete(ctx context.Context, faceID string) error
	DeleteAll(ctx context.Context) error
	Snapshot(ctx context.Context, faceID string) ([]byte, error)
}

type FaceHandler struct {
	svc            FaceService
	maxUploadBytes int64
}

// NewFaceHandler builds the identity endpoints. maxUploadBytes <= 0 disables
// the upload limit.
func NewFaceHandler(svc FaceService, maxUploadBytes int64) *FaceHandler {
	return &FaceHandler{svc: svc, maxUploadBytes: maxUploadBytes}
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, dto.Response{StatusCode: status, Message: message, Data: data})
}

// statusFor maps an engine error onto the response envelope.
func statusFor(err error) (int, string, any) {
	var dup *identity.DuplicateError
	switch {
	case errors.As(err, &dup):
		return http.StatusBadRequest, dto.MsgDuplicate, dto.DuplicateData{Distance: dup.Score}
	case errors.Is(err, identity.ErrNoFaceDetected):
		return http.StatusBadRequest, dto.MsgNoFace, nil
	case errors.Is(err, identity.ErrInvalidImage):
		return http.StatusBadRequest, dto.MsgInvalidImage, nil
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusBadRequest, dto.MsgNotFound, nil
	case errors.Is(err, identity.ErrIdentityMismatch):
		return http.StatusBadRequest, dto.MsgMismatch, nil
	case errors.Is(err, identity.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, dto.MsgStoreDown, nil
	case errors.Is(err, identity.ErrExtractorUnavailable):
		return http.StatusServiceUnavailable, dto.MsgModelDown, nil
	default:
		return http.StatusInternalServerError, dto.MsgInternal, nil
	}
}

func (h *FaceHandler) fail(c *gin.Context, op string, err error) {
	status, message, data := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("identity operation failed", "op", op, "error", err)
	} else {
		slog.Info("identity operation rejected", "op", op, "reason", message)
	}
	respond(c, status, message, data)
}

// readImage reads the multipart "file" field. It writes the error response
// itself and reports false when the request cannot proceed.
func (h *FaceHandler) readImage(c *gin.Context) ([]byte, bool) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond(c, http.StatusRequestEntityTooLarge, dto.MsgFileTooLarge, nil)
			return nil, false
		}
		respond(c, http.StatusBadRequest, dto.MsgFileRequired, nil)
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respond(c, http.StatusBadRequest, dto.MsgInvalidImage, nil)
		return nil, false
	}
	if len(data) == 0 {
		respond(c, http.StatusBadRequest, dto.MsgFileRequired, nil)
		return nil, false
	}
	return data, true
}

// formValue reads a form field from a multipart or urlencoded body, falling
// back to the query string. net/http ignores urlencoded bodies on DELETE, so
// those are parsed here.
func (h *FaceHandler) formValue(c *gin.Context, key string) string {
	if v := c.PostForm(key); v != "" {
		return v
	}
	if c.Request.Method == http.MethodDelete && c.Request.Body != nil {
		ct, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
		if ct == "application/x-www-form-urlencoded" {
			body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
			if err == nil {
				if vals, err := url.ParseQuery(string(body)); err == nil && vals.Get(key) != "" {
					return vals.Get(key)
				}
			}
		}
	}
	return c.Query(key)
}

// Enroll handles POST /api/v1/enroll.
func (h *FaceHandler) Enroll(c *gin.Context) {
	image, ok := h.readImage(c)
	if !ok {
		return
	}

	faceID, err := h.svc.Enroll(c.Request.Context(), image)
	if err != nil {
		h.fail(c, "enroll", err)
		return
	}
	respond(c, http.StatusOK, dto.MsgEnrolled, dto.FaceIDData{FaceID: faceID})
}

// CheckIn handles POST /api/v1/check-in.
func (h *FaceHandler) CheckIn(c *gin.Context) {
	image, ok := h.readImage(c)
	if !ok {
		return
	}

	res, err := h.svc.CheckIn(c.Request.Context(), image)
	if err != nil {
		h.fail(c, "check_in", err)
		return
	}

	if !res.Matched {
		data := dto.CheckInData{Matched: false}
		if res.Nearest {
			sim := res.Similarity
			data.Similarity = &sim
		}
		respond(c, http.StatusBadRequest, dto.MsgNoMatch, data)
		return
	}

	sim := res.Similarity
	respond(c, http.StatusOK, dto.MsgMatched, dto.CheckInData{
		Matched:    true,
		FaceID:     res.FaceID,
		Similarity: &sim,
	})
}

// Update handles PUT /api/v1/update.
func (h *FaceHandler) Update(c *gin.Context) {
	// Reading the file first parses the multipart form under the upload limit.
	image, ok := h.readImage(c)
	if !ok {
		return
	}

	faceID := h.formValue(c, "face_id")
	if faceID == "" {
		respond(c, http.StatusBadRequest, dto.MsgFaceIDNeeded, nil)
		return
	}

	newID, err := h.svc.Update(c.Request.Context(), faceID, image)
	if err != nil {
		h.fail(c, "update", err)
		return
	}
	respond(c, http.StatusOK, dto.MsgUpdated, dto.FaceIDData{FaceID: newID})
}

// Delete handles DELETE /api/v1/delete.
func (h *FaceHandler) Delete(c *gin.Context) {
	faceID := h.formValue(c, "face_id")
	if faceID == "" {
		respond(c, http.StatusBadRequest, dto.MsgFaceIDNeeded, nil)
		return
	}

	if err := h.svc.Delete(c.Request.Context(), faceID); err != nil {
		h.fail(c, "delete", err)
		return
	}
	respond(c, http.StatusOK, dto.MsgDeleted, nil)
}

// DeleteAll handles DELETE /api/v1/delete-all.
func (h *FaceHandler) DeleteAll(c *gin.Context) {
	if err := h.svc.DeleteAll(c.Request.Context()); err != nil {
		h.fail(c, "delete_all", err)
		return
	}
	respond(c, http.StatusOK, dto.MsgDeletedAll, nil)
}

// Snapshot handles GET /api/v1/faces/:face_id/snapshot.
func (h *FaceHandler) Snapshot(c *gin.Context) {
	data, err := h.svc.Snapshot(c.Request.Context(), c.Param("face_id"))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			respond(c, http.StatusNotFound, dto.MsgNotFound, nil)
			return
		}
		h.fail(c, "snapshot", err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}
