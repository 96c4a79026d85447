package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/storage"
	"github.com/apex/log"
	"github.com/gorilla/mux"
)

// RecordingPurger deletes a recording with its archived copy and index entry
type RecordingPurger interface {
	Purge(ctxt context.Context, id int64) error
}

// DownloadHandler REST API serving recordings to users holding their keys
type DownloadHandler struct {
	goutils.RestAPIHandler
	store  storage.Store
	purger RecordingPurger
}

/*
NewDownloadHandler define a new recording download REST API handler

	@param store storage.Store - local recording storage
	@param purger RecordingPurger - recording deletion
	@param logConfig common.HTTPRequestLogging - handler log settings
	@returns new DownloadHandler
*/
func NewDownloadHandler(
	store storage.Store, purger RecordingPurger, logConfig common.HTTPRequestLogging,
) (DownloadHandler, error) {
	return DownloadHandler{
		RestAPIHandler: newRestAPIHandler(
			log.Fields{"module": "api", "component": "download-handler"}, logConfig,
		),
		store:  store,
		purger: purger,
	}, nil
}

// downloadFailureCode HTTP response code for a download or delete failure
func downloadFailureCode(err error) int {
	switch {
	case errors.Is(err, common.ErrBadKey):
		return http.StatusForbidden
	case errors.Is(err, common.ErrUnknownRecording):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrRecordingLive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// downloadParams the recording ID and keys presented by the caller
type downloadParams struct {
	id        int64
	accessKey int64
	deleteKey *int64
}

func parseDownloadParams(r *http.Request) (downloadParams, error) {
	var params downloadParams
	rawID, ok := mux.Vars(r)["recordingID"]
	if !ok {
		return params, fmt.Errorf("recording ID missing from request URL")
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return params, fmt.Errorf("invalid recording ID '%s'", rawID)
	}
	params.id = id

	query := r.URL.Query()
	accessKey, err := strconv.ParseInt(query.Get("key"), 10, 64)
	if err != nil {
		return params, fmt.Errorf("missing or invalid access key")
	}
	params.accessKey = accessKey

	if query.Has("delete") {
		deleteKey, err := strconv.ParseInt(query.Get("delete"), 10, 64)
		if err != nil {
			return params, fmt.Errorf("invalid delete key")
		}
		params.deleteKey = &deleteKey
	}
	return params, nil
}

// DownloadRecording godoc
// @Summary Download or delete a recording
// @Description Stream the multi-track Ogg file of a recording. When the delete key is
// @Description also given, the recording is deleted instead.
// @tags download
// @Produce audio/ogg,json
// @Param X-Request-ID header string false "Request ID"
// @Param recordingID path string true "Recording ID"
// @Param key query string true "Access key"
// @Param delete query string false "Delete key"
// @Success 200 {file} file "recording"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 403 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 409 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/download/{recordingID} [get]
func (h DownloadHandler) DownloadRecording(w http.ResponseWriter, r *http.Request) {
	logTags := h.GetLogTagsForContext(r.Context())

	params, err := parseDownloadParams(r)
	if err != nil {
		h.writeFailure(w, r, http.StatusBadRequest, "bad download request", err)
		return
	}
	if params.deleteKey != nil {
		h.deleteRecording(w, r, params)
		return
	}

	if err := h.store.VerifyAccess(params.id, params.accessKey); err != nil {
		h.writeFailure(w, r, downloadFailureCode(err), "recording not available", err)
		return
	}

	download, err := h.store.OpenDownload(r.Context(), params.id)
	if err != nil {
		h.writeFailure(w, r, downloadFailureCode(err), "recording not available", err)
		return
	}
	defer func() {
		if err := download.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Recording close error")
		}
	}()

	w.Header().Set("Content-Type", "audio/ogg")
	w.Header().Set(
		"Content-Disposition", fmt.Sprintf("attachment; filename=\"voxmux-%d.ogg\"", params.id),
	)
	w.Header().Set("Content-Length", strconv.FormatInt(download.Size(), 10))
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, download)
	if err != nil {
		log.
			WithError(err).
			WithFields(logTags).
			WithField("recording", params.id).
			WithField("written", written).
			Warn("Recording download interrupted")
		return
	}
	log.
		WithFields(logTags).
		WithField("recording", params.id).
		WithField("written", written).
		Debug("Recording downloaded")
}

// DownloadRecordingHandler Wrapper around DownloadRecording
func (h DownloadHandler) DownloadRecordingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.DownloadRecording(w, r)
	}
}

// DeleteRecording godoc
// @Summary Delete a recording
// @Description Delete a closed recording. Both the access and delete keys are required.
// @tags download
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Param recordingID path string true "Recording ID"
// @Param key query string true "Access key"
// @Param delete query string true "Delete key"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 403 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 409 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/download/{recordingID} [delete]
func (h DownloadHandler) DeleteRecording(w http.ResponseWriter, r *http.Request) {
	params, err := parseDownloadParams(r)
	if err == nil && params.deleteKey == nil {
		err = fmt.Errorf("delete key missing")
	}
	if err != nil {
		h.writeFailure(w, r, http.StatusBadRequest, "bad delete request", err)
		return
	}
	h.deleteRecording(w, r, params)
}

// DeleteRecordingHandler Wrapper around DeleteRecording
func (h DownloadHandler) DeleteRecordingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.DeleteRecording(w, r)
	}
}

func (h DownloadHandler) deleteRecording(
	w http.ResponseWriter, r *http.Request, params downloadParams,
) {
	logTags := h.GetLogTagsForContext(r.Context())

	if err := h.store.VerifyDelete(params.id, params.accessKey, *params.deleteKey); err != nil {
		h.writeFailure(w, r, downloadFailureCode(err), "recording not deleted", err)
		return
	}
	if err := h.purger.Purge(r.Context(), params.id); err != nil {
		h.writeFailure(w, r, downloadFailureCode(err), "recording not deleted", err)
		return
	}

	log.WithFields(logTags).WithField("recording", params.id).Info("Recording deleted by owner")
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to form response")
	}
}

func (h DownloadHandler) writeFailure(
	w http.ResponseWriter, r *http.Request, respCode int, msg string, cause error,
) {
	logTags := h.GetLogTagsForContext(r.Context())
	log.WithError(cause).WithFields(logTags).Info(msg)
	if err := h.WriteRESTResponse(
		w, respCode, h.GetStdRESTErrorMsg(r.Context(), respCode, msg, cause.Error()), nil,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to form response")
	}
}

// Alive godoc
// @Summary Download API liveness check
// @Description Will return success to indicate the REST API module is live
// @tags util,download
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Router /v1/alive [get]
func (h DownloadHandler) Alive(w http.ResponseWriter, r *http.Request) {
	logTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h DownloadHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}
