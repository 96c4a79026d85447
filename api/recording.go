package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/handoff"
	"github.com/alwitt/voxmux/recorder"
	"github.com/alwitt/voxmux/voice"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// RecordingOperator recording operations exposed over the management API
type RecordingOperator interface {
	StartRecording(ctxt context.Context, request common.RecordingRequest) (recorder.StartOutcome, error)

	StopRecording(ctxt context.Context, guildID, channelID string) error

	StopGuild(ctxt context.Context, guildID string) (int, error)

	List() []common.RecordingInfo

	Occupancy() common.Occupancy

	Links(keys common.RecordingKeys) recorder.Links

	Draining() bool
}

// RecordingManagementHandler REST API interface to the recording manager
type RecordingManagementHandler struct {
	goutils.RestAPIHandler
	validate  *validator.Validate
	operator  RecordingOperator
	restarter handoff.Restarter
}

/*
NewRecordingManagementHandler define a new recording management REST API handler

	@param operator RecordingOperator - the recording manager
	@param restarter handoff.Restarter - graceful restart trigger
	@param logConfig common.HTTPRequestLogging - handler log settings
	@returns new RecordingManagementHandler
*/
func NewRecordingManagementHandler(
	operator RecordingOperator,
	restarter handoff.Restarter,
	logConfig common.HTTPRequestLogging,
) (RecordingManagementHandler, error) {
	return RecordingManagementHandler{
		RestAPIHandler: newRestAPIHandler(
			log.Fields{"module": "api", "component": "recording-management-handler"}, logConfig,
		),
		validate:  validator.New(),
		operator:  operator,
		restarter: restarter,
	}, nil
}

// ====================================================================================
// Start Recording

// RecordingStarted an admitted recording
type RecordingStarted struct {
	common.RecordingKeys
	recorder.Links
	// Identity index of the identity recording the channel
	Identity int `json:"identity"`
}

// StartRecordingResponse response to a successful recording request
type StartRecordingResponse struct {
	goutils.RestAPIBaseResponse
	// Recording the admitted recording
	Recording RecordingStarted `json:"recording"`
}

// RecordingConflictResponse the channel is already being recorded
type RecordingConflictResponse struct {
	goutils.RestAPIBaseResponse
	// ID ID of the existing recording
	ID int64 `json:"id"`
	// DownloadURL download link of the existing recording
	DownloadURL string `json:"download_url"`
}

// admissionFailureCode HTTP response code for a recording request failure
func admissionFailureCode(err error) int {
	switch {
	case errors.Is(err, common.ErrAlreadyRecording):
		return http.StatusConflict
	case errors.Is(err, common.ErrNoCapacity), errors.Is(err, common.ErrDraining):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrGuildNotVisible), errors.Is(err, common.ErrChannelNotVisible):
		return http.StatusNotFound
	case errors.Is(err, common.ErrNoPermission):
		return http.StatusForbidden
	case errors.Is(err, voice.ErrJoinFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// StartRecording godoc
// @Summary Start recording a voice channel
// @Description Admit a new recording of a voice channel, and join the channel.
// @tags management
// @Accept json
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Param param body common.RecordingRequest true "Recording parameters"
// @Success 200 {object} StartRecordingResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 403 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 409 {object} RecordingConflictResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Failure 503 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/recording [post]
func (h RecordingManagementHandler) StartRecording(w http.ResponseWriter, r *http.Request) {
	var respCode int
	var response interface{}
	logTags := h.GetLogTagsForContext(r.Context())
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, response, nil); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to form response")
		}
	}()

	if r.Body == nil {
		msg := "no payload provided to start recording"
		log.WithFields(logTags).Error(msg)
		respCode = http.StatusBadRequest
		response = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	var params common.RecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "unable to parse recording parameters from request"
		log.WithError(err).WithFields(logTags).Error(msg)
		respCode = http.StatusBadRequest
		response = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Request body close error")
		}
	}()

	if err := h.validate.Struct(&params); err != nil {
		msg := "missing required values to start recording"
		log.WithError(err).WithFields(logTags).Error(msg)
		respCode = http.StatusBadRequest
		response = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	outcome, err := h.operator.StartRecording(r.Context(), params)
	if err != nil {
		respCode = admissionFailureCode(err)
		msg := "recording not started"
		log.
			WithError(err).
			WithFields(logTags).
			WithField("guild", params.GuildID).
			WithField("channel", params.ChannelID).
			Info(msg)
		errResp := h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())

		var existing common.AlreadyRecordingError
		if errors.As(err, &existing) {
			response = RecordingConflictResponse{
				RestAPIBaseResponse: errResp,
				ID:                  existing.Existing.ID,
				DownloadURL:         h.operator.Links(existing.Existing).Download,
			}
			return
		}
		response = errResp
		return
	}

	respCode = http.StatusOK
	response = StartRecordingResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Recording: RecordingStarted{
			RecordingKeys: outcome.Keys, Links: outcome.Links, Identity: outcome.Identity,
		},
	}
}

// StartRecordingHandler Wrapper around StartRecording
func (h RecordingManagementHandler) StartRecordingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StartRecording(w, r)
	}
}

// ====================================================================================
// Stop Recording

// StopRecordingsResponse response to a stop request
type StopRecordingsResponse struct {
	goutils.RestAPIBaseResponse
	// Stopped number of recordings stopped
	Stopped int `json:"stopped"`
}

// StopChannelRecording godoc
// @Summary Stop recording a voice channel
// @Description Stop the recording of one voice channel
// @tags management
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Param guildID path string true "Guild ID"
// @Param channelID path string true "Voice channel ID"
// @Success 200 {object} StopRecordingsResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/recording/guild/{guildID}/channel/{channelID} [delete]
func (h RecordingManagementHandler) StopChannelRecording(w http.ResponseWriter, r *http.Request) {
	var respCode int
	var response interface{}
	logTags := h.GetLogTagsForContext(r.Context())
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, response, nil); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	guildID, ok := vars["guildID"]
	channelID, ok2 := vars["channelID"]
	if !ok || !ok2 {
		msg := "guild or channel ID missing from request URL"
		log.WithFields(logTags).Error(msg)
		respCode = http.StatusBadRequest
		response = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	if err := h.operator.StopRecording(r.Context(), guildID, channelID); err != nil {
		respCode = http.StatusInternalServerError
		if errors.Is(err, common.ErrUnknownRecording) {
			respCode = http.StatusNotFound
		}
		msg := "unable to stop recording"
		log.
			WithError(err).
			WithFields(logTags).
			WithField("guild", guildID).
			WithField("channel", channelID).
			Error(msg)
		response = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	response = StopRecordingsResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Stopped: 1,
	}
}

// StopChannelRecordingHandler Wrapper around StopChannelRecording
func (h RecordingManagementHandler) StopChannelRecordingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StopChannelRecording(w, r)
	}
}

// ------------------------------------------------------------------------------------

// StopGuildRecordings godoc
// @Summary Stop recording in a guild
// @Description Stop every recording in a guild
// @tags management
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Param guildID path string true "Guild ID"
// @Success 200 {object} StopRecordingsResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/recording/guild/{guildID} [delete]
func (h RecordingManagementHandler) StopGuildRecordings(w http.ResponseWriter, r *http.Request) {
	var respCode int
	var response interface{}
	logTags := h.GetLogTagsForContext(r.Context())
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, response, nil); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	guildID, ok := vars["guildID"]
	if !ok {
		msg := "guild ID missing from request URL"
		log.WithFields(logTags).Error(msg)
		respCode = http.StatusBadRequest
		response = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	stopped, err := h.operator.StopGuild(r.Context(), guildID)
	if err != nil {
		msg := "unable to stop guild recordings"
		log.WithError(err).WithFields(logTags).WithField("guild", guildID).Error(msg)
		respCode = http.StatusInternalServerError
		response = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}
	if stopped == 0 {
		msg := fmt.Sprintf("not recording in guild '%s'", guildID)
		respCode = http.StatusNotFound
		response = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, common.ErrUnknownRecording.Error())
		return
	}

	respCode = http.StatusOK
	response = StopRecordingsResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Stopped: stopped,
	}
}

// StopGuildRecordingsHandler Wrapper around StopGuildRecordings
func (h RecordingManagementHandler) StopGuildRecordingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StopGuildRecordings(w, r)
	}
}

// ====================================================================================
// Queries

// RecordingListResponse response containing the tracked recordings
type RecordingListResponse struct {
	goutils.RestAPIBaseResponse
	// Recordings the tracked recordings, placeholders included
	Recordings []common.RecordingInfo `json:"recordings"`
}

// ListRecordings godoc
// @Summary List recordings
// @Description List the recordings currently tracked by this process
// @tags management
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Success 200 {object} RecordingListResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/recording [get]
func (h RecordingManagementHandler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	logTags := h.GetLogTagsForContext(r.Context())
	recordings := h.operator.List()
	if recordings == nil {
		recordings = []common.RecordingInfo{}
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, RecordingListResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Recordings: recordings,
	}, nil); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to form response")
	}
}

// ListRecordingsHandler Wrapper around ListRecordings
func (h RecordingManagementHandler) ListRecordingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListRecordings(w, r)
	}
}

// ------------------------------------------------------------------------------------

// OccupancyResponse response containing the current occupancy
type OccupancyResponse struct {
	goutils.RestAPIBaseResponse
	common.Occupancy
}

// GetOccupancy godoc
// @Summary Current occupancy
// @Description Users and channels currently being recorded
// @tags management
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Success 200 {object} OccupancyResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/occupancy [get]
func (h RecordingManagementHandler) GetOccupancy(w http.ResponseWriter, r *http.Request) {
	logTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(w, http.StatusOK, OccupancyResponse{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Occupancy: h.operator.Occupancy(),
	}, nil); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to form response")
	}
}

// GetOccupancyHandler Wrapper around GetOccupancy
func (h RecordingManagementHandler) GetOccupancyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetOccupancy(w, r)
	}
}

// ====================================================================================
// Restart

// RequestRestart godoc
// @Summary Graceful restart
// @Description Hand the in-flight recordings to a successor process, and exit once they close
// @tags management
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Success 202 {object} goutils.RestAPIBaseResponse "success"
// @Failure 409 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/restart [post]
func (h RecordingManagementHandler) RequestRestart(w http.ResponseWriter, r *http.Request) {
	var respCode int
	var response interface{}
	logTags := h.GetLogTagsForContext(r.Context())
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, response, nil); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to form response")
		}
	}()

	// The restart outlives the request
	if err := h.restarter.Restart(context.WithoutCancel(r.Context()), "operator"); err != nil {
		respCode = http.StatusInternalServerError
		if errors.Is(err, handoff.ErrRestartInProgress) {
			respCode = http.StatusConflict
		}
		msg := "unable to restart"
		log.WithError(err).WithFields(logTags).Error(msg)
		response = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}

	respCode = http.StatusAccepted
	response = h.GetStdRESTSuccessMsg(r.Context())
}

// RequestRestartHandler Wrapper around RequestRestart
func (h RecordingManagementHandler) RequestRestartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.RequestRestart(w, r)
	}
}

// ====================================================================================
// Utilities

// Alive godoc
// @Summary Recording management API liveness check
// @Description Will return success to indicate the REST API module is live
// @tags util,management
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Router /v1/alive [get]
func (h RecordingManagementHandler) Alive(w http.ResponseWriter, r *http.Request) {
	logTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h RecordingManagementHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// Ready godoc
// @Summary Recording management API readiness check
// @Description Will return success while the process admits new recordings
// @tags util,management
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 503 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/ready [get]
func (h RecordingManagementHandler) Ready(w http.ResponseWriter, r *http.Request) {
	var respCode int
	var response interface{}
	logTags := h.GetLogTagsForContext(r.Context())
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, response, nil); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to form response")
		}
	}()
	if h.operator.Draining() {
		respCode = http.StatusServiceUnavailable
		response = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusServiceUnavailable, "not ready", common.ErrDraining.Error(),
		)
	} else {
		respCode = http.StatusOK
		response = h.GetStdRESTSuccessMsg(r.Context())
	}
}

// ReadyHandler Wrapper around Ready
func (h RecordingManagementHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
