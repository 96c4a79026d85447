package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"reflect"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/common/ipc"
	"github.com/alwitt/voxmux/handoff"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// HandoffReceiver supervisor side of a graceful restart
type HandoffReceiver interface {
	Handoff(ctxt context.Context, senderPID int, snapshot common.HandoffSnapshot) error

	TakeSnapshot(ctxt context.Context) common.HandoffSnapshot
}

// SupervisorHandler REST API interface to the supervisor, called by the recorders
type SupervisorHandler struct {
	goutils.RestAPIHandler
	validate *validator.Validate
	receiver HandoffReceiver
}

/*
NewSupervisorHandler define a new supervisor handoff REST API handler

	@param receiver HandoffReceiver - the supervisor
	@param logConfig common.HTTPRequestLogging - handler log settings
	@returns new SupervisorHandler
*/
func NewSupervisorHandler(
	receiver HandoffReceiver, logConfig common.HTTPRequestLogging,
) (SupervisorHandler, error) {
	return SupervisorHandler{
		RestAPIHandler: newRestAPIHandler(
			log.Fields{"module": "api", "component": "supervisor-handler"}, logConfig,
		),
		validate: validator.New(),
		receiver: receiver,
	}, nil
}

// HandoffRestart godoc
// @Summary Restart the recorder with handoff
// @Description The exiting recorder hands over its in-flight recordings, and the
// @Description supervisor starts the successor.
// @tags handoff
// @Accept json
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Param param body ipc.HandoffRestartRequest true "Handoff parameters"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 409 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/handoff/restart [post]
func (h SupervisorHandler) HandoffRestart(w http.ResponseWriter, r *http.Request) {
	var respCode int
	var response interface{}
	logTags := h.GetLogTagsForContext(r.Context())
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, response, nil); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to form response")
		}
	}()

	if r.Body == nil {
		msg := "no payload provided for handoff"
		log.WithFields(logTags).Error(msg)
		respCode = http.StatusBadRequest
		response = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Request body close error")
		}
	}()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		msg := "unable to read handoff request"
		log.WithError(err).WithFields(logTags).Error(msg)
		respCode = http.StatusBadRequest
		response = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	parsed, err := ipc.ParseRawMessage(payload)
	if err != nil {
		msg := "unable to parse handoff request"
		log.WithError(err).WithFields(logTags).Error(msg)
		respCode = http.StatusBadRequest
		response = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	request, ok := parsed.(ipc.HandoffRestartRequest)
	if !ok {
		msg := "payload is not a handoff request"
		log.WithFields(logTags).Errorf("Received %s", reflect.TypeOf(parsed))
		respCode = http.StatusBadRequest
		response = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	if err := h.validate.Struct(&request); err != nil {
		msg := "handoff request is not valid"
		log.WithError(err).WithFields(logTags).Error(msg)
		respCode = http.StatusBadRequest
		response = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.receiver.Handoff(r.Context(), request.SenderPID, request.Snapshot); err != nil {
		respCode = http.StatusInternalServerError
		if errors.Is(err, handoff.ErrHandoffRefused) {
			respCode = http.StatusConflict
		}
		msg := "handoff failed"
		log.WithError(err).WithFields(logTags).WithField("sender", request.SenderPID).Error(msg)
		response = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	response = h.GetStdRESTSuccessMsg(r.Context())
}

// HandoffRestartHandler Wrapper around HandoffRestart
func (h SupervisorHandler) HandoffRestartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.HandoffRestart(w, r)
	}
}

// HandoffSnapshot godoc
// @Summary Fetch the handed over recordings
// @Description A starting recorder collects the in-flight recordings of its predecessor.
// @Description The snapshot is only handed out once.
// @tags handoff
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Success 200 {object} ipc.HandoffSnapshotResponse "success"
// @Router /v1/handoff/snapshot [get]
func (h SupervisorHandler) HandoffSnapshot(w http.ResponseWriter, r *http.Request) {
	logTags := h.GetLogTagsForContext(r.Context())
	snapshot := h.receiver.TakeSnapshot(r.Context())
	log.WithFields(logTags).WithField("recordings", snapshot.Entries()).Info("Handing out snapshot")
	if err := h.WriteRESTResponse(
		w, http.StatusOK, ipc.NewHandoffSnapshotResponse(snapshot), nil,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to form response")
	}
}

// HandoffSnapshotHandler Wrapper around HandoffSnapshot
func (h SupervisorHandler) HandoffSnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.HandoffSnapshot(w, r)
	}
}

// Alive godoc
// @Summary Supervisor API liveness check
// @Description Will return success to indicate the REST API module is live
// @tags util,handoff
// @Produce json
// @Param X-Request-ID header string false "Request ID"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Router /v1/alive [get]
func (h SupervisorHandler) Alive(w http.ResponseWriter, r *http.Request) {
	logTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h SupervisorHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}
