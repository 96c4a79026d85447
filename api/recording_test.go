package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alwitt/voxmux/api"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/handoff"
	"github.com/alwitt/voxmux/mocks"
	"github.com/alwitt/voxmux/recorder"
	"github.com/alwitt/voxmux/voice"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestManagementStartRecording(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	mockOperator := mocks.NewRecordingOperator(t)
	mockRestarter := mocks.NewRestarter(t)

	uut, err := api.NewRecordingManagementHandler(
		mockOperator, mockRestarter, common.HTTPRequestLogging{
			RequestIDHeader: "X-Request-ID", DoNotLogHeaders: []string{},
		},
	)
	assert.Nil(err)

	startRecording := func(payload []byte) *httptest.ResponseRecorder {
		var req *http.Request
		if payload == nil {
			req, err = http.NewRequest("POST", "/v1/recording", nil)
		} else {
			req, err = http.NewRequest("POST", "/v1/recording", bytes.NewBuffer(payload))
		}
		assert.Nil(err)

		router := mux.NewRouter()
		respRecorder := httptest.NewRecorder()
		router.HandleFunc(
			"/v1/recording", uut.LoggingMiddleware(uut.StartRecordingHandler()),
		)
		router.ServeHTTP(respRecorder, req)
		return respRecorder
	}

	// Case 0: no parameters given
	assert.Equal(http.StatusBadRequest, startRecording(nil).Code)

	// Case 1: non-json payload
	assert.Equal(http.StatusBadRequest, startRecording([]byte(uuid.NewString())).Code)

	// Case 2: missing required values
	{
		payload, err := json.Marshal(&common.RecordingRequest{GuildID: uuid.NewString()})
		assert.Nil(err)
		assert.Equal(http.StatusBadRequest, startRecording(payload).Code)
	}

	request := common.RecordingRequest{
		GuildID:         uuid.NewString(),
		ChannelID:       uuid.NewString(),
		RequesterID:     uuid.NewString(),
		NoticeChannelID: uuid.NewString(),
	}
	payload, err := json.Marshal(&request)
	assert.Nil(err)

	// Case 3: recording admitted
	{
		outcome := recorder.StartOutcome{
			Keys: common.RecordingKeys{ID: 12, AccessKey: 34, DeleteKey: 56},
			Links: recorder.Links{
				Download: "http://dl/v1/download/12?key=34",
				Delete:   "http://dl/v1/download/12?delete=56&key=34",
			},
			Identity: 1,
		}
		mockOperator.On(
			"StartRecording", mock.AnythingOfType("*context.valueCtx"), request,
		).Return(outcome, nil).Once()

		respRecorder := startRecording(payload)
		assert.Equal(http.StatusOK, respRecorder.Code)

		var resp api.StartRecordingResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.Equal(int64(12), resp.Recording.ID)
		assert.Equal(int64(34), resp.Recording.AccessKey)
		assert.Equal(int64(56), resp.Recording.DeleteKey)
		assert.Equal(outcome.Links.Download, resp.Recording.Download)
		assert.Equal(1, resp.Recording.Identity)
	}

	// Case 4: channel already recording
	{
		existing := common.RecordingKeys{ID: 77, AccessKey: 88}
		mockOperator.On(
			"StartRecording", mock.AnythingOfType("*context.valueCtx"), request,
		).Return(recorder.StartOutcome{}, common.AlreadyRecordingError{Existing: existing}).Once()
		mockOperator.On("Links", existing).Return(recorder.Links{
			Download: "http://dl/v1/download/77?key=88",
		}).Once()

		respRecorder := startRecording(payload)
		assert.Equal(http.StatusConflict, respRecorder.Code)

		var resp api.RecordingConflictResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.Equal(int64(77), resp.ID)
		assert.Equal("http://dl/v1/download/77?key=88", resp.DownloadURL)
		assert.False(resp.Success)
	}

	// Case 5: refusal causes
	type refusal struct {
		err  error
		code int
	}
	for _, oneCase := range []refusal{
		{err: common.ErrNoCapacity, code: http.StatusServiceUnavailable},
		{err: common.ErrDraining, code: http.StatusServiceUnavailable},
		{err: common.ErrGuildNotVisible, code: http.StatusNotFound},
		{err: common.ErrChannelNotVisible, code: http.StatusNotFound},
		{err: common.ErrNoPermission, code: http.StatusForbidden},
		{err: fmt.Errorf("%w: timeout", voice.ErrJoinFailed), code: http.StatusBadGateway},
		{err: fmt.Errorf("dummy error"), code: http.StatusInternalServerError},
	} {
		mockOperator.On(
			"StartRecording", mock.AnythingOfType("*context.valueCtx"), request,
		).Return(recorder.StartOutcome{}, oneCase.err).Once()

		assert.Equal(oneCase.code, startRecording(payload).Code, oneCase.err.Error())
	}
}

func TestManagementStopRecording(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	mockOperator := mocks.NewRecordingOperator(t)
	mockRestarter := mocks.NewRestarter(t)

	uut, err := api.NewRecordingManagementHandler(
		mockOperator, mockRestarter, common.HTTPRequestLogging{
			RequestIDHeader: "X-Request-ID", DoNotLogHeaders: []string{},
		},
	)
	assert.Nil(err)

	stopChannel := func(guildID, channelID string) *httptest.ResponseRecorder {
		req, err := http.NewRequest(
			"DELETE", fmt.Sprintf("/v1/recording/guild/%s/channel/%s", guildID, channelID), nil,
		)
		assert.Nil(err)

		router := mux.NewRouter()
		respRecorder := httptest.NewRecorder()
		router.HandleFunc(
			"/v1/recording/guild/{guildID}/channel/{channelID}",
			uut.LoggingMiddleware(uut.StopChannelRecordingHandler()),
		)
		router.ServeHTTP(respRecorder, req)
		return respRecorder
	}

	stopGuild := func(guildID string) *httptest.ResponseRecorder {
		req, err := http.NewRequest("DELETE", fmt.Sprintf("/v1/recording/guild/%s", guildID), nil)
		assert.Nil(err)

		router := mux.NewRouter()
		respRecorder := httptest.NewRecorder()
		router.HandleFunc(
			"/v1/recording/guild/{guildID}",
			uut.LoggingMiddleware(uut.StopGuildRecordingsHandler()),
		)
		router.ServeHTTP(respRecorder, req)
		return respRecorder
	}

	guildID := uuid.NewString()
	channelID := uuid.NewString()

	// Case 0: stop a recording
	{
		mockOperator.On(
			"StopRecording", mock.AnythingOfType("*context.valueCtx"), guildID, channelID,
		).Return(nil).Once()
		respRecorder := stopChannel(guildID, channelID)
		assert.Equal(http.StatusOK, respRecorder.Code)

		var resp api.StopRecordingsResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.Equal(1, resp.Stopped)
	}

	// Case 1: nothing to stop
	{
		mockOperator.On(
			"StopRecording", mock.AnythingOfType("*context.valueCtx"), guildID, channelID,
		).Return(common.ErrUnknownRecording).Once()
		assert.Equal(http.StatusNotFound, stopChannel(guildID, channelID).Code)
	}

	// Case 2: stop failure
	{
		mockOperator.On(
			"StopRecording", mock.AnythingOfType("*context.valueCtx"), guildID, channelID,
		).Return(fmt.Errorf("dummy error")).Once()
		assert.Equal(http.StatusInternalServerError, stopChannel(guildID, channelID).Code)
	}

	// Case 3: stop a guild
	{
		mockOperator.On(
			"StopGuild", mock.AnythingOfType("*context.valueCtx"), guildID,
		).Return(2, nil).Once()
		respRecorder := stopGuild(guildID)
		assert.Equal(http.StatusOK, respRecorder.Code)

		var resp api.StopRecordingsResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.Equal(2, resp.Stopped)
	}

	// Case 4: nothing recording in the guild
	{
		mockOperator.On(
			"StopGuild", mock.AnythingOfType("*context.valueCtx"), guildID,
		).Return(0, nil).Once()
		assert.Equal(http.StatusNotFound, stopGuild(guildID).Code)
	}
}

func TestManagementQueries(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	mockOperator := mocks.NewRecordingOperator(t)
	mockRestarter := mocks.NewRestarter(t)

	uut, err := api.NewRecordingManagementHandler(
		mockOperator, mockRestarter, common.HTTPRequestLogging{
			RequestIDHeader: "X-Request-ID", DoNotLogHeaders: []string{},
		},
	)
	assert.Nil(err)

	get := func(path string, handler http.HandlerFunc) *httptest.ResponseRecorder {
		req, err := http.NewRequest("GET", path, nil)
		assert.Nil(err)

		router := mux.NewRouter()
		respRecorder := httptest.NewRecorder()
		router.HandleFunc(path, uut.LoggingMiddleware(handler))
		router.ServeHTTP(respRecorder, req)
		return respRecorder
	}

	// Case 0: list recordings
	{
		recordings := []common.RecordingInfo{
			{
				RecordingKeys: common.RecordingKeys{ID: 1, AccessKey: 2},
				GuildID:       uuid.NewString(),
				ChannelID:     uuid.NewString(),
				State:         "recording",
			},
			{
				RecordingKeys: common.RecordingKeys{ID: 3, AccessKey: 4},
				GuildID:       uuid.NewString(),
				ChannelID:     uuid.NewString(),
				Placeholder:   true,
			},
		}
		mockOperator.On("List").Return(recordings).Once()

		respRecorder := get("/v1/recording", uut.ListRecordingsHandler())
		assert.Equal(http.StatusOK, respRecorder.Code)

		var resp api.RecordingListResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.Len(resp.Recordings, 2)
		assert.Equal(recordings[0].GuildID, resp.Recordings[0].GuildID)
		assert.True(resp.Recordings[1].Placeholder)
	}

	// Case 1: no recordings
	{
		mockOperator.On("List").Return(nil).Once()

		respRecorder := get("/v1/recording", uut.ListRecordingsHandler())
		assert.Equal(http.StatusOK, respRecorder.Code)

		var resp api.RecordingListResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.NotNil(resp.Recordings)
		assert.Len(resp.Recordings, 0)
	}

	// Case 2: occupancy
	{
		mockOperator.On("Occupancy").Return(common.Occupancy{Users: 5, Channels: 2}).Once()

		respRecorder := get("/v1/occupancy", uut.GetOccupancyHandler())
		assert.Equal(http.StatusOK, respRecorder.Code)

		var resp api.OccupancyResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
		assert.Equal(5, resp.Users)
		assert.Equal(2, resp.Channels)
	}

	// Case 3: readiness follows draining
	{
		mockOperator.On("Draining").Return(false).Once()
		assert.Equal(http.StatusOK, get("/v1/ready", uut.ReadyHandler()).Code)

		mockOperator.On("Draining").Return(true).Once()
		assert.Equal(http.StatusServiceUnavailable, get("/v1/ready", uut.ReadyHandler()).Code)

		assert.Equal(http.StatusOK, get("/v1/alive", uut.AliveHandler()).Code)
	}
}

func TestManagementRestart(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	mockOperator := mocks.NewRecordingOperator(t)
	mockRestarter := mocks.NewRestarter(t)

	uut, err := api.NewRecordingManagementHandler(
		mockOperator, mockRestarter, common.HTTPRequestLogging{
			RequestIDHeader: "X-Request-ID", DoNotLogHeaders: []string{},
		},
	)
	assert.Nil(err)

	restart := func() *httptest.ResponseRecorder {
		req, err := http.NewRequest("POST", "/v1/restart", nil)
		assert.Nil(err)

		router := mux.NewRouter()
		respRecorder := httptest.NewRecorder()
		router.HandleFunc("/v1/restart", uut.LoggingMiddleware(uut.RequestRestartHandler()))
		router.ServeHTTP(respRecorder, req)
		return respRecorder
	}

	// Case 0: restart started
	mockRestarter.On("Restart", mock.Anything, "operator").Return(nil).Once()
	assert.Equal(http.StatusAccepted, restart().Code)

	// Case 1: restart already in progress
	mockRestarter.On("Restart", mock.Anything, "operator").Return(handoff.ErrRestartInProgress).Once()
	assert.Equal(http.StatusConflict, restart().Code)

	// Case 2: restart failure
	mockRestarter.On("Restart", mock.Anything, "operator").Return(fmt.Errorf("dummy error")).Once()
	assert.Equal(http.StatusInternalServerError, restart().Code)
}
