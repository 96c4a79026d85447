package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/alwitt/voxmux/api"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/mocks"
	"github.com/alwitt/voxmux/storage"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestDownloadRecording(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	testDir := fmt.Sprintf("/tmp/ut-%s", uuid.NewString())
	defer func() {
		_ = os.RemoveAll(testDir)
	}()

	store, err := storage.NewStore(testDir)
	assert.Nil(err)
	mockPurger := mocks.NewRecordingPurger(t)

	uut, err := api.NewDownloadHandler(store, mockPurger, common.HTTPRequestLogging{
		RequestIDHeader: "X-Request-ID", DoNotLogHeaders: []string{},
	})
	assert.Nil(err)

	alloc, err := store.Allocate(context.Background(), nil)
	assert.Nil(err)
	_, err = alloc.Header1.Write([]byte("OggS-bos"))
	assert.Nil(err)
	_, err = alloc.Header2.Write([]byte("OggS-tags"))
	assert.Nil(err)
	_, err = alloc.Data.Write([]byte("OggS-data"))
	assert.Nil(err)
	assert.Nil(alloc.Close())
	keys := alloc.Keys

	download := func(method, target string) *httptest.ResponseRecorder {
		req, err := http.NewRequest(method, target, nil)
		assert.Nil(err)

		router := mux.NewRouter()
		respRecorder := httptest.NewRecorder()
		router.HandleFunc(
			"/v1/download/{recordingID}", uut.LoggingMiddleware(uut.DownloadRecordingHandler()),
		).Methods("GET")
		router.HandleFunc(
			"/v1/download/{recordingID}", uut.LoggingMiddleware(uut.DeleteRecordingHandler()),
		).Methods("DELETE")
		router.ServeHTTP(respRecorder, req)
		return respRecorder
	}

	// Case 0: bad recording ID or missing key
	assert.Equal(http.StatusBadRequest, download("GET", "/v1/download/abc?key=1").Code)
	assert.Equal(
		http.StatusBadRequest, download("GET", fmt.Sprintf("/v1/download/%d", keys.ID)).Code,
	)

	// Case 1: wrong access key
	assert.Equal(
		http.StatusForbidden,
		download("GET", fmt.Sprintf("/v1/download/%d?key=%d", keys.ID, keys.AccessKey+1)).Code,
	)

	// Case 2: unknown recording
	assert.Equal(
		http.StatusNotFound,
		download("GET", fmt.Sprintf("/v1/download/%d?key=%d", keys.ID+1, keys.AccessKey)).Code,
	)

	// Case 3: download
	{
		respRecorder := download(
			"GET", fmt.Sprintf("/v1/download/%d?key=%d", keys.ID, keys.AccessKey),
		)
		assert.Equal(http.StatusOK, respRecorder.Code)
		assert.Equal("audio/ogg", respRecorder.Header().Get("Content-Type"))
		assert.Equal("26", respRecorder.Header().Get("Content-Length"))
		assert.Equal("OggS-bosOggS-tagsOggS-data", respRecorder.Body.String())
	}

	// Case 4: delete with the wrong delete key
	assert.Equal(
		http.StatusForbidden,
		download("GET", fmt.Sprintf(
			"/v1/download/%d?key=%d&delete=%d", keys.ID, keys.AccessKey, keys.DeleteKey+1,
		)).Code,
	)

	// Case 5: delete without the delete key
	assert.Equal(
		http.StatusBadRequest,
		download("DELETE", fmt.Sprintf("/v1/download/%d?key=%d", keys.ID, keys.AccessKey)).Code,
	)

	// Case 6: delete a live recording
	mockPurger.On(
		"Purge", mock.AnythingOfType("*context.valueCtx"), keys.ID,
	).Return(storage.ErrRecordingLive).Once()
	assert.Equal(
		http.StatusConflict,
		download("DELETE", fmt.Sprintf(
			"/v1/download/%d?key=%d&delete=%d", keys.ID, keys.AccessKey, keys.DeleteKey,
		)).Code,
	)

	// Case 7: delete by the link handed to the requester
	mockPurger.On(
		"Purge", mock.AnythingOfType("*context.valueCtx"), keys.ID,
	).Return(nil).Once()
	assert.Equal(
		http.StatusOK,
		download("GET", fmt.Sprintf(
			"/v1/download/%d?delete=%d&key=%d", keys.ID, keys.DeleteKey, keys.AccessKey,
		)).Code,
	)
}
