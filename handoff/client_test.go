package handoff_test

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/common/ipc"
	"github.com/alwitt/voxmux/handoff"
	"github.com/go-resty/resty/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func TestSupervisorClientRequestRestart(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	testClient := resty.New()
	httpmock.ActivateNonDefault(testClient.GetClient())
	defer httpmock.DeactivateAndReset()

	testBaseURL, err := url.Parse("http://ut.testing.dev/supervisor")
	assert.Nil(err)

	uut, err := handoff.NewSupervisorClient(testBaseURL, "request-id", testClient)
	assert.Nil(err)

	testSnapshot := common.HandoffSnapshot{
		"g1": {"c1": common.HandoffEntry{ID: 11, AccessKey: 22, Size: 3}},
	}

	// Case 0: accepted
	{
		httpmock.Reset()
		httpmock.RegisterResponder(
			"POST",
			testBaseURL.JoinPath("/v1/handoff/restart").String(),
			func(r *http.Request) (*http.Response, error) {
				assert.NotEmpty(r.Header.Get("request-id"))
				payload, err := io.ReadAll(r.Body)
				assert.Nil(err)
				parsed, err := ipc.ParseRawMessage(payload)
				assert.Nil(err)
				request, ok := parsed.(ipc.HandoffRestartRequest)
				assert.True(ok)
				assert.Equal(4321, request.SenderPID)
				assert.Equal(testSnapshot, request.Snapshot)
				return httpmock.NewJsonResponse(
					http.StatusOK, goutils.RestAPIBaseResponse{Success: true},
				)
			},
		)

		lclCtxt, lclCancel := context.WithTimeout(utCtxt, time.Millisecond*100)
		assert.Nil(uut.RequestRestart(lclCtxt, 4321, testSnapshot))
		lclCancel()
	}

	// Case 1: refused
	{
		httpmock.Reset()
		httpmock.RegisterResponder(
			"POST",
			testBaseURL.JoinPath("/v1/handoff/restart").String(),
			func(r *http.Request) (*http.Response, error) {
				return httpmock.NewJsonResponse(http.StatusBadRequest, goutils.RestAPIBaseResponse{
					Success: false,
					Error: &goutils.ErrorDetail{
						Code: http.StatusBadRequest, Msg: "refused", Detail: "not the current recorder",
					},
				})
			},
		)

		lclCtxt, lclCancel := context.WithTimeout(utCtxt, time.Millisecond*100)
		err := uut.RequestRestart(lclCtxt, 4321, testSnapshot)
		assert.NotNil(err)
		assert.Contains(err.Error(), "not the current recorder")
		lclCancel()
	}
}

func TestSupervisorClientFetchSnapshot(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	testClient := resty.New()
	httpmock.ActivateNonDefault(testClient.GetClient())
	defer httpmock.DeactivateAndReset()

	testBaseURL, err := url.Parse("http://ut.testing.dev/supervisor")
	assert.Nil(err)

	uut, err := handoff.NewSupervisorClient(testBaseURL, "request-id", testClient)
	assert.Nil(err)

	// Case 0: snapshot handed over
	{
		testSnapshot := common.HandoffSnapshot{
			"g1": {
				"c1": common.HandoffEntry{ID: 11, AccessKey: 22, Size: 3},
				"c2": common.HandoffEntry{ID: 12, AccessKey: 23},
			},
		}
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			testBaseURL.JoinPath("/v1/handoff/snapshot").String(),
			func(r *http.Request) (*http.Response, error) {
				assert.NotEmpty(r.Header.Get("request-id"))
				return httpmock.NewJsonResponse(
					http.StatusOK, ipc.NewHandoffSnapshotResponse(testSnapshot),
				)
			},
		)

		lclCtxt, lclCancel := context.WithTimeout(utCtxt, time.Millisecond*100)
		snapshot, err := uut.FetchSnapshot(lclCtxt)
		assert.Nil(err)
		assert.Equal(testSnapshot, snapshot)
		lclCancel()
	}

	// Case 1: nothing to hand over
	{
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			testBaseURL.JoinPath("/v1/handoff/snapshot").String(),
			func(r *http.Request) (*http.Response, error) {
				return httpmock.NewJsonResponse(http.StatusOK, ipc.NewHandoffSnapshotResponse(nil))
			},
		)

		lclCtxt, lclCancel := context.WithTimeout(utCtxt, time.Millisecond*100)
		snapshot, err := uut.FetchSnapshot(lclCtxt)
		assert.Nil(err)
		assert.NotNil(snapshot)
		assert.Equal(0, snapshot.Entries())
		lclCancel()
	}

	// Case 2: supervisor error
	{
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			testBaseURL.JoinPath("/v1/handoff/snapshot").String(),
			httpmock.NewStringResponder(http.StatusInternalServerError, ""),
		)

		lclCtxt, lclCancel := context.WithTimeout(utCtxt, time.Millisecond*100)
		_, err := uut.FetchSnapshot(lclCtxt)
		assert.NotNil(err)
		lclCancel()
	}
}
