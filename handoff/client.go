package handoff

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/common/ipc"
	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
	"github.com/oklog/ulid/v2"
)

// SupervisorClient recorder side client of the supervisor handoff API
type SupervisorClient interface {
	/*
		RequestRestart hand the in-flight recordings to the supervisor, and have it start
		the successor recorder

			@param ctxt context.Context - execution context
			@param senderPID int - process ID of the exiting recorder
			@param snapshot common.HandoffSnapshot - in-flight recordings
	*/
	RequestRestart(ctxt context.Context, senderPID int, snapshot common.HandoffSnapshot) error

	/*
		FetchSnapshot fetch the recordings handed over by the previous recorder

			@param ctxt context.Context - execution context
			@returns the handed over recordings
	*/
	FetchSnapshot(ctxt context.Context) (common.HandoffSnapshot, error)
}

// restSupervisorClientImpl implements SupervisorClient
type restSupervisorClientImpl struct {
	goutils.Component
	baseURL         *url.URL
	requestIDHeader string
	client          *resty.Client
}

/*
NewSupervisorClient define a new supervisor handoff API client

	@param baseURL *url.URL - supervisor handoff API base URL
	@param requestIDHeader string - HTTP header to set for the request ID
	@param httpClient *resty.Client - HTTP client to use
	@returns new client
*/
func NewSupervisorClient(
	baseURL *url.URL, requestIDHeader string, httpClient *resty.Client,
) (SupervisorClient, error) {
	logTags := log.Fields{
		"module":    "handoff",
		"component": "supervisor-client",
		"instance":  baseURL.String(),
	}
	return &restSupervisorClientImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		baseURL:         baseURL,
		requestIDHeader: requestIDHeader,
		client:          httpClient,
	}, nil
}

func responseError(resp *resty.Response) error {
	if respError, ok := resp.Error().(*goutils.RestAPIBaseResponse); ok && respError.Error != nil {
		return fmt.Errorf("%s", respError.Error.Detail)
	}
	return fmt.Errorf("status code %d", resp.StatusCode())
}

func (c *restSupervisorClientImpl) RequestRestart(
	ctxt context.Context, senderPID int, snapshot common.HandoffSnapshot,
) error {
	logTags := c.GetLogTagsForContext(ctxt)

	reqID := ulid.Make().String()

	requestURL := c.baseURL.JoinPath("/v1/handoff/restart")
	resp, err := c.client.R().
		SetContext(ctxt).
		SetHeader(c.requestIDHeader, reqID).
		SetBody(ipc.NewHandoffRestartRequest(senderPID, snapshot)).
		SetResult(&goutils.RestAPIBaseResponse{}).
		SetError(goutils.RestAPIBaseResponse{}).
		Post(requestURL.String())

	if err != nil {
		log.
			WithError(err).
			WithFields(logTags).
			Error("Restart handoff request failed on call")
		return err
	}

	if !resp.IsSuccess() {
		err := responseError(resp)
		log.
			WithError(err).
			WithFields(logTags).
			WithField("outbound-request-id", reqID).
			Error("Restart handoff refused")
		return err
	}

	log.
		WithFields(logTags).
		WithField("outbound-request-id", reqID).
		WithField("recordings", snapshot.Entries()).
		Info("Handed over in-flight recordings")
	return nil
}

func (c *restSupervisorClientImpl) FetchSnapshot(
	ctxt context.Context,
) (common.HandoffSnapshot, error) {
	logTags := c.GetLogTagsForContext(ctxt)

	reqID := ulid.Make().String()

	requestURL := c.baseURL.JoinPath("/v1/handoff/snapshot")
	resp, err := c.client.R().
		SetContext(ctxt).
		SetHeader(c.requestIDHeader, reqID).
		SetResult(&ipc.HandoffSnapshotResponse{}).
		SetError(goutils.RestAPIBaseResponse{}).
		Get(requestURL.String())

	if err != nil {
		log.
			WithError(err).
			WithFields(logTags).
			Error("Handoff snapshot request failed on call")
		return nil, err
	}

	if !resp.IsSuccess() {
		err := responseError(resp)
		log.
			WithError(err).
			WithFields(logTags).
			WithField("outbound-request-id", reqID).
			Error("Handoff snapshot fetch failed")
		return nil, err
	}

	snapshotResp, ok := resp.Result().(*ipc.HandoffSnapshotResponse)
	if !ok {
		err := fmt.Errorf("failed to parse handoff snapshot response")
		log.
			WithError(err).
			WithFields(logTags).
			WithField("outbound-request-id", reqID).
			WithField("response", string(resp.Body())).
			Error("Handoff snapshot fetch failed")
		return nil, err
	}

	if snapshotResp.Snapshot == nil {
		return common.HandoffSnapshot{}, nil
	}
	return snapshotResp.Snapshot, nil
}
