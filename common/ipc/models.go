package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alwitt/voxmux/common"
)

type baseMessageTypeDT string

const (
	ipcMessageTypeRequest   baseMessageTypeDT = "request"
	ipcMessageTypeResponse  baseMessageTypeDT = "response"
	ipcMessageTypeBroadcast baseMessageTypeDT = "broadcast"
)

// BaseMessage base IPC message payload. All other messages must be built upon this
// structure.
type BaseMessage struct {
	// Type the message type
	Type baseMessageTypeDT `json:"type" validate:"required,oneof=request response broadcast"`
}

/*
ParseRawMessage parse raw IPC message

	@param rawMsg []byte - original message
	@returns parsed message
*/
func ParseRawMessage(rawMsg []byte) (interface{}, error) {
	var asBaseMsg BaseMessage
	if err := json.Unmarshal(rawMsg, &asBaseMsg); err != nil {
		return nil, err
	}
	// Based on the type, decide how to parse
	switch asBaseMsg.Type {
	case ipcMessageTypeRequest:
		return parseRawRequestMessage(rawMsg)
	case ipcMessageTypeResponse:
		return parseRawResponseMessage(rawMsg)
	case ipcMessageTypeBroadcast:
		return parseRawBroadcastMessage(rawMsg)
	default:
		return nil, fmt.Errorf("unknown IPC message type '%s'", asBaseMsg.Type)
	}
}

// =====================================================================================
// IPC Request Messages

type baseRequestTypeDT string

const (
	ipcRequestTypeHandoffRestart baseRequestTypeDT = "handoff_restart"
)

// BaseRequest base request IPC message payload. All other requests must be built
// upon this structure.
type BaseRequest struct {
	BaseMessage
	// RequestType the request type
	RequestType baseRequestTypeDT `json:"request_type" validate:"required,oneof=handoff_restart"`
}

// HandoffRestartRequest exiting recorder asks the supervisor to start its successor
type HandoffRestartRequest struct {
	BaseRequest
	// SenderPID process ID of the exiting recorder
	SenderPID int `json:"sender_pid" validate:"required"`
	// Snapshot in-flight recordings of the exiting recorder
	Snapshot common.HandoffSnapshot `json:"snapshot"`
}

/*
NewHandoffRestartRequest define new HandoffRestartRequest message

	@param senderPID int - process ID of the exiting recorder
	@param snapshot common.HandoffSnapshot - in-flight recordings
	@returns defined structure
*/
func NewHandoffRestartRequest(senderPID int, snapshot common.HandoffSnapshot) HandoffRestartRequest {
	return HandoffRestartRequest{
		BaseRequest: BaseRequest{
			BaseMessage: BaseMessage{Type: ipcMessageTypeRequest},
			RequestType: ipcRequestTypeHandoffRestart,
		},
		SenderPID: senderPID,
		Snapshot:  snapshot,
	}
}

/*
parseRawRequestMessage parse raw IPC request message

	@param rawMsg []byte - original message
	@returns parsed message
*/
func parseRawRequestMessage(rawMsg []byte) (interface{}, error) {
	var asRequestMsg BaseRequest
	if err := json.Unmarshal(rawMsg, &asRequestMsg); err != nil {
		return nil, err
	}
	// Based on the type, parse
	switch asRequestMsg.RequestType {
	// Restart with handoff
	case ipcRequestTypeHandoffRestart:
		var request HandoffRestartRequest
		if err := json.Unmarshal(rawMsg, &request); err != nil {
			return nil, err
		}
		return request, nil

	default:
		return nil, fmt.Errorf("unknown IPC request message type '%s'", asRequestMsg.RequestType)
	}
}

// =====================================================================================
// IPC Response Messages

type baseResponseTypeDT string

const (
	ipcResponseTypeHandoffSnapshot baseResponseTypeDT = "handoff_snapshot_resp"
)

// BaseResponse base response IPC message payload. All other responses must be built
// upon this structure.
type BaseResponse struct {
	BaseMessage
	ResponseType baseResponseTypeDT `json:"response_type" validate:"required,oneof=handoff_snapshot_resp"`
}

// HandoffSnapshotResponse snapshot handed from the supervisor to a new recorder
type HandoffSnapshotResponse struct {
	BaseResponse
	// Snapshot in-flight recordings of the previous recorder. Empty when there was none.
	Snapshot common.HandoffSnapshot `json:"snapshot"`
}

/*
NewHandoffSnapshotResponse define new HandoffSnapshotResponse message

	@param snapshot common.HandoffSnapshot - in-flight recordings
	@returns defined structure
*/
func NewHandoffSnapshotResponse(snapshot common.HandoffSnapshot) HandoffSnapshotResponse {
	if snapshot == nil {
		snapshot = common.HandoffSnapshot{}
	}
	return HandoffSnapshotResponse{
		BaseResponse: BaseResponse{
			BaseMessage:  BaseMessage{Type: ipcMessageTypeResponse},
			ResponseType: ipcResponseTypeHandoffSnapshot,
		},
		Snapshot: snapshot,
	}
}

/*
parseRawResponseMessage parse raw IPC response message

	@param rawMsg []byte - original message
	@returns parsed message
*/
func parseRawResponseMessage(rawMsg []byte) (interface{}, error) {
	var asResponseMsg BaseResponse
	if err := json.Unmarshal(rawMsg, &asResponseMsg); err != nil {
		return nil, err
	}
	// Based on the type, parse
	switch asResponseMsg.ResponseType {
	// Handoff snapshot
	case ipcResponseTypeHandoffSnapshot:
		var response HandoffSnapshotResponse
		if err := json.Unmarshal(rawMsg, &response); err != nil {
			return nil, err
		}
		return response, nil

	default:
		return nil, fmt.Errorf("unknown IPC response message type '%s'", asResponseMsg.ResponseType)
	}
}

// =====================================================================================
// IPC Broadcast Messages

type baseBroadcastTypeDT string

const (
	ipcBroadcastRecordingStarted baseBroadcastTypeDT = "recording_started"
	ipcBroadcastRecordingStopped baseBroadcastTypeDT = "recording_stopped"
	ipcBroadcastOccupancy        baseBroadcastTypeDT = "occupancy_report"
)

// BaseBroadcast base broadcast IPC message payload. All other broadcasts must be built
// upon this structure
type BaseBroadcast struct {
	BaseMessage
	// BroadcastType the broadcast type
	BroadcastType baseBroadcastTypeDT `json:"broadcast_type" validate:"required,oneof=recording_started recording_stopped occupancy_report"`
	// Timestamp when the event happened
	Timestamp time.Time `json:"timestamp"`
}

// RecordingStartedEvent broadcast a recording became active
type RecordingStartedEvent struct {
	BaseBroadcast
	// ID recording ID
	ID int64 `json:"id"`
	// GuildID the guild hosting the channel
	GuildID string `json:"guild"`
	// ChannelID the recorded voice channel
	ChannelID string `json:"channel"`
}

/*
NewRecordingStartedEvent define new RecordingStartedEvent message

	@param id int64 - recording ID
	@param guildID string - guild ID
	@param channelID string - channel ID
	@param timestamp time.Time - event time
	@returns defined structure
*/
func NewRecordingStartedEvent(
	id int64, guildID, channelID string, timestamp time.Time,
) RecordingStartedEvent {
	return RecordingStartedEvent{
		BaseBroadcast: BaseBroadcast{
			BaseMessage:   BaseMessage{Type: ipcMessageTypeBroadcast},
			BroadcastType: ipcBroadcastRecordingStarted,
			Timestamp:     timestamp,
		},
		ID:        id,
		GuildID:   guildID,
		ChannelID: channelID,
	}
}

// RecordingStoppedEvent broadcast a recording closed
type RecordingStoppedEvent struct {
	BaseBroadcast
	// ID recording ID
	ID int64 `json:"id"`
	// GuildID the guild hosting the channel
	GuildID string `json:"guild"`
	// ChannelID the recorded voice channel
	ChannelID string `json:"channel"`
	// Reason why the recording stopped
	Reason common.StopReason `json:"reason"`
}

/*
NewRecordingStoppedEvent define new RecordingStoppedEvent message

	@param id int64 - recording ID
	@param guildID string - guild ID
	@param channelID string - channel ID
	@param reason common.StopReason - why the recording stopped
	@param timestamp time.Time - event time
	@returns defined structure
*/
func NewRecordingStoppedEvent(
	id int64, guildID, channelID string, reason common.StopReason, timestamp time.Time,
) RecordingStoppedEvent {
	return RecordingStoppedEvent{
		BaseBroadcast: BaseBroadcast{
			BaseMessage:   BaseMessage{Type: ipcMessageTypeBroadcast},
			BroadcastType: ipcBroadcastRecordingStopped,
			Timestamp:     timestamp,
		},
		ID:        id,
		GuildID:   guildID,
		ChannelID: channelID,
		Reason:    reason,
	}
}

// OccupancyReport broadcast periodic occupancy
type OccupancyReport struct {
	BaseBroadcast
	common.Occupancy
}

/*
NewOccupancyReport define new OccupancyReport message

	@param occupancy common.Occupancy - current occupancy
	@param timestamp time.Time - event time
	@returns defined structure
*/
func NewOccupancyReport(occupancy common.Occupancy, timestamp time.Time) OccupancyReport {
	return OccupancyReport{
		BaseBroadcast: BaseBroadcast{
			BaseMessage:   BaseMessage{Type: ipcMessageTypeBroadcast},
			BroadcastType: ipcBroadcastOccupancy,
			Timestamp:     timestamp,
		},
		Occupancy: occupancy,
	}
}

/*
parseRawBroadcastMessage parse raw IPC broadcast message

	@param rawMsg []byte - original message
	@returns parsed message
*/
func parseRawBroadcastMessage(rawMsg []byte) (interface{}, error) {
	var asBroadcastMsg BaseBroadcast
	if err := json.Unmarshal(rawMsg, &asBroadcastMsg); err != nil {
		return nil, err
	}
	// Based on the type, parse
	switch asBroadcastMsg.BroadcastType {
	case ipcBroadcastRecordingStarted:
		var broadcast RecordingStartedEvent
		if err := json.Unmarshal(rawMsg, &broadcast); err != nil {
			return nil, err
		}
		return broadcast, nil

	case ipcBroadcastRecordingStopped:
		var broadcast RecordingStoppedEvent
		if err := json.Unmarshal(rawMsg, &broadcast); err != nil {
			return nil, err
		}
		return broadcast, nil

	case ipcBroadcastOccupancy:
		var broadcast OccupancyReport
		if err := json.Unmarshal(rawMsg, &broadcast); err != nil {
			return nil, err
		}
		return broadcast, nil

	default:
		return nil, fmt.Errorf(
			"unknown IPC broadcast message type '%s'", asBroadcastMsg.BroadcastType,
		)
	}
}
