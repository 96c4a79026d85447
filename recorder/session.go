package recorder

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/oggmux"
	"github.com/alwitt/voxmux/voice"
	"github.com/apex/log"
)

// SessionState recording session lifecycle state
type SessionState int32

const (
	// StateAdmitted resources reserved, connection not yet established
	StateAdmitted SessionState = iota
	// StateActive receiving frames
	StateActive
	// StateDisconnecting teardown in progress
	StateDisconnecting
	// StateClosed terminal
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state-%d", int32(s))
	}
}

// teardownTimeout bound on the I/O performed while closing a session
const teardownTimeout = time.Second * 30

// Entry a recording tracked by the registry
type Entry interface {
	// Keys recording ID and keys
	Keys() common.RecordingKeys

	// GuildID the guild hosting the channel
	GuildID() string

	// ChannelID the recorded voice channel
	ChannelID() string

	// Identity index of the connection identity occupied by the recording
	Identity() int

	// Info current recording state
	Info() common.RecordingInfo

	// Participants users in the voice channel, the bot included. 1 when unknown.
	Participants() int

	/*
		Stop stop the recording and wait until it is closed. Safe to call many times.

			@param ctxt context.Context - execution context
			@param reason common.StopReason - why the recording is stopped
	*/
	Stop(ctxt context.Context, reason common.StopReason) error

	// Done closed once the recording is closed
	Done() <-chan struct{}
}

// Session one live recording of a voice channel
type Session interface {
	Entry

	// State current lifecycle state
	State() SessionState

	// BytesWritten container bytes written so far
	BytesWritten() uint64

	/*
		Start join the voice channel and begin recording

			@param ctxt context.Context - execution context
			@returns the join outcome
	*/
	Start(ctxt context.Context) error

	/*
		ForceTerminate end the recording because of an external change, as if the connection
		was lost

			@param ctxt context.Context - execution context
			@param cause string - description of the change
	*/
	ForceTerminate(ctxt context.Context, cause string) error
}

// SessionHooks session lifecycle callbacks. Both are optional.
type SessionHooks struct {
	// OnActive called once the channel was joined
	OnActive func(ctxt context.Context, session Session)
	// OnClosed called once, at the end of teardown
	OnClosed func(ctxt context.Context, session Session, reason common.StopReason)
}

// SessionParams recording session parameters
type SessionParams struct {
	// Keys recording ID and keys
	Keys common.RecordingKeys
	// GuildID the guild hosting the channel
	GuildID string
	// ChannelID the voice channel to record
	ChannelID string
	// Connector the identity to join with
	Connector voice.Connector
	// Notifier user facing notice sender
	Notifier voice.Notifier
	// Target notice recipients
	Target voice.NoticeTarget
	// Features recording feature snapshot
	Features common.Features
	// Limits runtime limits
	Limits common.RecordingLimits
	// Mux the recording's multiplexer
	Mux oggmux.Multiplexer
	// Links download and delete links
	Links Links
	// Nick identity nickname when not recording
	Nick string
	// NickSuffix appended to Nick while recording
	NickSuffix string
	// IdleSampleInt interval between byte count samples
	IdleSampleInt time.Duration
	// IdleWarnAfter consecutive idle samples before the idle warning
	IdleWarnAfter uint32
	// EventQueueLen session event queue length
	EventQueueLen int
	// Hooks lifecycle callbacks
	Hooks SessionHooks
	// Metrics optional metrics
	Metrics *Metrics
}

type sessionStartRequest struct{}

type sessionFrameEvent struct {
	frame voice.Frame
}

type sessionConnectionEvent struct {
	event voice.Event
}

type sessionRecordLimitEvent struct{}

type sessionIdleSampleEvent struct{}

type sessionStopRequest struct {
	reason      common.StopReason
	intentional bool
	cause       string
}

// sessionImpl implements Session
type sessionImpl struct {
	goutils.Component
	params     SessionParams
	createdAt  time.Time
	state      atomic.Int32
	normalizer *FrameNormalizer

	connLock sync.RWMutex
	conn     voice.Connection

	// Liveness tracking
	lastBytes   uint64
	idleSamples uint32
	usedSamples uint32
	idleWarned  bool
	nickSet     bool

	closedIntentionally bool
	startResult         chan error
	closeOnce           sync.Once
	done                chan struct{}

	processor        goutils.TaskProcessor
	recordTimer      goutils.IntervalTimer
	idleTimer        goutils.IntervalTimer
	wg               sync.WaitGroup
	workerCtxt       context.Context
	workerCtxtCancel context.CancelFunc
	timerCtxt        context.Context
	timerCtxtCancel  context.CancelFunc
	pumpCtxt         context.Context
	pumpCtxtCancel   context.CancelFunc
}

/*
NewSession define a new recording session in the Admitted state

	@param parentCtxt context.Context - parent context the session lives within
	@param params SessionParams - session parameters
	@returns new Session
*/
func NewSession(parentCtxt context.Context, params SessionParams) (Session, error) {
	logTags := log.Fields{
		"module":    "recorder",
		"component": "session",
		"instance":  params.Keys.ID,
		"guild":     params.GuildID,
		"channel":   params.ChannelID,
		"identity":  params.Connector.Identity(),
	}

	if params.EventQueueLen < 1 {
		params.EventQueueLen = 1
	}
	if params.IdleWarnAfter < 1 {
		params.IdleWarnAfter = 1
	}
	if params.IdleSampleInt <= 0 {
		params.IdleSampleInt = time.Minute
	}

	instance := &sessionImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		params:      params,
		createdAt:   time.Now(),
		startResult: make(chan error, 1),
		done:        make(chan struct{}),
		wg:          sync.WaitGroup{},
	}
	instance.state.Store(int32(StateAdmitted))
	instance.normalizer = NewFrameNormalizer(params.Mux, func() time.Duration {
		return time.Since(instance.createdAt)
	})

	instance.workerCtxt, instance.workerCtxtCancel = context.WithCancel(parentCtxt)
	instance.timerCtxt, instance.timerCtxtCancel = context.WithCancel(instance.workerCtxt)
	instance.pumpCtxt, instance.pumpCtxtCancel = context.WithCancel(instance.workerCtxt)

	// -----------------------------------------------------------------------------
	// Setup components

	processor, err := goutils.GetNewTaskProcessorInstance(
		instance.workerCtxt,
		fmt.Sprintf("session-%d", params.Keys.ID),
		params.EventQueueLen,
		logTags,
		nil,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define session event processor")
		return nil, err
	}
	instance.processor = processor

	if instance.recordTimer, err = goutils.GetIntervalTimerInstance(
		instance.timerCtxt, &instance.wg, logTags,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define record limit timer")
		return nil, err
	}
	if instance.idleTimer, err = goutils.GetIntervalTimerInstance(
		instance.timerCtxt, &instance.wg, logTags,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define idle sample timer")
		return nil, err
	}

	// -----------------------------------------------------------------------------
	// Define support tasks

	handlers := map[reflect.Type]func(params interface{}) error{
		reflect.TypeOf(sessionStartRequest{}):     instance.start,
		reflect.TypeOf(sessionFrameEvent{}):       instance.frame,
		reflect.TypeOf(sessionConnectionEvent{}):  instance.connectionEvent,
		reflect.TypeOf(sessionRecordLimitEvent{}): instance.recordLimit,
		reflect.TypeOf(sessionIdleSampleEvent{}):  instance.idleSample,
		reflect.TypeOf(sessionStopRequest{}):      instance.stop,
	}
	for paramType, handler := range handlers {
		if err := processor.AddToTaskExecutionMap(paramType, handler); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to install task definition")
			return nil, err
		}
	}

	// -----------------------------------------------------------------------------
	// Start the worker

	if err := processor.StartEventLoop(&instance.wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start the session event processor")
		return nil, err
	}

	return instance, nil
}

// ===========================================================================================
// Accessors

func (s *sessionImpl) Keys() common.RecordingKeys {
	return s.params.Keys
}

func (s *sessionImpl) GuildID() string {
	return s.params.GuildID
}

func (s *sessionImpl) ChannelID() string {
	return s.params.ChannelID
}

func (s *sessionImpl) Identity() int {
	return s.params.Connector.Identity()
}

func (s *sessionImpl) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *sessionImpl) BytesWritten() uint64 {
	return s.params.Mux.BytesWritten()
}

func (s *sessionImpl) Done() <-chan struct{} {
	return s.done
}

func (s *sessionImpl) Participants() int {
	s.connLock.RLock()
	conn := s.conn
	s.connLock.RUnlock()
	if conn == nil {
		return 1
	}
	count, err := conn.Participants()
	if err != nil || count < 1 {
		return 1
	}
	return count
}

func (s *sessionImpl) Info() common.RecordingInfo {
	keys := s.params.Keys
	return common.RecordingInfo{
		RecordingKeys: common.RecordingKeys{ID: keys.ID, AccessKey: keys.AccessKey},
		GuildID:       s.params.GuildID,
		ChannelID:     s.params.ChannelID,
		Identity:      s.Identity(),
		State:         s.State().String(),
		Participants:  s.Participants(),
		BytesWritten:  s.BytesWritten(),
		StartedAt:     s.createdAt.UTC(),
	}
}

// ===========================================================================================
// External Triggers

var errSessionClosedBeforeStart = errors.New("recording closed before it started")

func (s *sessionImpl) Start(ctxt context.Context) error {
	logTags := s.GetLogTagsForContext(ctxt)
	if err := s.processor.Submit(ctxt, sessionStartRequest{}); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to submit 'Start'")
		s.abandonStart(logTags)
		return err
	}

	// Once submitted, the join decides the outcome. The caller's context does not.
	timeout := time.NewTimer(teardownTimeout)
	defer timeout.Stop()
	select {
	case err := <-s.startResult:
		return err
	case <-s.done:
		select {
		case err := <-s.startResult:
			return err
		default:
			return errSessionClosedBeforeStart
		}
	case <-timeout.C:
		log.WithFields(logTags).Error("Voice channel join did not complete")
		s.abandonStart(logTags)
		return fmt.Errorf("%w: join did not complete", voice.ErrJoinFailed)
	}
}

// abandonStart close a session whose start outcome could not be delivered
func (s *sessionImpl) abandonStart(logTags log.Fields) {
	stopCtxt, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.requestStop(
		stopCtxt, sessionStopRequest{reason: common.StopReasonJoinFailed, intentional: true},
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to close unstarted recording")
	}
}

func (s *sessionImpl) Stop(ctxt context.Context, reason common.StopReason) error {
	return s.requestStop(ctxt, sessionStopRequest{reason: reason, intentional: true})
}

func (s *sessionImpl) ForceTerminate(ctxt context.Context, cause string) error {
	return s.requestStop(
		ctxt, sessionStopRequest{reason: common.StopReasonForced, intentional: false, cause: cause},
	)
}

func (s *sessionImpl) requestStop(ctxt context.Context, request sessionStopRequest) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	if err := s.processor.Submit(ctxt, request); err != nil {
		select {
		case <-s.done:
			return nil
		default:
		}
		log.WithError(err).WithFields(s.GetLogTagsForContext(ctxt)).Error("Failed to submit 'Stop'")
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctxt.Done():
		return ctxt.Err()
	}
}

// ===========================================================================================
// Event Processing

func (s *sessionImpl) start(params interface{}) error {
	if _, ok := params.(sessionStartRequest); ok {
		return s.coreStart()
	}
	return s.unexpectedParams("start", params)
}

func (s *sessionImpl) coreStart() error {
	logTags := s.GetLogTagsForContext(s.workerCtxt)

	if s.State() != StateAdmitted {
		s.startResult <- fmt.Errorf("recording is %s", s.State())
		return nil
	}

	// An already expired record limit ends the recording before it begins
	if s.params.Limits.Record <= 0 {
		s.notify(privateNotice(noticeTimeLimit))
		s.teardown(common.StopReasonTimeLimit, true)
		s.startResult <- nil
		return nil
	}

	conn, err := s.params.Connector.Join(s.workerCtxt, s.params.GuildID, s.params.ChannelID)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to join voice channel")
		s.notify(joinFailedNotice(err))
		s.teardown(common.StopReasonJoinFailed, true)
		if !errors.Is(err, voice.ErrJoinFailed) {
			err = fmt.Errorf("%w: %s", voice.ErrJoinFailed, err.Error())
		}
		s.startResult <- err
		return nil
	}
	s.connLock.Lock()
	s.conn = conn
	s.connLock.Unlock()
	s.state.Store(int32(StateActive))

	// Mark the identity as recording
	if err := s.params.Connector.SetNickname(
		s.workerCtxt, s.params.GuildID, s.params.Nick+s.params.NickSuffix,
	); err != nil {
		if errors.Is(err, voice.ErrNickPermission) {
			log.WithError(err).WithFields(logTags).Error("Not permitted to mark nickname")
			s.notify(privateNotice(noticeNickPermission))
			s.teardown(common.StopReasonNickPermission, true)
			s.startResult <- fmt.Errorf("%w: %s", common.ErrNoPermission, err.Error())
			return nil
		}
		log.WithError(err).WithFields(logTags).Warn("Unable to mark nickname")
	} else {
		s.nickSet = true
	}

	// Subscribe to the connection
	s.wg.Add(1)
	go s.pump(conn)

	// Limit timers
	if err := s.recordTimer.Start(s.params.Limits.Record, func() error {
		return s.processor.Submit(s.timerCtxt, sessionRecordLimitEvent{})
	}, true); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start record limit timer")
		s.teardown(common.StopReasonIOError, true)
		s.startResult <- err
		return nil
	}
	if err := s.idleTimer.Start(s.params.IdleSampleInt, func() error {
		return s.processor.Submit(s.timerCtxt, sessionIdleSampleEvent{})
	}, false); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start idle sample timer")
		s.teardown(common.StopReasonIOError, true)
		s.startResult <- err
		return nil
	}

	s.notify(startedNotice(
		s.params.Features.Limits.Record, s.params.Features.Limits.Download, s.params.Links,
	))
	if s.params.Hooks.OnActive != nil {
		s.params.Hooks.OnActive(s.workerCtxt, s)
	}
	log.WithFields(logTags).Info("Recording started")

	s.startResult <- nil
	return nil
}

// pump forwards connection frames and events onto the session event processor
func (s *sessionImpl) pump(conn voice.Connection) {
	defer s.wg.Done()
	frames := conn.Frames()
	events := conn.Events()
	for {
		select {
		case <-s.pumpCtxt.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if err := s.processor.Submit(s.pumpCtxt, sessionFrameEvent{frame: frame}); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := s.processor.Submit(s.pumpCtxt, sessionConnectionEvent{event: event}); err != nil {
				return
			}
		}
	}
}

func (s *sessionImpl) frame(params interface{}) error {
	if event, ok := params.(sessionFrameEvent); ok {
		return s.coreFrame(event.frame)
	}
	return s.unexpectedParams("frame", params)
}

func (s *sessionImpl) coreFrame(frame voice.Frame) error {
	if s.State() != StateActive {
		return nil
	}
	before := s.params.Mux.BytesWritten()
	overLimit, err := s.normalizer.Write(frame.SpeakerID, frame.Payload)
	s.params.Metrics.frameWritten(s.params.Mux.BytesWritten() - before)
	if err != nil {
		logTags := s.GetLogTagsForContext(s.workerCtxt)
		if errors.Is(err, oggmux.ErrPacketTooLarge) {
			log.WithError(err).WithFields(logTags).WithField("speaker", frame.SpeakerID).Warn("Dropped frame")
			return nil
		}
		log.WithError(err).WithFields(logTags).WithField("speaker", frame.SpeakerID).Error("Frame write failed")
		s.notify(privateNotice(noticeIOError))
		s.teardown(common.StopReasonIOError, true)
		return nil
	}
	if overLimit {
		s.notify(privateNotice(noticeSizeLimit))
		s.teardown(common.StopReasonSizeLimit, true)
	}
	return nil
}

func (s *sessionImpl) connectionEvent(params interface{}) error {
	if event, ok := params.(sessionConnectionEvent); ok {
		return s.coreConnectionEvent(event.event)
	}
	return s.unexpectedParams("connectionEvent", params)
}

func (s *sessionImpl) coreConnectionEvent(event voice.Event) error {
	if s.State() != StateActive {
		return nil
	}
	log.
		WithError(event.Err).
		WithFields(s.GetLogTagsForContext(s.workerCtxt)).
		WithField("event", event.Type.String()).
		Warn("Voice connection ended")
	s.teardown(common.StopReasonConnectionLost, s.closedIntentionally)
	return nil
}

func (s *sessionImpl) recordLimit(params interface{}) error {
	if _, ok := params.(sessionRecordLimitEvent); ok {
		if s.State() == StateActive {
			s.notify(privateNotice(noticeTimeLimit))
			s.teardown(common.StopReasonTimeLimit, true)
		}
		return nil
	}
	return s.unexpectedParams("recordLimit", params)
}

func (s *sessionImpl) idleSample(params interface{}) error {
	if _, ok := params.(sessionIdleSampleEvent); ok {
		return s.coreIdleSample()
	}
	return s.unexpectedParams("idleSample", params)
}

func (s *sessionImpl) coreIdleSample() error {
	if s.State() != StateActive {
		return nil
	}
	current := s.params.Mux.BytesWritten()
	if current != s.lastBytes {
		s.lastBytes = current
		s.idleSamples = 0
		s.usedSamples++
		return nil
	}

	s.idleSamples++
	if s.usedSamples == 0 {
		s.notify(privateNotice(noticeNoData))
		s.teardown(common.StopReasonNoData, true)
		return nil
	}
	if s.idleSamples >= s.params.IdleWarnAfter && !s.idleWarned {
		s.idleWarned = true
		log.
			WithFields(s.GetLogTagsForContext(s.workerCtxt)).
			WithField("idle-samples", s.idleSamples).
			Info("Recording is idle")
		s.notify(privateNotice(noticeIdle))
		s.notify(publicNotice(noticeIdle))
	}
	return nil
}

func (s *sessionImpl) stop(params interface{}) error {
	if request, ok := params.(sessionStopRequest); ok {
		if request.cause != "" {
			log.
				WithFields(s.GetLogTagsForContext(s.workerCtxt)).
				WithField("cause", request.cause).
				Warn("Recording forcibly terminated")
		}
		s.teardown(request.reason, request.intentional)
		return nil
	}
	return s.unexpectedParams("stop", params)
}

func (s *sessionImpl) unexpectedParams(handler string, params interface{}) error {
	err := fmt.Errorf("received unexpected call parameters: %s", reflect.TypeOf(params))
	logTags := s.GetLogTagsForContext(s.workerCtxt)
	log.WithError(err).WithFields(logTags).Errorf("'%s' processing failure", handler)
	return err
}

// ===========================================================================================
// Teardown

func (s *sessionImpl) notify(notice voice.Notice) {
	if s.params.Notifier == nil {
		return
	}
	ctxt, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.params.Notifier.Notify(ctxt, s.params.Target, notice); err != nil {
		log.WithError(err).WithFields(s.GetLogTagsForContext(s.workerCtxt)).Warn("Unable to send notice")
	}
}

/*
teardown close the session. Only the first call has effect.

	@param reason common.StopReason - why the session is closing
	@param intentional bool - whether the stop was asked for; unintended stops notify the user
*/
func (s *sessionImpl) teardown(reason common.StopReason, intentional bool) {
	s.closeOnce.Do(func() {
		logTags := s.GetLogTagsForContext(s.workerCtxt)
		s.state.Store(int32(StateDisconnecting))

		// Timers and connection subscription go first so nothing writes after close
		s.timerCtxtCancel()
		if err := s.recordTimer.Stop(); err != nil {
			log.WithError(err).WithFields(logTags).Warn("Stopping record limit timer failed")
		}
		if err := s.idleTimer.Stop(); err != nil {
			log.WithError(err).WithFields(logTags).Warn("Stopping idle sample timer failed")
		}
		s.pumpCtxtCancel()

		if !intentional && !s.closedIntentionally {
			s.notify(privateNotice(noticeUnexpectedDisconnect))
		}
		s.closedIntentionally = true

		ctxt, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if err := s.params.Mux.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Closing recording sinks failed")
		}

		s.connLock.RLock()
		conn := s.conn
		s.connLock.RUnlock()
		if conn != nil {
			if err := conn.Disconnect(ctxt); err != nil {
				log.WithError(err).WithFields(logTags).Warn("Voice disconnect failed")
			}
		}

		if s.nickSet {
			if err := s.params.Connector.SetNickname(ctxt, s.params.GuildID, s.params.Nick); err != nil {
				log.WithError(err).WithFields(logTags).Warn("Unable to restore nickname")
			}
		}

		s.state.Store(int32(StateClosed))
		log.
			WithFields(logTags).
			WithField("reason", string(reason)).
			WithField("bytes", s.params.Mux.BytesWritten()).
			WithField("tracks", s.normalizer.Tracks()).
			Info("Recording stopped")

		if s.params.Hooks.OnClosed != nil {
			s.params.Hooks.OnClosed(ctxt, s, reason)
		}

		close(s.done)
		s.workerCtxtCancel()
	})
}
