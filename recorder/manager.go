package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/db"
	"github.com/alwitt/voxmux/oggmux"
	"github.com/alwitt/voxmux/storage"
	"github.com/alwitt/voxmux/voice"
	"github.com/apex/log"
)

// EventListener receives recording lifecycle events. Listeners observe only.
type EventListener interface {
	/*
		RecordingStarted a recording joined its channel

			@param ctxt context.Context - execution context
			@param info common.RecordingInfo - the recording
	*/
	RecordingStarted(ctxt context.Context, info common.RecordingInfo)

	/*
		RecordingStopped a recording closed

			@param ctxt context.Context - execution context
			@param info common.RecordingInfo - the recording
			@param reason common.StopReason - why it closed
	*/
	RecordingStopped(ctxt context.Context, info common.RecordingInfo, reason common.StopReason)

	/*
		OccupancyReport periodic occupancy report

			@param ctxt context.Context - execution context
			@param occupancy common.Occupancy - current occupancy
	*/
	OccupancyReport(ctxt context.Context, occupancy common.Occupancy)
}

// Archiver queues closed recordings for archival
type Archiver interface {
	/*
		ArchiveRecording queue a closed recording for archival

			@param ctxt context.Context - execution context
			@param id int64 - recording ID
	*/
	ArchiveRecording(ctxt context.Context, id int64) error
}

// Identity one connection identity available for recording
type Identity struct {
	// Connector the identity's channel connector
	Connector voice.Connector
	// Nick nickname used when not recording
	Nick string
}

// StartOutcome result of a successful admission
type StartOutcome struct {
	// Keys the recording ID and keys
	Keys common.RecordingKeys
	// Links download and delete links
	Links Links
	// Identity index of the identity recording the channel
	Identity int
}

// Manager admits, tracks and stops recordings
type Manager interface {
	/*
		StartRecording admit a new recording and join the channel

			@param ctxt context.Context - execution context
			@param request common.RecordingRequest - the recording request
			@returns the recording keys and links
	*/
	StartRecording(ctxt context.Context, request common.RecordingRequest) (StartOutcome, error)

	/*
		StopRecording stop the recording of a channel

			@param ctxt context.Context - execution context
			@param guildID string - guild ID
			@param channelID string - channel ID
	*/
	StopRecording(ctxt context.Context, guildID, channelID string) error

	/*
		StopGuild stop every recording of a guild

			@param ctxt context.Context - execution context
			@param guildID string - guild ID
			@returns number of recordings stopped
	*/
	StopGuild(ctxt context.Context, guildID string) (int, error)

	/*
		StopAll stop every recording

			@param ctxt context.Context - execution context
			@param reason common.StopReason - why the recordings are stopped
	*/
	StopAll(ctxt context.Context, reason common.StopReason) error

	// List list all tracked recordings
	List() []common.RecordingInfo

	// Occupancy current occupancy
	Occupancy() common.Occupancy

	// Snapshot handoff snapshot of all tracked recordings
	Snapshot() common.HandoffSnapshot

	/*
		RestoreSnapshot track the recordings handed over by a previous process

			@param ctxt context.Context - execution context
			@param snapshot common.HandoffSnapshot - the handed over recordings
			@returns number of placeholders created
	*/
	RestoreSnapshot(ctxt context.Context, snapshot common.HandoffSnapshot) (int, error)

	// Links download and delete links of a recording
	Links(keys common.RecordingKeys) Links

	// InUse whether a recording is still being written
	InUse(id int64) bool

	// BeginDrain stop admitting new recordings
	BeginDrain()

	// Draining whether new admissions are refused
	Draining() bool

	// LiveCount number of live recording sessions, placeholders excluded
	LiveCount() int

	/*
		WaitIdle block until no live recording session remains

			@param ctxt context.Context - execution context
	*/
	WaitIdle(ctxt context.Context) error

	/*
		Stop stop background support tasks

			@param ctxt context.Context - execution context
	*/
	Stop(ctxt context.Context) error

	voice.ChangeHandler
}

// ManagerParams recording manager parameters
type ManagerParams struct {
	// Identities connection identities, primary first
	Identities []Identity
	// Notifier user facing notice sender
	Notifier voice.Notifier
	// Store local recording storage
	Store storage.Store
	// Index recording index
	Index db.PersistenceManager
	// Archiver optional archiver of closed recordings
	Archiver Archiver
	// Listeners lifecycle event listeners
	Listeners []EventListener
	// Metrics optional metrics
	Metrics *Metrics
	// Limits default recording limits
	Limits common.RecordingLimitsConfig
	// Session session liveness monitoring config
	Session common.SessionMonitorConfig
	// DownloadURL public base URL of the download API
	DownloadURL string
	// PlaceholderTTL lifetime of a handed over recording placeholder
	PlaceholderTTL time.Duration
	// OccupancyInt occupancy report interval, zero disables the periodic report
	OccupancyInt time.Duration
}

// managerImpl implements Manager
type managerImpl struct {
	goutils.Component
	params   ManagerParams
	registry Registry
	draining atomic.Bool

	liveLock    sync.Mutex
	live        map[int64]Session
	liveChanged chan struct{}

	occupancyTimer   goutils.IntervalTimer
	wg               sync.WaitGroup
	workerCtxt       context.Context
	workerCtxtCancel context.CancelFunc
}

/*
NewManager define a new recording manager

	@param parentCtxt context.Context - parent context recordings live within
	@param params ManagerParams - manager parameters
	@returns new Manager
*/
func NewManager(parentCtxt context.Context, params ManagerParams) (Manager, error) {
	logTags := log.Fields{"module": "recorder", "component": "manager"}

	if len(params.Identities) == 0 {
		return nil, fmt.Errorf("at least one connection identity is required")
	}
	if params.Store == nil || params.Index == nil {
		return nil, fmt.Errorf("storage and recording index are required")
	}

	instance := &managerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		params:      params,
		registry:    NewRegistry(len(params.Identities)),
		live:        make(map[int64]Session),
		liveChanged: make(chan struct{}),
		wg:          sync.WaitGroup{},
	}
	instance.workerCtxt, instance.workerCtxtCancel = context.WithCancel(parentCtxt)

	timer, err := goutils.GetIntervalTimerInstance(instance.workerCtxt, &instance.wg, logTags)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define occupancy report timer")
		return nil, err
	}
	instance.occupancyTimer = timer
	if params.OccupancyInt > 0 {
		if err := timer.Start(params.OccupancyInt, instance.reportOccupancy, false); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to start occupancy report timer")
			return nil, err
		}
	}

	return instance, nil
}

func (m *managerImpl) Stop(ctxt context.Context) error {
	m.workerCtxtCancel()
	if err := m.occupancyTimer.Stop(); err != nil {
		return err
	}
	return goutils.TimeBoundedWaitGroupWait(ctxt, &m.wg, time.Second*5)
}

// ===========================================================================================
// Admission

func (m *managerImpl) Links(keys common.RecordingKeys) Links {
	return BuildLinks(m.params.DownloadURL, keys)
}

func (m *managerImpl) admissionFailed(cause string, err error) error {
	m.params.Metrics.admissionFailed(cause)
	return err
}

func (m *managerImpl) StartRecording(
	ctxt context.Context, request common.RecordingRequest,
) (StartOutcome, error) {
	logTags := m.GetLogTagsForContext(ctxt)

	if m.Draining() {
		return StartOutcome{}, m.admissionFailed("draining", common.ErrDraining)
	}

	reservation, err := m.registry.Reserve(request.GuildID, request.ChannelID)
	if err != nil {
		cause := "capacity"
		if errors.Is(err, common.ErrAlreadyRecording) {
			cause = "already-recording"
		}
		log.
			WithError(err).
			WithFields(logTags).
			WithField("guild", request.GuildID).
			WithField("channel", request.ChannelID).
			Info("Recording not admitted")
		return StartOutcome{}, m.admissionFailed(cause, err)
	}
	identity := m.params.Identities[reservation.Identity]
	connector := identity.Connector

	// Visibility checks run outside the registry lock
	visibilityErr := func() error {
		if reservation.Identity != 0 {
			if !connector.CanSeeGuild(request.GuildID) {
				return common.ErrGuildNotVisible
			}
			if !connector.CanSeeChannel(request.GuildID, request.ChannelID) {
				return common.ErrChannelNotVisible
			}
		}
		if !connector.CanConnect(request.GuildID, request.ChannelID) {
			return common.ErrNoPermission
		}
		return nil
	}()
	if visibilityErr != nil {
		m.registry.Release(reservation)
		log.
			WithError(visibilityErr).
			WithFields(logTags).
			WithField("guild", request.GuildID).
			WithField("channel", request.ChannelID).
			WithField("identity", reservation.Identity).
			Info("Recording not admitted")
		return StartOutcome{}, m.admissionFailed("visibility", visibilityErr)
	}

	// Feature snapshot
	features := m.params.Limits.Features()
	var customFeatures *common.Features
	if request.Features != nil && *request.Features != features {
		features = *request.Features
		customFeatures = &features
	}
	limits := common.LimitsFromFeatures(features, m.params.Limits.HardLimitBytes)

	allocation, err := m.params.Store.Allocate(ctxt, customFeatures)
	if err != nil {
		m.registry.Release(reservation)
		log.WithError(err).WithFields(logTags).Error("Unable to allocate recording storage")
		return StartOutcome{}, m.admissionFailed("storage", err)
	}
	keys := allocation.Keys
	abandon := func() {
		_ = allocation.Close()
		_ = m.params.Store.Delete(context.Background(), keys.ID)
		m.registry.Release(reservation)
	}

	startedAt := time.Now().UTC()
	if err := m.params.Index.RecordNewRecording(ctxt, common.RecordingEntry{
		ID:          keys.ID,
		GuildID:     request.GuildID,
		ChannelID:   request.ChannelID,
		Identity:    reservation.Identity,
		RequesterID: request.RequesterID,
		AccessKey:   keys.AccessKey,
		StartedAt:   startedAt,
		ExpiresAt:   startedAt.Add(limits.Retention),
	}); err != nil {
		abandon()
		log.WithError(err).WithFields(logTags).Error("Unable to index recording")
		return StartOutcome{}, m.admissionFailed("index", err)
	}

	mux, err := oggmux.NewMultiplexer(
		fmt.Sprintf("%d", keys.ID),
		allocation.Header1,
		allocation.Header2,
		allocation.Data,
		limits.MaxBytes,
	)
	if err != nil {
		abandon()
		_ = m.params.Index.DeleteRecording(context.Background(), keys.ID)
		log.WithError(err).WithFields(logTags).Error("Unable to define multiplexer")
		return StartOutcome{}, m.admissionFailed("storage", err)
	}

	links := m.Links(keys)
	session, err := NewSession(m.workerCtxt, SessionParams{
		Keys:          keys,
		GuildID:       request.GuildID,
		ChannelID:     request.ChannelID,
		Connector:     connector,
		Notifier:      m.params.Notifier,
		Target:        voice.NoticeTarget{UserID: request.RequesterID, ChannelID: request.NoticeChannelID},
		Features:      features,
		Limits:        limits,
		Mux:           mux,
		Links:         links,
		Nick:          identity.Nick,
		NickSuffix:    m.params.Session.RecordingNickSuffix,
		IdleSampleInt: m.params.Session.IdleSampleInt(),
		IdleWarnAfter: m.params.Session.IdleWarnAfterSamples,
		EventQueueLen: m.params.Session.EventQueueLen,
		Hooks: SessionHooks{
			OnActive: m.sessionActive,
			OnClosed: m.sessionClosed,
		},
		Metrics: m.params.Metrics,
	})
	if err != nil {
		abandon()
		_ = m.params.Index.DeleteRecording(context.Background(), keys.ID)
		log.WithError(err).WithFields(logTags).Error("Unable to define recording session")
		return StartOutcome{}, m.admissionFailed("session", err)
	}

	m.liveLock.Lock()
	m.live[keys.ID] = session
	m.liveLock.Unlock()
	m.params.Metrics.recordingAdded()
	if err := m.registry.Commit(reservation, session); err != nil {
		log.WithError(err).WithFields(logTags).Error("Lost recording reservation")
		_ = session.Stop(ctxt, common.StopReasonRequested)
		return StartOutcome{}, m.admissionFailed("registry", err)
	}

	log.
		WithFields(logTags).
		WithField("recording", keys.ID).
		WithField("guild", request.GuildID).
		WithField("channel", request.ChannelID).
		WithField("identity", reservation.Identity).
		Info("Recording admitted")

	// Wait for the join outcome
	if err := session.Start(ctxt); err != nil {
		return StartOutcome{}, err
	}

	return StartOutcome{Keys: keys, Links: links, Identity: reservation.Identity}, nil
}

// ===========================================================================================
// Session Lifecycle

func (m *managerImpl) sessionActive(ctxt context.Context, session Session) {
	info := session.Info()
	for _, listener := range m.params.Listeners {
		listener.RecordingStarted(ctxt, info)
	}
}

func (m *managerImpl) sessionClosed(ctxt context.Context, session Session, reason common.StopReason) {
	logTags := m.GetLogTagsForContext(ctxt)
	keys := session.Keys()

	m.registry.Remove(session)
	m.params.Metrics.recordingRemoved(reason)

	bytesWritten := session.BytesWritten()
	if err := m.params.Index.MarkRecordingEnded(
		ctxt, keys.ID, time.Now(), bytesWritten, reason,
	); err != nil {
		log.WithError(err).WithFields(logTags).WithField("recording", keys.ID).Error("Unable to record recording end")
	}
	if m.params.Archiver != nil && bytesWritten > 0 {
		if err := m.params.Archiver.ArchiveRecording(ctxt, keys.ID); err != nil {
			log.WithError(err).WithFields(logTags).WithField("recording", keys.ID).Error("Unable to queue recording archival")
		}
	}

	info := session.Info()
	for _, listener := range m.params.Listeners {
		listener.RecordingStopped(ctxt, info, reason)
	}

	m.liveLock.Lock()
	delete(m.live, keys.ID)
	close(m.liveChanged)
	m.liveChanged = make(chan struct{})
	m.liveLock.Unlock()
}

func (m *managerImpl) placeholderClosed(
	ctxt context.Context, placeholder Placeholder, reason common.StopReason,
) {
	m.registry.Remove(placeholder)
	log.
		WithFields(m.GetLogTagsForContext(ctxt)).
		WithField("recording", placeholder.Keys().ID).
		WithField("reason", string(reason)).
		Debug("Removed handed over recording")
}

// ===========================================================================================
// Stopping

func (m *managerImpl) StopRecording(ctxt context.Context, guildID, channelID string) error {
	entry, ok := m.registry.Find(guildID, channelID)
	if !ok {
		return common.ErrUnknownRecording
	}
	return entry.Stop(ctxt, common.StopReasonRequested)
}

func (m *managerImpl) StopGuild(ctxt context.Context, guildID string) (int, error) {
	entries := m.registry.ListGuild(guildID)
	if len(entries) == 0 {
		return 0, common.ErrUnknownRecording
	}
	return len(entries), m.stopEntries(ctxt, entries, common.StopReasonRequested)
}

func (m *managerImpl) StopAll(ctxt context.Context, reason common.StopReason) error {
	return m.stopEntries(ctxt, m.registry.List(), reason)
}

func (m *managerImpl) stopEntries(
	ctxt context.Context, entries []Entry, reason common.StopReason,
) error {
	errs := make([]error, len(entries))
	wg := sync.WaitGroup{}
	for idx, entry := range entries {
		wg.Add(1)
		go func(idx int, entry Entry) {
			defer wg.Done()
			errs[idx] = entry.Stop(ctxt, reason)
		}(idx, entry)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ===========================================================================================
// Forced Termination

func (m *managerImpl) HandleForcedChange(ctxt context.Context, change voice.ForcedChange) {
	logTags := m.GetLogTagsForContext(ctxt)

	for _, entry := range m.registry.ListGuild(change.GuildID) {
		session, ok := entry.(Session)
		if !ok || session.State() != StateActive {
			continue
		}

		var cause string
		switch change.Kind {
		case voice.ChangeChannelMoved:
			if session.Identity() == change.Identity && change.ChannelID != session.ChannelID() {
				cause = fmt.Sprintf("moved to channel '%s'", change.ChannelID)
			}
		case voice.ChangeNickAltered:
			if session.Identity() == change.Identity &&
				!strings.HasSuffix(change.Nick, m.params.Session.RecordingNickSuffix) {
				cause = fmt.Sprintf("nickname altered to '%s'", change.Nick)
			}
		case voice.ChangeRegion:
			cause = "guild region changed"
		}
		if cause == "" {
			continue
		}

		log.
			WithFields(logTags).
			WithField("recording", session.Keys().ID).
			WithField("change", string(change.Kind)).
			Info("Terminating recording after external change")
		go func(session Session, cause string) {
			stopCtxt, cancel := context.WithTimeout(m.workerCtxt, teardownTimeout*2)
			defer cancel()
			if err := session.ForceTerminate(stopCtxt, cause); err != nil {
				log.WithError(err).WithFields(logTags).WithField("recording", session.Keys().ID).Error("Forced termination failed")
			}
		}(session, cause)
	}
}

// ===========================================================================================
// Queries

func (m *managerImpl) List() []common.RecordingInfo {
	result := []common.RecordingInfo{}
	for _, entry := range m.registry.List() {
		result = append(result, entry.Info())
	}
	return result
}

func (m *managerImpl) Occupancy() common.Occupancy {
	return m.registry.Occupancy()
}

func (m *managerImpl) Snapshot() common.HandoffSnapshot {
	return m.registry.Snapshot()
}

func (m *managerImpl) InUse(id int64) bool {
	m.liveLock.Lock()
	defer m.liveLock.Unlock()
	_, ok := m.live[id]
	return ok
}

func (m *managerImpl) reportOccupancy() error {
	occupancy := m.registry.Occupancy()
	m.params.Metrics.occupancy(occupancy)
	for _, listener := range m.params.Listeners {
		listener.OccupancyReport(m.workerCtxt, occupancy)
	}
	return nil
}

// ===========================================================================================
// Handoff

func (m *managerImpl) RestoreSnapshot(
	ctxt context.Context, snapshot common.HandoffSnapshot,
) (int, error) {
	logTags := m.GetLogTagsForContext(ctxt)
	restored := 0
	for guildID, channels := range snapshot {
		for channelID, handedOver := range channels {
			placeholder, err := NewPlaceholder(
				m.workerCtxt, guildID, channelID, handedOver, m.placeholderClosed,
			)
			if err != nil {
				return restored, err
			}
			if err := m.registry.Insert(placeholder); err != nil {
				log.
					WithError(err).
					WithFields(logTags).
					WithField("guild", guildID).
					WithField("channel", channelID).
					Warn("Channel already tracked, dropping handed over recording")
				_ = placeholder.Stop(ctxt, common.StopReasonPlaceholderExpired)
				continue
			}
			if m.params.PlaceholderTTL > 0 {
				if err := placeholder.Arm(m.params.PlaceholderTTL); err != nil {
					log.WithError(err).WithFields(logTags).Error("Unable to arm placeholder expiry")
					_ = placeholder.Stop(ctxt, common.StopReasonPlaceholderExpired)
					return restored, err
				}
			}
			restored++
		}
	}
	log.WithFields(logTags).WithField("recordings", restored).Info("Restored handed over recordings")
	return restored, nil
}

func (m *managerImpl) BeginDrain() {
	if !m.draining.Swap(true) {
		log.WithFields(m.LogTags).Info("No longer admitting new recordings")
	}
}

func (m *managerImpl) Draining() bool {
	return m.draining.Load()
}

func (m *managerImpl) LiveCount() int {
	m.liveLock.Lock()
	defer m.liveLock.Unlock()
	return len(m.live)
}

func (m *managerImpl) WaitIdle(ctxt context.Context) error {
	for {
		m.liveLock.Lock()
		remaining := len(m.live)
		changed := m.liveChanged
		m.liveLock.Unlock()
		if remaining == 0 {
			return nil
		}
		select {
		case <-ctxt.Done():
			return ctxt.Err()
		case <-changed:
		}
	}
}
