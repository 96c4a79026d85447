package db

import (
	"context"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/apex/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// PersistenceManager recording index access layer
type PersistenceManager interface {
	/*
		Ready check whether the DB connection is working

			@param ctxt context.Context - execution context
	*/
	Ready(ctxt context.Context) error

	/*
		RecordNewRecording index a new recording

			@param ctxt context.Context - execution context
			@param entry common.RecordingEntry - the recording
	*/
	RecordNewRecording(ctxt context.Context, entry common.RecordingEntry) error

	/*
		MarkRecordingEnded record the end of a recording

			@param ctxt context.Context - execution context
			@param id int64 - recording ID
			@param endedAt time.Time - when the recording ended
			@param bytesWritten uint64 - final recording size
			@param reason common.StopReason - why the recording ended
	*/
	MarkRecordingEnded(
		ctxt context.Context,
		id int64,
		endedAt time.Time,
		bytesWritten uint64,
		reason common.StopReason,
	) error

	/*
		MarkRecordingArchived record that the recording artifacts are in object storage

			@param ctxt context.Context - execution context
			@param id int64 - recording ID
	*/
	MarkRecordingArchived(ctxt context.Context, id int64) error

	/*
		GetRecording fetch a recording

			@param ctxt context.Context - execution context
			@param id int64 - recording ID
			@returns the recording
	*/
	GetRecording(ctxt context.Context, id int64) (common.RecordingEntry, error)

	/*
		ListRecordings list all indexed recordings

			@param ctxt context.Context - execution context
			@returns the recordings
	*/
	ListRecordings(ctxt context.Context) ([]common.RecordingEntry, error)

	/*
		ListExpiredRecordings list recordings due for deletion

			@param ctxt context.Context - execution context
			@param now time.Time - current time
			@returns the expired recordings
	*/
	ListExpiredRecordings(ctxt context.Context, now time.Time) ([]common.RecordingEntry, error)

	/*
		DeleteRecording remove a recording from the index

			@param ctxt context.Context - execution context
			@param id int64 - recording ID
	*/
	DeleteRecording(ctxt context.Context, id int64) error
}

// persistenceManagerImpl implements PersistenceManager
type persistenceManagerImpl struct {
	goutils.Component
	db *gorm.DB
}

/*
NewManager define a new DB access manager

	@param dbDialector gorm.Dialector - GORM SQL dialector
	@param logLevel logger.LogLevel - SQL log level
	@returns new manager
*/
func NewManager(dbDialector gorm.Dialector, logLevel logger.LogLevel) (PersistenceManager, error) {
	db, err := gorm.Open(dbDialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}

	// Prepare the databases
	if err := db.AutoMigrate(&recordingEntry{}); err != nil {
		return nil, err
	}

	logTags := log.Fields{"module": "db", "component": "manager", "instance": dbDialector.Name()}
	return &persistenceManagerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db: db,
	}, nil
}

func (m *persistenceManagerImpl) Ready(ctxt context.Context) error {
	return m.db.WithContext(ctxt).Transaction(func(tx *gorm.DB) error {
		tmp := tx.Limit(1).Find(&[]recordingEntry{})
		return tmp.Error
	})
}

func (m *persistenceManagerImpl) RecordNewRecording(
	ctxt context.Context, entry common.RecordingEntry,
) error {
	return m.db.WithContext(ctxt).Transaction(func(tx *gorm.DB) error {
		logTags := m.GetLogTagsForContext(ctxt)

		newEntry := recordingEntry{RecordingEntry: entry}
		newEntry.StartedAt = newEntry.StartedAt.UTC()
		newEntry.ExpiresAt = newEntry.ExpiresAt.UTC()

		// A handed over recording may already be indexed
		if tmp := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&newEntry); tmp.Error != nil {
			return tmp.Error
		}

		log.
			WithFields(logTags).
			WithField("id", entry.ID).
			WithField("guild", entry.GuildID).
			WithField("channel", entry.ChannelID).
			WithField("expires-at", newEntry.ExpiresAt).
			Debug("Indexed new recording")
		return nil
	})
}

func (m *persistenceManagerImpl) MarkRecordingEnded(
	ctxt context.Context,
	id int64,
	endedAt time.Time,
	bytesWritten uint64,
	reason common.StopReason,
) error {
	return m.db.WithContext(ctxt).Transaction(func(tx *gorm.DB) error {
		tmp := tx.Model(&recordingEntry{}).Where("id = ?", id).Updates(map[string]interface{}{
			"ended_at":      endedAt.UTC(),
			"bytes_written": bytesWritten,
			"end_reason":    string(reason),
		})
		if tmp.Error != nil {
			return tmp.Error
		}
		if tmp.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (m *persistenceManagerImpl) MarkRecordingArchived(ctxt context.Context, id int64) error {
	return m.db.WithContext(ctxt).Transaction(func(tx *gorm.DB) error {
		tmp := tx.Model(&recordingEntry{}).Where("id = ?", id).Update("archived", true)
		if tmp.Error != nil {
			return tmp.Error
		}
		if tmp.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (m *persistenceManagerImpl) GetRecording(
	ctxt context.Context, id int64,
) (common.RecordingEntry, error) {
	var result common.RecordingEntry
	err := m.db.WithContext(ctxt).Transaction(func(tx *gorm.DB) error {
		var entry recordingEntry
		if tmp := tx.First(&entry, "id = ?", id); tmp.Error != nil {
			return tmp.Error
		}
		result = entry.RecordingEntry
		return nil
	})
	return result, err
}

func (m *persistenceManagerImpl) ListRecordings(
	ctxt context.Context,
) ([]common.RecordingEntry, error) {
	result := []common.RecordingEntry{}
	err := m.db.WithContext(ctxt).Transaction(func(tx *gorm.DB) error {
		var entries []recordingEntry
		if tmp := tx.Order("started_at").Find(&entries); tmp.Error != nil {
			return tmp.Error
		}
		for _, entry := range entries {
			result = append(result, entry.RecordingEntry)
		}
		return nil
	})
	return result, err
}

func (m *persistenceManagerImpl) ListExpiredRecordings(
	ctxt context.Context, now time.Time,
) ([]common.RecordingEntry, error) {
	result := []common.RecordingEntry{}
	err := m.db.WithContext(ctxt).Transaction(func(tx *gorm.DB) error {
		var entries []recordingEntry
		if tmp := tx.
			Where("expires_at <= ?", now.UTC()).
			Order("expires_at").
			Find(&entries); tmp.Error != nil {
			return tmp.Error
		}
		for _, entry := range entries {
			result = append(result, entry.RecordingEntry)
		}
		return nil
	})
	return result, err
}

func (m *persistenceManagerImpl) DeleteRecording(ctxt context.Context, id int64) error {
	return m.db.WithContext(ctxt).Transaction(func(tx *gorm.DB) error {
		logTags := m.GetLogTagsForContext(ctxt)
		if tmp := tx.Where("id = ?", id).Delete(&recordingEntry{}); tmp.Error != nil {
			return tmp.Error
		}
		log.WithFields(logTags).WithField("id", id).Info("Removed recording from index")
		return nil
	})
}
