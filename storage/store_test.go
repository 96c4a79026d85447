package storage_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/db"
	"github.com/alwitt/voxmux/mocks"
	"github.com/alwitt/voxmux/storage"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm/logger"
)

func TestStoreAllocateAndDownload(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	testDir := fmt.Sprintf("/tmp/ut-%s", uuid.NewString())
	defer func() {
		_ = os.RemoveAll(testDir)
	}()

	utCtxt := context.Background()

	uut, err := storage.NewStore(testDir)
	assert.Nil(err)

	// Case 0: allocate with default features
	alloc0, err := uut.Allocate(utCtxt, nil)
	assert.Nil(err)
	assert.Greater(alloc0.Keys.ID, int64(0))
	assert.Less(alloc0.Keys.ID, int64(1000000000))
	assert.True(uut.Exists(alloc0.Keys.ID))
	{
		keys, err := uut.ReadKeys(alloc0.Keys.ID)
		assert.Nil(err)
		assert.Equal(alloc0.Keys, keys)

		features, err := uut.ReadFeatures(alloc0.Keys.ID)
		assert.Nil(err)
		assert.Nil(features)

		assert.Nil(uut.VerifyAccess(alloc0.Keys.ID, alloc0.Keys.AccessKey))
		assert.ErrorIs(uut.VerifyAccess(alloc0.Keys.ID, alloc0.Keys.AccessKey+1), common.ErrBadKey)
		assert.Nil(uut.VerifyDelete(alloc0.Keys.ID, alloc0.Keys.AccessKey, alloc0.Keys.DeleteKey))
		assert.ErrorIs(
			uut.VerifyDelete(alloc0.Keys.ID, alloc0.Keys.AccessKey, alloc0.Keys.DeleteKey+1),
			common.ErrBadKey,
		)
	}

	// Case 1: allocate with custom features
	customFeatures := common.Features{
		Limits: common.FeatureLimits{Record: 24, Download: 48},
	}
	alloc1, err := uut.Allocate(utCtxt, &customFeatures)
	assert.Nil(err)
	assert.NotEqual(alloc0.Keys.ID, alloc1.Keys.ID)
	{
		features, err := uut.ReadFeatures(alloc1.Keys.ID)
		assert.Nil(err)
		assert.NotNil(features)
		assert.Equal(customFeatures, *features)
	}

	// Case 2: download while the recording is still being written
	_, err = alloc0.Header1.Write([]byte("aa"))
	assert.Nil(err)
	_, err = alloc0.Data.Write([]byte("cccc"))
	assert.Nil(err)
	_, err = alloc0.Header2.Write([]byte("bbb"))
	assert.Nil(err)
	{
		download, err := uut.OpenDownload(utCtxt, alloc0.Keys.ID)
		assert.Nil(err)
		assert.Equal(int64(9), download.Size())

		// More data arrives while the download is open
		_, err = alloc0.Data.Write([]byte("dd"))
		assert.Nil(err)

		content, err := io.ReadAll(download)
		assert.Nil(err)
		assert.Equal("aabbbcccc", string(content))
		assert.Nil(download.Close())
	}
	assert.Nil(alloc0.Close())
	{
		download, err := uut.OpenDownload(utCtxt, alloc0.Keys.ID)
		assert.Nil(err)
		content, err := io.ReadAll(download)
		assert.Nil(err)
		assert.Equal("aabbbccccdd", string(content))
		assert.Nil(download.Close())
	}

	// Case 3: delete
	assert.Nil(alloc1.Close())
	assert.Nil(uut.Delete(utCtxt, alloc1.Keys.ID))
	assert.False(uut.Exists(alloc1.Keys.ID))
	for _, artifact := range storage.AllArtifacts {
		_, err := os.Stat(uut.Path(alloc1.Keys.ID, artifact))
		assert.True(os.IsNotExist(err))
	}
	{
		_, err := uut.OpenDownload(utCtxt, alloc1.Keys.ID)
		assert.ErrorIs(err, common.ErrUnknownRecording)
		_, err = uut.ReadKeys(alloc1.Keys.ID)
		assert.ErrorIs(err, common.ErrUnknownRecording)
	}

	// Case 4: deleting a missing recording is fine
	assert.Nil(uut.Delete(utCtxt, alloc1.Keys.ID))
}

func TestReaper(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	testInstance := fmt.Sprintf("ut-%s", uuid.NewString())
	testDir := fmt.Sprintf("/tmp/%s", testInstance)
	defer func() {
		_ = os.RemoveAll(testDir)
	}()

	utCtxt := context.Background()

	store, err := storage.NewStore(testDir)
	assert.Nil(err)
	index, err := db.NewManager(db.GetSqliteDialector(fmt.Sprintf("%s/index.db", testDir)), logger.Info)
	assert.Nil(err)

	mockArchive := mocks.NewArchiveRemover(t)
	liveRecordings := map[int64]bool{}

	uut, err := storage.NewReaper(
		utCtxt, store, index, mockArchive, func(id int64) bool { return liveRecordings[id] }, 0,
	)
	assert.Nil(err)

	currentTime := time.Now().UTC()

	allocate := func(expiresAt time.Time, archived bool) int64 {
		alloc, err := store.Allocate(utCtxt, nil)
		assert.Nil(err)
		assert.Nil(alloc.Close())
		assert.Nil(index.RecordNewRecording(utCtxt, common.RecordingEntry{
			ID:        alloc.Keys.ID,
			GuildID:   uuid.NewString(),
			ChannelID: uuid.NewString(),
			AccessKey: alloc.Keys.AccessKey,
			StartedAt: currentTime.Add(-time.Hour),
			ExpiresAt: expiresAt,
		}))
		if archived {
			assert.Nil(index.MarkRecordingArchived(utCtxt, alloc.Keys.ID))
		}
		return alloc.Keys.ID
	}

	expiredLocal := allocate(currentTime.Add(-time.Minute), false)
	expiredArchived := allocate(currentTime.Add(-time.Minute), true)
	expiredLive := allocate(currentTime.Add(-time.Minute), false)
	retained := allocate(currentTime.Add(time.Hour), false)
	liveRecordings[expiredLive] = true

	mockArchive.On(
		"RemoveRecording", mock.AnythingOfType("context.backgroundCtx"), expiredArchived,
	).Return(nil).Once()

	deleted, err := uut.Reap(utCtxt, currentTime)
	assert.Nil(err)
	assert.Equal(2, deleted)

	assert.False(store.Exists(expiredLocal))
	assert.False(store.Exists(expiredArchived))
	assert.True(store.Exists(expiredLive))
	assert.True(store.Exists(retained))

	remaining, err := index.ListRecordings(utCtxt)
	assert.Nil(err)
	assert.Len(remaining, 2)

	// Once no longer live, the expired recording goes too
	liveRecordings[expiredLive] = false
	deleted, err = uut.Reap(utCtxt, currentTime)
	assert.Nil(err)
	assert.Equal(1, deleted)
	assert.False(store.Exists(expiredLive))

	// Purge on demand
	liveRecordings[retained] = true
	assert.ErrorIs(uut.Purge(utCtxt, retained), storage.ErrRecordingLive)
	assert.True(store.Exists(retained))
	liveRecordings[retained] = false
	assert.Nil(index.MarkRecordingArchived(utCtxt, retained))
	mockArchive.On(
		"RemoveRecording", mock.AnythingOfType("context.backgroundCtx"), retained,
	).Return(nil).Once()
	assert.Nil(uut.Purge(utCtxt, retained))
	assert.False(store.Exists(retained))
	remaining, err = index.ListRecordings(utCtxt)
	assert.Nil(err)
	assert.Len(remaining, 0)

	// Artifacts without an index entry
	orphan, err := store.Allocate(utCtxt, nil)
	assert.Nil(err)
	assert.Nil(orphan.Close())
	assert.Nil(uut.Purge(utCtxt, orphan.Keys.ID))
	assert.False(store.Exists(orphan.Keys.ID))

	assert.Nil(uut.Stop(utCtxt))
}
