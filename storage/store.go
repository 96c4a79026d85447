package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/apex/log"
)

// Artifact one file belonging to a recording
type Artifact string

const (
	// ArtifactHeader1 first header sink: Ogg BOS pages
	ArtifactHeader1 Artifact = "header1"
	// ArtifactHeader2 second header sink: OpusTags pages
	ArtifactHeader2 Artifact = "header2"
	// ArtifactData audio data sink
	ArtifactData Artifact = "data"
	// ArtifactKey access key side file
	ArtifactKey Artifact = "key"
	// ArtifactDelete delete key side file
	ArtifactDelete Artifact = "delete"
	// ArtifactFeatures feature snapshot side file
	ArtifactFeatures Artifact = "features"
)

// AllArtifacts every artifact a recording may have. The key file is last.
var AllArtifacts = []Artifact{
	ArtifactHeader1, ArtifactHeader2, ArtifactData, ArtifactFeatures, ArtifactDelete, ArtifactKey,
}

// keySpace recording IDs and keys are drawn from [1, keySpace)
const keySpace = 1000000000

// maxAllocateAttempts attempts at finding an unused recording ID
const maxAllocateAttempts = 64

// ErrIDSpaceExhausted no unused recording ID was found
var ErrIDSpaceExhausted = errors.New("unable to find an unused recording ID")

// Allocation a newly allocated recording with its open sinks
type Allocation struct {
	// Keys the recording ID and keys
	Keys common.RecordingKeys
	// Header1 first header sink
	Header1 io.WriteCloser
	// Header2 second header sink
	Header2 io.WriteCloser
	// Data audio data sink
	Data io.WriteCloser
}

// Close close all three sinks
func (a Allocation) Close() error {
	var result error
	for _, sink := range []io.WriteCloser{a.Header1, a.Header2, a.Data} {
		if sink == nil {
			continue
		}
		if err := sink.Close(); err != nil && result == nil {
			result = err
		}
	}
	return result
}

// Download a recording being read back. Reads return header1, header2 and data in order.
type Download interface {
	io.ReadCloser

	// Size total bytes the reader will return
	Size() int64
}

// Store local recording storage
type Store interface {
	/*
		Allocate reserve a new recording ID with fresh keys and open its sinks

			@param ctxt context.Context - execution context
			@param features *common.Features - feature snapshot to persist, nil when defaults apply
			@returns the allocation
	*/
	Allocate(ctxt context.Context, features *common.Features) (Allocation, error)

	/*
		Path location of one recording artifact

			@param id int64 - recording ID
			@param artifact Artifact - the artifact
			@returns file path
	*/
	Path(id int64, artifact Artifact) string

	/*
		Exists whether a recording is present in storage

			@param id int64 - recording ID
			@returns whether the key file exists
	*/
	Exists(id int64) bool

	/*
		ReadKeys read the keys of a recording

			@param id int64 - recording ID
			@returns the recording keys
	*/
	ReadKeys(id int64) (common.RecordingKeys, error)

	/*
		VerifyAccess check the access key of a recording

			@param id int64 - recording ID
			@param accessKey int64 - access key presented
	*/
	VerifyAccess(id int64, accessKey int64) error

	/*
		VerifyDelete check both the access key and the delete key of a recording

			@param id int64 - recording ID
			@param accessKey int64 - access key presented
			@param deleteKey int64 - delete key presented
	*/
	VerifyDelete(id int64, accessKey, deleteKey int64) error

	/*
		ReadFeatures read the feature snapshot of a recording

			@param id int64 - recording ID
			@returns the snapshot, nil when defaults applied
	*/
	ReadFeatures(id int64) (*common.Features, error)

	/*
		OpenDownload open the recording for reading. Safe while the recording is being written.

			@param ctxt context.Context - execution context
			@param id int64 - recording ID
			@returns the download reader
	*/
	OpenDownload(ctxt context.Context, id int64) (Download, error)

	/*
		Delete remove all artifacts of a recording. Missing artifacts are ignored.

			@param ctxt context.Context - execution context
			@param id int64 - recording ID
	*/
	Delete(ctxt context.Context, id int64) error
}

// fileStore implements Store on a local directory
type fileStore struct {
	goutils.Component
	dir string
}

/*
NewStore define a new local recording store

	@param dir string - storage directory, created when missing
	@returns new Store
*/
func NewStore(dir string) (Store, error) {
	logTags := log.Fields{"module": "storage", "component": "store", "instance": dir}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to prepare storage directory")
		return nil, err
	}
	return &fileStore{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		dir: dir,
	}, nil
}

func (s *fileStore) Path(id int64, artifact Artifact) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.ogg.%s", id, artifact))
}

func (s *fileStore) Exists(id int64) bool {
	_, err := os.Stat(s.Path(id, ArtifactKey))
	return err == nil
}

func randomKey() int64 {
	return rand.Int64N(keySpace-1) + 1
}

func (s *fileStore) Allocate(ctxt context.Context, features *common.Features) (Allocation, error) {
	logTags := s.GetLogTagsForContext(ctxt)

	keys := common.RecordingKeys{AccessKey: randomKey(), DeleteKey: randomKey()}

	// Claim an ID by exclusively creating its key file
	claimed := false
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		keys.ID = randomKey()
		keyFile, err := os.OpenFile(
			s.Path(keys.ID, ArtifactKey), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600,
		)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to create key file")
			return Allocation{}, err
		}
		_, err = keyFile.WriteString(strconv.FormatInt(keys.AccessKey, 10))
		if closeErr := keyFile.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to write key file")
			_ = os.Remove(s.Path(keys.ID, ArtifactKey))
			return Allocation{}, err
		}
		claimed = true
		break
	}
	if !claimed {
		log.WithFields(logTags).Error("Recording ID space exhausted")
		return Allocation{}, ErrIDSpaceExhausted
	}
	recordingTags := log.Fields{"recording": keys.ID}
	for k, v := range logTags {
		recordingTags[k] = v
	}
	logTags = recordingTags

	cleanup := func() {
		_ = s.Delete(ctxt, keys.ID)
	}

	if err := os.WriteFile(
		s.Path(keys.ID, ArtifactDelete), []byte(strconv.FormatInt(keys.DeleteKey, 10)), 0o600,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to write delete key file")
		cleanup()
		return Allocation{}, err
	}

	if features != nil {
		content, err := json.Marshal(features)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to serialize features")
			cleanup()
			return Allocation{}, err
		}
		if err := os.WriteFile(s.Path(keys.ID, ArtifactFeatures), content, 0o600); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to write features file")
			cleanup()
			return Allocation{}, err
		}
	}

	result := Allocation{Keys: keys}
	sinks := []struct {
		artifact Artifact
		target   *io.WriteCloser
	}{
		{ArtifactHeader1, &result.Header1},
		{ArtifactHeader2, &result.Header2},
		{ArtifactData, &result.Data},
	}
	for _, sink := range sinks {
		file, err := os.OpenFile(
			s.Path(keys.ID, sink.artifact), os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0o644,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).WithField("sink", sink.artifact).Error("Unable to open sink")
			_ = result.Close()
			cleanup()
			return Allocation{}, err
		}
		*sink.target = file
	}

	log.WithFields(logTags).Info("Allocated new recording")
	return result, nil
}

func (s *fileStore) readInt(id int64, artifact Artifact) (int64, error) {
	content, err := os.ReadFile(s.Path(id, artifact))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %d", common.ErrUnknownRecording, id)
		}
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(content)), 10, 64)
}

func (s *fileStore) ReadKeys(id int64) (common.RecordingKeys, error) {
	accessKey, err := s.readInt(id, ArtifactKey)
	if err != nil {
		return common.RecordingKeys{}, err
	}
	deleteKey, err := s.readInt(id, ArtifactDelete)
	if err != nil {
		return common.RecordingKeys{}, err
	}
	return common.RecordingKeys{ID: id, AccessKey: accessKey, DeleteKey: deleteKey}, nil
}

func (s *fileStore) VerifyAccess(id int64, accessKey int64) error {
	expected, err := s.readInt(id, ArtifactKey)
	if err != nil {
		return err
	}
	if expected != accessKey {
		return common.ErrBadKey
	}
	return nil
}

func (s *fileStore) VerifyDelete(id int64, accessKey, deleteKey int64) error {
	keys, err := s.ReadKeys(id)
	if err != nil {
		return err
	}
	if keys.AccessKey != accessKey || keys.DeleteKey != deleteKey {
		return common.ErrBadKey
	}
	return nil
}

func (s *fileStore) ReadFeatures(id int64) (*common.Features, error) {
	content, err := os.ReadFile(s.Path(id, ArtifactFeatures))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var features common.Features
	if err := json.Unmarshal(content, &features); err != nil {
		return nil, err
	}
	return &features, nil
}

// downloadReader concatenates the recording files
type downloadReader struct {
	io.Reader
	files []*os.File
	size  int64
}

func (d *downloadReader) Size() int64 {
	return d.size
}

func (d *downloadReader) Close() error {
	var result error
	for _, file := range d.files {
		if err := file.Close(); err != nil && result == nil {
			result = err
		}
	}
	return result
}

func (s *fileStore) OpenDownload(ctxt context.Context, id int64) (Download, error) {
	logTags := s.GetLogTagsForContext(ctxt)

	// The data length is fixed first. Every page in that prefix belongs to a track whose
	// header pages were written before it, so reading the headers afterwards is consistent.
	dataStat, err := os.Stat(s.Path(id, ArtifactData))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %d", common.ErrUnknownRecording, id)
		}
		return nil, err
	}
	dataSize := dataStat.Size()

	result := &downloadReader{}
	readers := []io.Reader{}
	for _, artifact := range []Artifact{ArtifactHeader1, ArtifactHeader2, ArtifactData} {
		file, err := os.Open(s.Path(id, artifact))
		if err != nil {
			log.WithError(err).WithFields(logTags).WithField("artifact", artifact).Error("Unable to open recording")
			_ = result.Close()
			return nil, err
		}
		result.files = append(result.files, file)
		if artifact == ArtifactData {
			readers = append(readers, io.LimitReader(file, dataSize))
			result.size += dataSize
			continue
		}
		stat, err := file.Stat()
		if err != nil {
			_ = result.Close()
			return nil, err
		}
		readers = append(readers, io.LimitReader(file, stat.Size()))
		result.size += stat.Size()
	}
	result.Reader = io.MultiReader(readers...)
	return result, nil
}

func (s *fileStore) Delete(ctxt context.Context, id int64) error {
	logTags := s.GetLogTagsForContext(ctxt)
	var result error
	for _, artifact := range AllArtifacts {
		if err := os.Remove(s.Path(id, artifact)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).WithFields(logTags).WithField("artifact", artifact).Error("Unable to delete artifact")
			if result == nil {
				result = err
			}
		}
	}
	if result == nil {
		log.WithFields(logTags).WithField("recording", id).Info("Deleted recording artifacts")
	}
	return result
}
