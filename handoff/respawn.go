package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/alwitt/voxmux/common"
	"github.com/apex/log"
)

// SnapshotFileEnv environment variable naming the handoff snapshot file given to a
// respawned recorder
const SnapshotFileEnv = "VOXMUX_HANDOFF_SNAPSHOT_FILE"

// Respawner starts a successor recorder without a supervisor
type Respawner interface {
	/*
		Respawn start a detached successor carrying the in-flight recordings

			@param ctxt context.Context - execution context
			@param snapshot common.HandoffSnapshot - in-flight recordings
	*/
	Respawn(ctxt context.Context, snapshot common.HandoffSnapshot) error
}

// selfRespawner re-executes the running binary with the same arguments
type selfRespawner struct {
	snapshotDir string
	executable  string
	args        []string
}

/*
NewSelfRespawner define a respawner re-executing the current binary

	@param snapshotDir string - DIR to place the snapshot file in
	@returns new Respawner
*/
func NewSelfRespawner(snapshotDir string) (Respawner, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return &selfRespawner{snapshotDir: snapshotDir, executable: executable, args: os.Args[1:]}, nil
}

func (r *selfRespawner) Respawn(ctxt context.Context, snapshot common.HandoffSnapshot) error {
	logTags := log.Fields{"module": "handoff", "component": "self-respawner"}

	snapshotFile, err := WriteSnapshotFile(r.snapshotDir, snapshot)
	if err != nil {
		return err
	}

	// Not bound to ctxt, the successor outlives this process
	cmd := exec.Command(r.executable, r.args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", SnapshotFileEnv, snapshotFile))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = os.Remove(snapshotFile)
		return err
	}
	log.
		WithFields(logTags).
		WithField("pid", cmd.Process.Pid).
		WithField("snapshot", snapshotFile).
		Info("Started successor recorder")
	return cmd.Process.Release()
}

/*
WriteSnapshotFile persist a handoff snapshot into a new file

	@param dir string - DIR to place the file in
	@param snapshot common.HandoffSnapshot - in-flight recordings
	@returns the file path
*/
func WriteSnapshotFile(dir string, snapshot common.HandoffSnapshot) (string, error) {
	if snapshot == nil {
		snapshot = common.HandoffSnapshot{}
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	file, err := os.CreateTemp(dir, "voxmux-handoff-*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()
	if _, err := file.Write(payload); err != nil {
		_ = os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

/*
TakeSnapshotFile read a handoff snapshot file, and remove it so it is only consumed once

	@param path string - the snapshot file
	@returns the handed over recordings
*/
func TakeSnapshotFile(path string) (common.HandoffSnapshot, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(path) }()
	var snapshot common.HandoffSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, err
	}
	if snapshot == nil {
		snapshot = common.HandoffSnapshot{}
	}
	return snapshot, nil
}
