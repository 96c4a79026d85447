package db

import (
	"github.com/alwitt/voxmux/common"
)

// recordingEntry a recording index row
type recordingEntry struct {
	common.RecordingEntry
}

// TableName hard code table name
func (recordingEntry) TableName() string {
	return "recordings"
}
