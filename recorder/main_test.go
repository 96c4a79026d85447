package recorder_test

import (
	"os"
	"testing"

	"github.com/apex/log"
)

func TestMain(m *testing.M) {
	// Background workers log across tests, so the level is only set here
	log.SetLevel(log.DebugLevel)
	os.Exit(m.Run())
}
