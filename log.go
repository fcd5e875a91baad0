package vhci

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the engine's base logger. Per-device logging always
// goes through a *logrus.Entry carrying at least a "busid" field (see
// Controller.PluginHardware), so multiple virtual devices' interleaved
// log lines stay attributable.
func NewLogger(level string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)
	return log, nil
}
