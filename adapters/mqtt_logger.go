package adapters

import (
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTLogger forwards paho's package-level diagnostics into zerolog.
type MQTTLogger struct {
	log   zerolog.Logger
	level zerolog.Level
}

func NewMQTTLogger(log zerolog.Logger, level zerolog.Level) *MQTTLogger {
	return &MQTTLogger{log: log, level: level}
}

func (l *MQTTLogger) Println(v ...interface{}) {
	l.log.WithLevel(l.level).Msg(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (l *MQTTLogger) Printf(format string, v ...interface{}) {
	l.log.WithLevel(l.level).Msgf(format, v...)
}

// InstallMQTTLoggers routes paho's ERROR, CRITICAL and WARN loggers, and
// DEBUG when debug is set, through log.
func InstallMQTTLoggers(log zerolog.Logger, debug bool) {
	log = log.With().Str("module", "paho").Logger()

	mqtt.CRITICAL = NewMQTTLogger(log, zerolog.ErrorLevel)
	mqtt.ERROR = NewMQTTLogger(log, zerolog.ErrorLevel)
	mqtt.WARN = NewMQTTLogger(log, zerolog.WarnLevel)
	if debug {
		mqtt.DEBUG = NewMQTTLogger(log, zerolog.DebugLevel)
	}
}

var _ mqtt.Logger = &MQTTLogger{}
