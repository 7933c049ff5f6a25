package util

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

const (
	LogComponentField = "component"

	LogFormatText = "text"
	LogFormatJSON = "json"

	defaultLogComponent = "replica-tester"
)

type ReplicaFormatter struct {
	*logrus.TextFormatter
}

func SetUpLogger(format string, debug bool) error {
	switch format {
	case LogFormatText, "":
		logrus.SetFormatter(ReplicaFormatter{
			TextFormatter: &logrus.TextFormatter{
				DisableColors: true,
				FullTimestamp: true,
			},
		})
	case LogFormatJSON:
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unsupported log format %q", format)
	}

	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	return nil
}

// Format prefixes each line with the component that logged it.
func (l ReplicaFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	logMsg := &bytes.Buffer{}
	component, ok := entry.Data[LogComponentField]
	if !ok {
		component = defaultLogComponent
	}
	name, ok := component.(string)
	if !ok {
		return nil, errors.New("field component must be a string")
	}
	logMsg.WriteString("[" + name + "] ")

	msg, err := l.TextFormatter.Format(entry)
	if err != nil {
		return nil, err
	}
	logMsg.Write(msg)
	return logMsg.Bytes(), nil
}
