package logger

// Severity classifies an error reported to the error sink.
type Severity int8

const (
	// SeverityInfo reports an informational event.
	SeverityInfo Severity = iota
	// SeverityWarning reports a transient or recoverable condition.
	SeverityWarning
	// SeverityError reports a failure.
	SeverityError
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Report commits an error to the sink l with its severity and the source
// component that raised it.
//
// src names the reporting component, e.g. "port.TCPPort" or "manager".
func Report(l Logger, sev Severity, src string, msg string, keysAndValues ...any) {
	if l == nil {
		l = GetLogger()
	}

	kv := make([]any, 0, len(keysAndValues)+4)
	kv = append(kv, "severity", sev.String(), "src", src)
	kv = append(kv, keysAndValues...)

	switch sev {
	case SeverityInfo:
		l.Info(msg, kv...)
	case SeverityWarning:
		l.Warn(msg, kv...)
	default:
		l.Error(msg, kv...)
	}
}
