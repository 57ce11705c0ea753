// Package logger builds the structured loggers used by kvmirror.
//
// Loggers are plain *slog.Logger values. Records logged with a context
// pick up the worker connection ID and request ID stored by WithConnID and
// WithRequestID. The level is shared and can be changed at runtime with
// SetLevel.
//
// Session tokens must never reach a log sink in clear text. Any attribute
// whose key names a session, token or secret is redacted by the handler.
package logger
