package stcp

import (
	"log/slog"

	"github.com/ardnew/stcp/internal"
)

// logger is embedded in ControlBlock to provide cheap, nil-safe
// structured logging: a connection created without a *slog.Logger logs
// nothing and pays only for the Enabled check.
type logger struct {
	log *slog.Logger
	tag string // connection identifier, attached to every record
}

func (l *logger) setLogger(log *slog.Logger, tag string) {
	l.log = log
	l.tag = tag
}

func (l *logger) enabled(lvl slog.Level) bool {
	return internal.Enabled(l.log, lvl)
}

func (l *logger) trace(msg string, attrs ...slog.Attr) {
	l.log2(internal.LevelTrace, msg, attrs...)
}

func (l *logger) debug(msg string, attrs ...slog.Attr) {
	l.log2(slog.LevelDebug, msg, attrs...)
}

func (l *logger) info(msg string, attrs ...slog.Attr) {
	l.log2(slog.LevelInfo, msg, attrs...)
}

func (l *logger) warn(msg string, attrs ...slog.Attr) {
	l.log2(slog.LevelWarn, msg, attrs...)
}

func (l *logger) logerr(msg string, err error) {
	l.log2(slog.LevelError, msg, slog.String("err", err.Error()))
}

func (l *logger) log2(lvl slog.Level, msg string, attrs ...slog.Attr) {
	if l.log == nil {
		return
	}
	if l.tag != "" {
		attrs = append(attrs, slog.String("conn", l.tag))
	}
	internal.LogAttrs(l.log, lvl, msg, attrs...)
}

// traceSeg logs a segment crossing the wire in either direction; dir is
// "snd" or "rcv".
func (l *logger) traceSeg(dir string, s State, seg Segment) {
	if !l.enabled(internal.LevelTrace) {
		return
	}
	l.trace("segment",
		slog.String("dir", dir),
		slog.String("state", s.String()),
		slog.String("flags", seg.Flags.String()),
		slog.Uint64("seq", uint64(seg.SEQ)),
		slog.Uint64("ack", uint64(seg.ACK)),
		slog.Uint64("datalen", uint64(seg.DATALEN)),
		slog.Uint64("wnd", uint64(seg.WND)),
	)
}
