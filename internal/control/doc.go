// Package control handles operator-driven commands: forcing a lamp
// ON or OFF and switching a device between AUTO and MANUAL mode.
//
// A manual status command always moves the device to MANUAL mode and
// always appends a transition log entry, even when the status does not
// change; operator intent is recorded regardless of effect. Status,
// mode, and log writes for one command commit in a single SQLite
// transaction.
package control
