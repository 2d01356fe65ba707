// Package automation decides streetlight status from light intensity
// readings and applies the decision transactionally.
//
// The rule is deliberately simple: a lamp is ON when the reported
// intensity exceeds the configured threshold, OFF otherwise. The
// threshold lives in system settings and is re-read for every
// evaluation, so operator changes take effect on the next reading
// without a restart. Status changes and their transition log entries
// commit in a single SQLite transaction; a reading that confirms the
// current status writes nothing.
package automation
