// Package schedule holds the bell model and the pure evaluation logic.
//
// The pieces compose in one direction:
//
//	Clock -> Normalize -> Resolver -> Matcher
//
// Normalize turns an instant into the (HH:MM, weekday, date) triple that bells and
// special days are stored with. Resolver picks the effective schedule id for a
// tenant on a date (holiday, override or active). Matcher returns the enabled
// bells of that schedule due at the minute.
//
// GenerateDaySchedule is independent of the evaluation path: it expands a compact
// lesson plan into bell records for one weekday and never touches storage.
package schedule
