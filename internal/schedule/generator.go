package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

type Mode string

const (
	ModeAppend    Mode = "append"
	ModeOverwrite Mode = "overwrite"
)

const DefaultSoundID = "sound-1"

// LessonConfig is one lesson followed by the break after it.
type LessonConfig struct {
	LessonDuration int `json:"lessonDuration"`
	BreakDuration  int `json:"breakDuration"`
}

// GenerateRequest describes one weekday to expand into bells.
type GenerateRequest struct {
	StartTime  string         `json:"startTime"`
	Lessons    []LessonConfig `json:"lessons"`
	Day        string         `json:"day"`
	ScheduleID string         `json:"scheduleId"`
	Mode       Mode           `json:"mode"`
	SoundID    string         `json:"soundId,omitempty"`
}

// InputError rejects a generator request. Index is the 0-based lesson index, or -1
// when the field is not per-lesson.
type InputError struct {
	Field  string
	Index  int
	Reason string
}

func (e *InputError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("lessons[%d].%s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// LessonStartName and LessonEndName name generated bells by 1-based lesson index.
func LessonStartName(n int) string { return fmt.Sprintf("Lesson %d start", n) }
func LessonEndName(n int) string   { return fmt.Sprintf("Lesson %d end", n) }

// Validate checks the whole request up front so generation never emits a partial day.
func (r GenerateRequest) Validate() error {
	if !ValidTime(r.StartTime) {
		return &InputError{Field: "startTime", Index: -1, Reason: "expected HH:MM (24h)"}
	}
	if !ValidWeekday(r.Day) {
		return &InputError{Field: "day", Index: -1, Reason: fmt.Sprintf("unknown weekday %q", r.Day)}
	}
	switch r.Mode {
	case ModeAppend, ModeOverwrite:
	default:
		return &InputError{Field: "mode", Index: -1, Reason: fmt.Sprintf("expected append or overwrite, got %q", r.Mode)}
	}
	if len(r.Lessons) == 0 {
		return &InputError{Field: "lessons", Index: -1, Reason: "at least one lesson required"}
	}
	for i, l := range r.Lessons {
		if l.LessonDuration <= 0 {
			return &InputError{Field: "lessonDuration", Index: i, Reason: "must be > 0"}
		}
		if l.BreakDuration < 0 {
			return &InputError{Field: "breakDuration", Index: i, Reason: "must be >= 0"}
		}
	}
	return nil
}

// GenerateDaySchedule expands the request into bell creation requests in ring order.
//
// Each lesson yields a start bell (type lesson, break 0) and an end bell (type
// break, carrying the following break length). Clock arithmetic wraps at midnight
// and every bell keeps the requested day. Bells carry no id; persisting them, and
// clearing the day first in overwrite mode, is the caller's job.
func GenerateDaySchedule(req GenerateRequest) ([]Bell, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	clock, _ := ParseHHMM(req.StartTime)
	sound := strings.TrimSpace(req.SoundID)
	if sound == "" {
		sound = DefaultSoundID
	}

	out := make([]Bell, 0, 2*len(req.Lessons))
	for i, l := range req.Lessons {
		n := i + 1
		out = append(out, Bell{
			ScheduleID: req.ScheduleID,
			Day:        req.Day,
			Time:       FormatHHMM(clock),
			Name:       LessonStartName(n),
			Enabled:    true,
			BellType:   BellLesson,
			SoundID:    sound,
		})
		clock += l.LessonDuration
		out = append(out, Bell{
			ScheduleID:    req.ScheduleID,
			Day:           req.Day,
			Time:          FormatHHMM(clock),
			Name:          LessonEndName(n),
			Enabled:       true,
			BellType:      BellBreak,
			BreakDuration: l.BreakDuration,
			SoundID:       sound,
		})
		clock += l.BreakDuration
	}
	return out, nil
}

// ParseLessons reads a compact plan like "45/10,45/10,45/0" (lesson/break minutes).
// A missing break ("45") means 0.
func ParseLessons(s string) ([]LessonConfig, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &InputError{Field: "lessons", Index: -1, Reason: "empty"}
	}
	parts := strings.Split(s, ",")
	out := make([]LessonConfig, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		lesson, brk, hasBreak := strings.Cut(p, "/")
		var lc LessonConfig
		var err error
		if lc.LessonDuration, err = strconv.Atoi(strings.TrimSpace(lesson)); err != nil {
			return nil, &InputError{Field: "lessonDuration", Index: i, Reason: fmt.Sprintf("not a number: %q", lesson)}
		}
		if hasBreak {
			if lc.BreakDuration, err = strconv.Atoi(strings.TrimSpace(brk)); err != nil {
				return nil, &InputError{Field: "breakDuration", Index: i, Reason: fmt.Sprintf("not a number: %q", brk)}
			}
		}
		out = append(out, lc)
	}
	return out, nil
}
